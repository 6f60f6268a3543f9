// Package sequencer turns high-level action requests into command targets
// and decides, cycle by cycle, when an action has finished.
package sequencer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBusy          = errors.New("sequencer: action already in progress")
	ErrUnknownAction = errors.New("sequencer: unknown action")
	ErrInvalidTarget = errors.New("sequencer: invalid target")
)

// Kind is the behaviour an action name maps to.
type Kind string

const (
	Grab   Kind = "GRAB"
	Return Kind = "RETURN"
	Custom Kind = "CUSTOM"
)

var actionKinds = map[string]Kind{
	"GRAB":          Grab,
	"RETURN":        Return,
	"CUSTOM":        Custom,
	"MANI_CONTROL":  Custom,
	"JOINT_CONTROL": Custom,
}

// ParseAction maps a wire action name to its kind.
func ParseAction(name string) (Kind, error) {
	k, ok := actionKinds[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return k, nil
}

// State of the sequencer.
type State int

const (
	Idle State = iota
	Active
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Active:
		return "ACTIVE"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Reason explains an ERROR status.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonDriverFault      Reason = "DRIVER_FAULT"
	ReasonActionTimeout    Reason = "ACTION_TIMEOUT"
	ReasonBusy             Reason = "BUSY"
	ReasonMalformedRequest Reason = "MALFORMED_REQUEST"
	ReasonUnknownAction    Reason = "UNKNOWN_ACTION"
	ReasonInvalidTarget    Reason = "INVALID_TARGET"
)

// ReasonFor classifies a Submit error.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrBusy):
		return ReasonBusy
	case errors.Is(err, ErrUnknownAction):
		return ReasonUnknownAction
	case errors.Is(err, ErrInvalidTarget):
		return ReasonInvalidTarget
	default:
		return ReasonMalformedRequest
	}
}

// Status values carried on completions and bus messages.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)
