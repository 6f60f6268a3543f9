package sequencer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gwillem/loong/pkg/frame"
	"github.com/gwillem/loong/pkg/observability"
	"github.com/gwillem/loong/pkg/robot"
	"github.com/rs/zerolog"
)

const completionBuffer = 16

// CommandStore is where the sequencer reads and publishes the command
// record. The control loop implements it.
type CommandStore interface {
	Command() frame.Command
	SetCommand(frame.Command) error
}

// Request is one decoded action request.
type Request struct {
	ID     string
	Action string
	Target Target
	// Cycles overrides the budget for this request when positive.
	Cycles int
}

// PendingAction is the in-flight action.
type PendingAction struct {
	ID         string           `json:"id"`
	Action     string           `json:"action"`
	Kind       Kind             `json:"kind"`
	Issued     time.Time        `json:"issued"`
	Budget     int              `json:"budget"`
	Remaining  int              `json:"remaining"`
	Elapsed    int              `json:"elapsed"`
	Completion CustomCompletion `json:"completion,omitempty"`

	target Target
	cmd    frame.Command
}

// Feedback summarises the last frame seen by an action.
type Feedback struct {
	Timestamp   float64    `json:"timestamp"`
	PlanName    string     `json:"plan_name,omitempty"`
	FingerLeft  []float32  `json:"finger_left"`
	FingerRight []float32  `json:"finger_right"`
	ArmJoints   []float32  `json:"arm_joints,omitempty"`
	TipLeft     [6]float32 `json:"tip_left"`
	TipRight    [6]float32 `json:"tip_right"`
	MaxDrvTemp  int16      `json:"max_drv_temp"`
	FaultyJoint int        `json:"faulty_joint"`
	DrvErr      int16      `json:"drv_err,omitempty"`
}

// Completion is emitted once per accepted action.
type Completion struct {
	ID       string    `json:"id"`
	Action   string    `json:"action"`
	Kind     Kind      `json:"kind"`
	Status   string    `json:"status"`
	Reason   Reason    `json:"reason,omitempty"`
	Error    string    `json:"error,omitempty"`
	Cycles   int       `json:"cycles"`
	Issued   time.Time `json:"issued"`
	Finished time.Time `json:"finished"`
	Feedback *Feedback `json:"feedback,omitempty"`
}

// OK reports a SUCCESS completion.
func (c Completion) OK() bool { return c.Status == StatusSuccess }

// Config holds configuration for the sequencer.
type Config struct {
	Name    string
	Channel frame.ChannelConfig
	Policy  Policy
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Sequencer runs at most one action at a time for one channel.
type Sequencer struct {
	name   string
	cfg    frame.ChannelConfig
	policy Policy
	store  CommandStore
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	state   State
	pending *PendingAction
	last    *Completion
	sensor  *frame.Sensor

	completions chan Completion
}

func New(cfg Config, store CommandStore) *Sequencer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Channel.Kind.String()
	}
	p := cfg.Policy
	def := DefaultPolicy()
	if p.Budget <= 0 {
		p.Budget = def.Budget
	}
	if p.CustomCycles <= 0 {
		p.CustomCycles = def.CustomCycles
	}
	if p.CustomCompletion == "" {
		p.CustomCompletion = def.CustomCompletion
	}
	return &Sequencer{
		name:        cfg.Name,
		cfg:         cfg.Channel,
		policy:      p,
		store:       store,
		log:         cfg.Logger.With().Str("channel", cfg.Name).Logger(),
		now:         cfg.Now,
		completions: make(chan Completion, completionBuffer),
	}
}

// Completions delivers one value per finished action.
func (s *Sequencer) Completions() <-chan Completion { return s.completions }

// State returns the current state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the in-flight action, if any.
func (s *Sequencer) Pending() (PendingAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return PendingAction{}, false
	}
	return *s.pending, true
}

// Last returns the most recent completion.
func (s *Sequencer) Last() (Completion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Completion{}, false
	}
	return *s.last, true
}

// Submit starts an action. It fails with ErrBusy while another action is
// active, in which case nothing is changed. Failed is a resting state and
// accepts new requests.
func (s *Sequencer) Submit(req Request) (PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Active {
		return PendingAction{}, fmt.Errorf("%w: %s %s", ErrBusy, s.pending.Action, s.pending.ID)
	}
	kind, err := ParseAction(req.Action)
	if err != nil {
		return PendingAction{}, err
	}

	cmd := s.store.Command()
	if err := s.writeTargets(kind, req.Target, &cmd); err != nil {
		return PendingAction{}, err
	}
	if err := s.store.SetCommand(cmd); err != nil {
		return PendingAction{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	p := &PendingAction{
		ID:     id,
		Action: req.Action,
		Kind:   kind,
		Issued: s.now(),
		target: req.Target,
		cmd:    cmd,
	}
	switch {
	case req.Cycles > 0:
		p.Budget = req.Cycles
	case kind == Custom && s.policy.CustomCompletion == CompleteByCycles:
		p.Budget = s.policy.CustomCycles
	default:
		p.Budget = s.policy.Budget
	}
	if kind == Custom {
		p.Completion = s.policy.CustomCompletion
	}
	p.Remaining = p.Budget

	s.pending = p
	s.state = Active
	s.log.Info().
		Str("id", p.ID).
		Str("action", p.Action).
		Int("budget", p.Budget).
		Msg("action started")
	return *p, nil
}

// writeTargets applies the action's policy pose and then the request target.
func (s *Sequencer) writeTargets(kind Kind, t Target, cmd *frame.Command) error {
	switch kind {
	case Grab:
		if s.cfg.Kind == frame.KindManipulation {
			fill(cmd.ArmLeft, s.policy.GrabArmLeft)
			fill(cmd.ArmRight, s.policy.GrabArmRight)
		}
		setAll(cmd.FingerLeft, s.policy.GrabFinger)
		setAll(cmd.FingerRight, s.policy.GrabFinger)
	case Return:
		switch s.cfg.Kind {
		case frame.KindManipulation:
			fill(cmd.ArmLeft, s.policy.HomeArmLeft)
			fill(cmd.ArmRight, s.policy.HomeArmRight)
		case frame.KindJoint:
			if len(s.policy.HomeJoints) > 0 {
				off := s.policy.HomeJointOffset
				if off+len(s.policy.HomeJoints) > len(cmd.J) {
					return fmt.Errorf("%w: home joints exceed the joint vector", ErrInvalidTarget)
				}
				copy(cmd.J[off:], s.policy.HomeJoints)
			}
		}
		setAll(cmd.FingerLeft, 0)
		setAll(cmd.FingerRight, 0)
	}
	return t.Apply(s.cfg, cmd)
}

// Step advances the active action by one control cycle. sensor is nil when
// no frame arrived in that cycle. A driver fault fails the action at once;
// otherwise the completion predicate is checked and the budget decremented,
// so an action whose predicate never holds leaves Active after exactly
// Budget steps.
func (s *Sequencer) Step(sensor *frame.Sensor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sensor != nil {
		s.sensor = sensor
	}
	if s.state != Active {
		return
	}
	p := s.pending
	p.Elapsed++

	if sensor != nil && sensor.HasDriverFault() {
		j := sensor.FaultyJoint()
		s.finish(Failed, StatusError, ReasonDriverFault,
			fmt.Sprintf("driver error %d on joint %d", sensor.DrvErr[j], j))
		return
	}
	if sensor != nil && s.satisfied(p, sensor) {
		s.finish(Idle, StatusSuccess, ReasonNone, "")
		return
	}
	p.Remaining--
	if p.Remaining > 0 {
		return
	}
	if p.Kind == Custom && p.Completion == CompleteByCycles {
		s.finish(Idle, StatusSuccess, ReasonNone, "")
		return
	}
	s.finish(Failed, StatusError, ReasonActionTimeout,
		fmt.Sprintf("no completion after %d cycles", p.Budget))
}

func (s *Sequencer) satisfied(p *PendingAction, sensor *frame.Sensor) bool {
	switch p.Kind {
	case Grab:
		return s.grabbed(p, sensor)
	case Return:
		return s.policy.returnReached(s.cfg, p.cmd, sensor)
	case Custom:
		if p.Completion != CompleteByFeedback {
			return false
		}
		return s.matchesFeedback(p, sensor)
	}
	return false
}

// grabbed is true when every finger of both hands reached its threshold.
// Without finger DOF there is nothing to observe and the budget decides.
func (s *Sequencer) grabbed(p *PendingAction, sensor *frame.Sensor) bool {
	if len(p.cmd.FingerLeft)+len(p.cmd.FingerRight) == 0 {
		return false
	}
	check := func(cmd, act []float32) bool {
		if len(act) < len(cmd) {
			return false
		}
		for i, c := range cmd {
			if act[i] < s.policy.grabFingerThreshold(c) {
				return false
			}
		}
		return true
	}
	return check(p.cmd.FingerLeft, sensor.ActFingerLeft) &&
		check(p.cmd.FingerRight, sensor.ActFingerRight)
}

// matchesFeedback compares the fields the request set with the feedback.
func (s *Sequencer) matchesFeedback(p *PendingAction, sensor *frame.Sensor) bool {
	tol := s.policy.ReturnTolerance
	t := p.target
	if t.FingerLeft != nil && !fingerMatch(p.cmd.FingerLeft, sensor.ActFingerLeft, tol) {
		return false
	}
	if t.FingerRight != nil && !fingerMatch(p.cmd.FingerRight, sensor.ActFingerRight, tol) {
		return false
	}
	if !t.HasArms() {
		return true
	}
	if s.cfg.Kind == frame.KindJoint {
		return robot.Pose(p.cmd.J).Within(sensor.ActJ, tol)
	}
	return armsReached(s.cfg, p.cmd, sensor, tol)
}

func fingerMatch(cmd, act []float32, tol float32) bool {
	return len(act) >= len(cmd) && robot.Pose(cmd).Within(act, tol)
}

func (s *Sequencer) finish(next State, status string, reason Reason, msg string) {
	p := s.pending
	c := Completion{
		ID:       p.ID,
		Action:   p.Action,
		Kind:     p.Kind,
		Status:   status,
		Reason:   reason,
		Error:    msg,
		Cycles:   p.Elapsed,
		Issued:   p.Issued,
		Finished: s.now(),
	}
	if s.sensor != nil {
		c.Feedback = Summarize(s.cfg, s.sensor)
	}
	s.state = next
	s.pending = nil
	s.last = &c

	ev := s.log.Info()
	if status != StatusSuccess {
		ev = s.log.Warn().Str("reason", string(reason)).Str("error", msg)
	}
	ev.Str("id", c.ID).Str("action", c.Action).Int("cycles", c.Cycles).Msg("action finished")
	observability.RecordAction(s.name, string(c.Kind), status, string(reason), c.Cycles)

	select {
	case s.completions <- c:
		return
	default:
	}
	select {
	case dropped := <-s.completions:
		s.log.Error().Str("id", dropped.ID).Msg("completion queue full, dropping oldest")
	default:
	}
	select {
	case s.completions <- c:
	default:
		s.log.Error().Str("id", c.ID).Msg("completion queue full, dropping")
	}
}

// Summarize condenses a sensor frame into the feedback carried on statuses.
func Summarize(cfg frame.ChannelConfig, sensor *frame.Sensor) *Feedback {
	f := &Feedback{
		Timestamp:   sensor.Timestamp,
		PlanName:    sensor.PlanName,
		FingerLeft:  append([]float32(nil), sensor.ActFingerLeft...),
		FingerRight: append([]float32(nil), sensor.ActFingerRight...),
		TipLeft:     sensor.TipPose[0],
		TipRight:    sensor.TipPose[1],
		FaultyJoint: sensor.FaultyJoint(),
	}
	if n := min(2*cfg.ArmDOF, len(sensor.ActJ)); n > 0 {
		f.ArmJoints = append([]float32(nil), sensor.ActJ[:n]...)
	}
	for _, t := range sensor.DrvTemp {
		f.MaxDrvTemp = max(f.MaxDrvTemp, t)
	}
	if f.FaultyJoint >= 0 {
		f.DrvErr = sensor.DrvErr[f.FaultyJoint]
	}
	return f
}

func tail(v []float32, off int) []float32 {
	if off >= len(v) {
		return nil
	}
	return v[off:]
}

func setAll(v []float32, x float32) {
	for i := range v {
		v[i] = x
	}
}
