package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

var le = binary.LittleEndian

// EncodeCommand packs cmd into a buffer of exactly l.CommandSize() bytes.
func EncodeCommand(cmd Command, l *Layout) ([]byte, error) {
	if err := cmd.CheckShape(l.cfg); err != nil {
		return nil, err
	}
	c := l.Command
	buf := make([]byte, c.size)
	switch l.cfg.Kind {
	case KindManipulation:
		putI16s(buf, c.Modes, []int16{cmd.InCharge, cmd.FilterLevel, cmd.ArmMode, cmd.FingerMode, cmd.NeckMode, cmd.LumbarMode})
		putF32s(buf, c.ArmCmd, cmd.ArmLeft, cmd.ArmRight)
		putF32s(buf, c.ArmFM, cmd.ArmFMLeft, cmd.ArmFMRight)
		putF32s(buf, c.FingerLeft, cmd.FingerLeft)
		putF32s(buf, c.FingerRight, cmd.FingerRight)
		putF32s(buf, c.Neck, cmd.Neck)
		putF32s(buf, c.Lumbar, cmd.Lumbar)
	case KindJoint:
		putI16s(buf, c.Checker, []int16{cmd.Checker})
		putI16s(buf, c.Size, []int16{int16(c.size)})
		le.PutUint32(buf[c.State.Offset:], uint32(cmd.State))
		putF32s(buf, c.TorqueLimit, []float32{cmd.TorqueLimitRate})
		putF32s(buf, c.FilterRate, []float32{cmd.FilterRate})
		putF32s(buf, c.J, cmd.J)
		putF32s(buf, c.W, cmd.W)
		putF32s(buf, c.T, cmd.T)
		putF32s(buf, c.Kp, cmd.Kp)
		putF32s(buf, c.Kd, cmd.Kd)
		putF32s(buf, c.FingerLeft, cmd.FingerLeft)
		putF32s(buf, c.FingerRight, cmd.FingerRight)
	}
	return buf, nil
}

// DecodeCommand is the inverse of EncodeCommand. It is what the actuator side
// of a channel runs.
func DecodeCommand(buf []byte, l *Layout) (Command, error) {
	c := l.Command
	if len(buf) < c.size {
		return Command{}, fmt.Errorf("%w: command has %d bytes, want %d", ErrTruncatedFrame, len(buf), c.size)
	}
	cmd := NewCommand(l.cfg)
	switch l.cfg.Kind {
	case KindManipulation:
		modes := make([]int16, modeCount)
		getI16s(buf, c.Modes, modes)
		cmd.InCharge, cmd.FilterLevel, cmd.ArmMode = modes[0], modes[1], modes[2]
		cmd.FingerMode, cmd.NeckMode, cmd.LumbarMode = modes[3], modes[4], modes[5]
		getF32s(buf, c.ArmCmd, cmd.ArmLeft, cmd.ArmRight)
		getF32s(buf, c.ArmFM, cmd.ArmFMLeft, cmd.ArmFMRight)
		getF32s(buf, c.FingerLeft, cmd.FingerLeft)
		getF32s(buf, c.FingerRight, cmd.FingerRight)
		getF32s(buf, c.Neck, cmd.Neck)
		getF32s(buf, c.Lumbar, cmd.Lumbar)
	case KindJoint:
		cmd.Checker = int16(le.Uint16(buf[c.Checker.Offset:]))
		cmd.State = int32(le.Uint32(buf[c.State.Offset:]))
		cmd.TorqueLimitRate = math.Float32frombits(le.Uint32(buf[c.TorqueLimit.Offset:]))
		cmd.FilterRate = math.Float32frombits(le.Uint32(buf[c.FilterRate.Offset:]))
		getF32s(buf, c.J, cmd.J)
		getF32s(buf, c.W, cmd.W)
		getF32s(buf, c.T, cmd.T)
		getF32s(buf, c.Kp, cmd.Kp)
		getF32s(buf, c.Kd, cmd.Kd)
		getF32s(buf, c.FingerLeft, cmd.FingerLeft)
		getF32s(buf, c.FingerRight, cmd.FingerRight)
	}
	return cmd, nil
}

// EncodeSensor packs s into a buffer of exactly l.SensorSize() bytes. The
// size field is written as given; actuators normally set it to the frame
// length.
func EncodeSensor(s Sensor, l *Layout) ([]byte, error) {
	if err := checkSensorShape(s, l.cfg); err != nil {
		return nil, err
	}
	sl := l.Sensor
	buf := make([]byte, sl.size)
	le.PutUint32(buf[sl.Size.Offset:], uint32(s.Size))
	le.PutUint64(buf[sl.Timestamp.Offset:], math.Float64bits(s.Timestamp))
	putI16s(buf, sl.Key, s.Key[:])
	copy(buf[sl.PlanName.Offset:], clipUTF8(s.PlanName, sl.PlanName.Len()))
	putI16s(buf, sl.State, s.State[:])
	putF32s(buf, sl.Joy, s.Joy[:])
	putF32s(buf, sl.RPY, s.RPY[:])
	putF32s(buf, sl.Gyro, s.Gyro[:])
	putF32s(buf, sl.Acc, s.Acc[:])
	putF32s(buf, sl.ActJ, s.ActJ)
	putF32s(buf, sl.ActW, s.ActW)
	putF32s(buf, sl.ActT, s.ActT)
	putI16s(buf, sl.DrvTemp, s.DrvTemp)
	putI16s(buf, sl.DrvState, s.DrvState)
	putI16s(buf, sl.DrvErr, s.DrvErr)
	putF32s(buf, sl.TgtJ, s.TgtJ)
	putF32s(buf, sl.TgtW, s.TgtW)
	putF32s(buf, sl.TgtT, s.TgtT)
	putF32s(buf, sl.ActFingerLeft, s.ActFingerLeft)
	putF32s(buf, sl.ActFingerRight, s.ActFingerRight)
	putF32s(buf, sl.TgtFingerLeft, s.TgtFingerLeft)
	putF32s(buf, sl.TgtFingerRight, s.TgtFingerRight)
	if l.cfg.Kind == KindManipulation {
		putF32s(buf, sl.TipPose, s.TipPose[0][:], s.TipPose[1][:])
		putF32s(buf, sl.TipVel, s.TipVel[0][:], s.TipVel[1][:])
		putF32s(buf, sl.TipForce, s.TipForce[0][:], s.TipForce[1][:])
	}
	return buf, nil
}

// DecodeSensor unpacks one feedback frame.
//
// A buffer shorter than l.SensorSize() yields ErrTruncatedFrame and no record.
// Trailing bytes past the layout are ignored. A plan name that is not valid
// UTF-8 is replaced by "" and reported as ErrMalformedField alongside the
// otherwise complete record, which callers should keep.
func DecodeSensor(buf []byte, l *Layout) (Sensor, error) {
	sl := l.Sensor
	if len(buf) < sl.size {
		return Sensor{}, fmt.Errorf("%w: sensor frame has %d bytes, want %d", ErrTruncatedFrame, len(buf), sl.size)
	}
	s := NewSensor(l.cfg)
	s.Size = int32(le.Uint32(buf[sl.Size.Offset:]))
	s.Timestamp = math.Float64frombits(le.Uint64(buf[sl.Timestamp.Offset:]))
	getI16s(buf, sl.Key, s.Key[:])
	name, nameErr := DecodePlanName(buf[sl.PlanName.Offset:sl.PlanName.End()])
	s.PlanName = name
	getI16s(buf, sl.State, s.State[:])
	getF32s(buf, sl.Joy, s.Joy[:])
	getF32s(buf, sl.RPY, s.RPY[:])
	getF32s(buf, sl.Gyro, s.Gyro[:])
	getF32s(buf, sl.Acc, s.Acc[:])
	getF32s(buf, sl.ActJ, s.ActJ)
	getF32s(buf, sl.ActW, s.ActW)
	getF32s(buf, sl.ActT, s.ActT)
	getI16s(buf, sl.DrvTemp, s.DrvTemp)
	getI16s(buf, sl.DrvState, s.DrvState)
	getI16s(buf, sl.DrvErr, s.DrvErr)
	getF32s(buf, sl.TgtJ, s.TgtJ)
	getF32s(buf, sl.TgtW, s.TgtW)
	getF32s(buf, sl.TgtT, s.TgtT)
	getF32s(buf, sl.ActFingerLeft, s.ActFingerLeft)
	getF32s(buf, sl.ActFingerRight, s.ActFingerRight)
	getF32s(buf, sl.TgtFingerLeft, s.TgtFingerLeft)
	getF32s(buf, sl.TgtFingerRight, s.TgtFingerRight)
	if l.cfg.Kind == KindManipulation {
		getF32s(buf, sl.TipPose, s.TipPose[0][:], s.TipPose[1][:])
		getF32s(buf, sl.TipVel, s.TipVel[0][:], s.TipVel[1][:])
		getF32s(buf, sl.TipForce, s.TipForce[0][:], s.TipForce[1][:])
	}
	return s, nameErr
}

// DecodePlanName reads the fixed 16-byte plan name slot.
func DecodePlanName(b []byte) (string, error) {
	b = bytes.TrimRight(b, "\x00")
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: plan name is not valid utf-8", ErrMalformedField)
	}
	return string(b), nil
}

func checkSensorShape(s Sensor, cfg ChannelConfig) error {
	n := cfg.Joints
	for _, f := range []struct {
		name      string
		got, want int
	}{
		{"act_j", len(s.ActJ), n}, {"act_w", len(s.ActW), n}, {"act_t", len(s.ActT), n},
		{"drv_temp", len(s.DrvTemp), n}, {"drv_state", len(s.DrvState), n}, {"drv_err", len(s.DrvErr), n},
		{"tgt_j", len(s.TgtJ), n}, {"tgt_w", len(s.TgtW), n}, {"tgt_t", len(s.TgtT), n},
		{"act_finger_left", len(s.ActFingerLeft), cfg.FingerLeft},
		{"act_finger_right", len(s.ActFingerRight), cfg.FingerRight},
		{"tgt_finger_left", len(s.TgtFingerLeft), cfg.FingerLeft},
		{"tgt_finger_right", len(s.TgtFingerRight), cfg.FingerRight},
	} {
		if f.got != f.want {
			return fmt.Errorf("%w: %s has %d values, want %d", ErrShapeMismatch, f.name, f.got, f.want)
		}
	}
	return nil
}

// putF32s writes the concatenation of parts into span. Shapes are checked by
// the callers, so the parts always fill the span exactly.
func putF32s(buf []byte, s Span, parts ...[]float32) {
	off := s.Offset
	for _, p := range parts {
		for _, v := range p {
			le.PutUint32(buf[off:], math.Float32bits(v))
			off += widthF32
		}
	}
}

func getF32s(buf []byte, s Span, parts ...[]float32) {
	off := s.Offset
	for _, p := range parts {
		for i := range p {
			p[i] = math.Float32frombits(le.Uint32(buf[off:]))
			off += widthF32
		}
	}
}

// clipUTF8 cuts name to at most n bytes without splitting a character.
func clipUTF8(name string, n int) string {
	if len(name) <= n {
		return name
	}
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n]
}

func putI16s(buf []byte, s Span, vals []int16) {
	off := s.Offset
	for _, v := range vals {
		le.PutUint16(buf[off:], uint16(v))
		off += widthI16
	}
}

func getI16s(buf []byte, s Span, vals []int16) {
	off := s.Offset
	for i := range vals {
		vals[i] = int16(le.Uint16(buf[off:]))
		off += widthI16
	}
}
