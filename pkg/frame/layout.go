package frame

// Element widths in bytes.
const (
	widthI16 = 2
	widthI32 = 4
	widthF32 = 4
	widthF64 = 8
	widthRaw = 1
)

// Fixed field sizes shared by every channel.
const (
	PlanNameLen = 16
	modeCount   = 6
	tipDOF      = 6
	armCount    = 2
)

// Span locates one field inside a frame.
type Span struct {
	Offset int
	Count  int
	Width  int
}

// Len is the number of bytes the field occupies.
func (s Span) Len() int { return s.Count * s.Width }

// End is the offset of the first byte after the field.
func (s Span) End() int { return s.Offset + s.Len() }

// CommandLayout holds the outbound field offsets. Only the spans belonging to
// the channel kind are populated; the rest are zero.
type CommandLayout struct {
	// manipulation
	Modes  Span
	ArmCmd Span
	ArmFM  Span
	Neck   Span
	Lumbar Span

	// joint
	Checker     Span
	Size        Span
	State       Span
	TorqueLimit Span
	FilterRate  Span
	J, W, T     Span
	Kp, Kd      Span

	FingerLeft  Span
	FingerRight Span

	size int
}

// SensorLayout holds the inbound field offsets.
type SensorLayout struct {
	Size      Span
	Timestamp Span
	Key       Span
	PlanName  Span
	State     Span
	Joy       Span
	RPY       Span
	Gyro      Span
	Acc       Span

	ActJ, ActW, ActT          Span
	DrvTemp, DrvState, DrvErr Span
	TgtJ, TgtW, TgtT          Span

	ActFingerLeft, ActFingerRight Span
	TgtFingerLeft, TgtFingerRight Span

	// manipulation only
	TipPose, TipVel, TipForce Span

	size int
}

// Layout is the offset table for one channel. It is immutable once built.
type Layout struct {
	cfg     ChannelConfig
	Command CommandLayout
	Sensor  SensorLayout
}

type builder struct{ off int }

func (b *builder) next(count, width int) Span {
	s := Span{Offset: b.off, Count: count, Width: width}
	b.off += s.Len()
	return s
}

// NewLayout validates cfg and derives every command and sensor offset from it.
func NewLayout(cfg ChannelConfig) (*Layout, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Layout{cfg: cfg}
	l.Command = commandLayout(cfg)
	l.Sensor = sensorLayout(cfg)
	return l, nil
}

// MustLayout is NewLayout for configs known to be valid.
func MustLayout(cfg ChannelConfig) *Layout {
	l, err := NewLayout(cfg)
	if err != nil {
		panic(err)
	}
	return l
}

// Config returns the ChannelConfig the layout was derived from.
func (l *Layout) Config() ChannelConfig { return l.cfg }

// CommandSize is the exact length of an encoded command frame.
func (l *Layout) CommandSize() int { return l.Command.size }

// SensorSize is the minimum length of a decodable sensor frame.
func (l *Layout) SensorSize() int { return l.Sensor.size }

func commandLayout(cfg ChannelConfig) CommandLayout {
	var b builder
	var c CommandLayout
	switch cfg.Kind {
	case KindManipulation:
		c.Modes = b.next(modeCount, widthI16)
		c.ArmCmd = b.next(armCount*cfg.ArmDOF, widthF32)
		c.ArmFM = b.next(armCount*tipDOF, widthF32)
		c.FingerLeft = b.next(cfg.FingerLeft, widthF32)
		c.FingerRight = b.next(cfg.FingerRight, widthF32)
		c.Neck = b.next(cfg.NeckDOF, widthF32)
		c.Lumbar = b.next(cfg.LumbarDOF, widthF32)
	case KindJoint:
		c.Checker = b.next(1, widthI16)
		c.Size = b.next(1, widthI16)
		c.State = b.next(1, widthI32)
		c.TorqueLimit = b.next(1, widthF32)
		c.FilterRate = b.next(1, widthF32)
		c.J = b.next(cfg.Joints, widthF32)
		c.W = b.next(cfg.Joints, widthF32)
		c.T = b.next(cfg.Joints, widthF32)
		c.Kp = b.next(cfg.Joints, widthF32)
		c.Kd = b.next(cfg.Joints, widthF32)
		c.FingerLeft = b.next(cfg.FingerLeft, widthF32)
		c.FingerRight = b.next(cfg.FingerRight, widthF32)
	}
	c.size = b.off
	return c
}

func sensorLayout(cfg ChannelConfig) SensorLayout {
	var b builder
	var s SensorLayout
	s.Size = b.next(1, widthI32)
	s.Timestamp = b.next(1, widthF64)
	s.Key = b.next(2, widthI16)
	s.PlanName = b.next(PlanNameLen, widthRaw)
	s.State = b.next(2, widthI16)
	s.Joy = b.next(4, widthF32)
	s.RPY = b.next(3, widthF32)
	s.Gyro = b.next(3, widthF32)
	s.Acc = b.next(3, widthF32)

	n := cfg.Joints
	s.ActJ = b.next(n, widthF32)
	s.ActW = b.next(n, widthF32)
	s.ActT = b.next(n, widthF32)
	s.DrvTemp = b.next(n, widthI16)
	s.DrvState = b.next(n, widthI16)
	s.DrvErr = b.next(n, widthI16)
	s.TgtJ = b.next(n, widthF32)
	s.TgtW = b.next(n, widthF32)
	s.TgtT = b.next(n, widthF32)

	s.ActFingerLeft = b.next(cfg.FingerLeft, widthF32)
	s.ActFingerRight = b.next(cfg.FingerRight, widthF32)
	s.TgtFingerLeft = b.next(cfg.FingerLeft, widthF32)
	s.TgtFingerRight = b.next(cfg.FingerRight, widthF32)

	if cfg.Kind == KindManipulation {
		s.TipPose = b.next(armCount*tipDOF, widthF32)
		s.TipVel = b.next(armCount*tipDOF, widthF32)
		s.TipForce = b.next(armCount*tipDOF, widthF32)
	}
	s.size = b.off
	return s
}
