package frame

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	maniConfig = ChannelConfig{
		Kind:        KindManipulation,
		Joints:      19,
		FingerLeft:  6,
		FingerRight: 6,
		ArmDOF:      7,
		NeckDOF:     2,
		LumbarDOF:   3,
	}
	jointConfig = ChannelConfig{
		Kind:        KindJoint,
		Joints:      31,
		FingerLeft:  6,
		FingerRight: 6,
	}
)

func TestLayout_Sizes(t *testing.T) {
	tests := []struct {
		name        string
		cfg         ChannelConfig
		commandSize int
		sensorSize  int
	}{
		// 12 mode header + 56 armCmd + 48 armFM + 24+24 fingers + 8 neck + 12 lumbar
		{"manipulation", maniConfig, 12 + 56 + 48 + 24 + 24 + 8 + 12, 898},
		// 16 header + 5*31 joint vectors + 12 fingers
		{"joint", jointConfig, 16 + 31*4*5 + 12*4, 1114},
		{"small manipulation", ChannelConfig{Kind: KindManipulation, Joints: 12, FingerLeft: 3, FingerRight: 3, ArmDOF: 7, NeckDOF: 2, LumbarDOF: 1},
			12 + 56 + 48 + 12 + 12 + 8 + 4, 88 + 12*12 + 12*6 + 12*12 + 12*4 + 144},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLayout(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.commandSize, l.CommandSize())
			assert.Equal(t, tt.sensorSize, l.SensorSize())
		})
	}
}

func TestLayout_OffsetsFollowConfig(t *testing.T) {
	small := maniConfig
	small.Joints = 12
	a := MustLayout(maniConfig)
	b := MustLayout(small)

	// Everything before the joint arrays is fixed.
	assert.Equal(t, a.Sensor.ActJ.Offset, b.Sensor.ActJ.Offset)
	assert.Equal(t, 88, a.Sensor.ActJ.Offset)
	// Everything after moves with the joint count.
	assert.Equal(t, a.Sensor.DrvErr.Offset-b.Sensor.DrvErr.Offset, 7*4*3+7*2*2)
	assert.Equal(t, a.Sensor.TipForce.End(), a.SensorSize())

	// Spans are contiguous with no padding.
	s := a.Sensor
	order := []Span{s.Size, s.Timestamp, s.Key, s.PlanName, s.State, s.Joy, s.RPY, s.Gyro, s.Acc,
		s.ActJ, s.ActW, s.ActT, s.DrvTemp, s.DrvState, s.DrvErr, s.TgtJ, s.TgtW, s.TgtT,
		s.ActFingerLeft, s.ActFingerRight, s.TgtFingerLeft, s.TgtFingerRight, s.TipPose, s.TipVel, s.TipForce}
	for i := 1; i < len(order); i++ {
		assert.Equal(t, order[i-1].End(), order[i].Offset, "span %d", i)
	}
}

func TestNewLayout_RejectsInvalidConfig(t *testing.T) {
	bad := []ChannelConfig{
		{Kind: KindManipulation, Joints: 0},
		{Kind: KindJoint, Joints: 32},
		{Kind: KindManipulation, Joints: 19, ArmDOF: -1},
		{Kind: 0, Joints: 19},
	}
	for _, cfg := range bad {
		_, err := NewLayout(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig, "%+v", cfg)
	}
}

func TestEncodeCommand_ScenarioA(t *testing.T) {
	l := MustLayout(maniConfig)
	cmd := NewCommand(maniConfig)
	cmd.InCharge, cmd.FilterLevel, cmd.ArmMode, cmd.FingerMode, cmd.NeckMode = 1, 1, 4, 3, 5
	copy(cmd.ArmLeft, []float32{0.4, 0.4, 0.1, 0, 0, 0, 0.5})
	copy(cmd.ArmRight, []float32{0.2, -0.4, 0.1, 0, 0, 0, 0.5})

	buf, err := EncodeCommand(cmd, l)
	require.NoError(t, err)
	require.Len(t, buf, 12+56+48+24+24+8+12)

	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(buf[0:]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(buf[4:]))
	assert.Equal(t, uint16(5), binary.LittleEndian.Uint16(buf[8:]))
	assert.Equal(t, float32(0.4), math.Float32frombits(binary.LittleEndian.Uint32(buf[12:])))
	// right arm y sits after the 7 left-arm floats
	assert.Equal(t, float32(-0.4), math.Float32frombits(binary.LittleEndian.Uint32(buf[12+7*4+4:])))
}

func TestEncodeCommand_SizeIndependentOfValues(t *testing.T) {
	for _, cfg := range []ChannelConfig{maniConfig, jointConfig} {
		l := MustLayout(cfg)
		zero, err := EncodeCommand(NewCommand(cfg), l)
		require.NoError(t, err)

		busy := NewCommand(cfg)
		busy.InCharge, busy.State = math.MaxInt16, math.MaxInt32
		for i := range busy.FingerLeft {
			busy.FingerLeft[i] = float32(math.Inf(1))
		}
		for i := range busy.J {
			busy.J[i] = -123.5
		}
		full, err := EncodeCommand(busy, l)
		require.NoError(t, err)
		assert.Len(t, full, len(zero))
		assert.Equal(t, l.CommandSize(), len(zero))
	}
}

func TestEncodeCommand_ShapeMismatch(t *testing.T) {
	l := MustLayout(maniConfig)
	cmd := NewCommand(maniConfig)
	cmd.FingerLeft = cmd.FingerLeft[:3]
	_, err := EncodeCommand(cmd, l)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestCommand_RoundTrip(t *testing.T) {
	for _, cfg := range []ChannelConfig{maniConfig, jointConfig} {
		t.Run(cfg.Kind.String(), func(t *testing.T) {
			l := MustLayout(cfg)
			in := NewCommand(cfg)
			if cfg.Kind == KindManipulation {
				in.InCharge, in.LumbarMode = 1, 7
			} else {
				in.State, in.TorqueLimitRate, in.FilterRate = 5, 0.2, 0.05
			}
			fill(in.ArmLeft, 0.1)
			fill(in.ArmFMRight, -2)
			fill(in.Lumbar, 0.3)
			fill(in.J, 1.5)
			fill(in.Kd, 0.01)
			fill(in.FingerRight, 40)

			buf, err := EncodeCommand(in, l)
			require.NoError(t, err)
			out, err := DecodeCommand(buf, l)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestJointCommand_Header(t *testing.T) {
	l := MustLayout(jointConfig)
	buf, err := EncodeCommand(NewCommand(jointConfig), l)
	require.NoError(t, err)
	assert.Equal(t, JointChecker, int16(binary.LittleEndian.Uint16(buf[0:])))
	assert.Equal(t, int16(l.CommandSize()), int16(binary.LittleEndian.Uint16(buf[2:])))
}

func TestSensor_RoundTrip(t *testing.T) {
	for _, cfg := range []ChannelConfig{maniConfig, jointConfig} {
		t.Run(cfg.Kind.String(), func(t *testing.T) {
			l := MustLayout(cfg)
			in := sampleSensor(cfg, l)

			buf, err := EncodeSensor(in, l)
			require.NoError(t, err)
			require.Len(t, buf, l.SensorSize())

			out, err := DecodeSensor(buf, l)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestDecodeSensor_AcceptsTrailingBytes(t *testing.T) {
	l := MustLayout(maniConfig)
	in := sampleSensor(maniConfig, l)
	buf, err := EncodeSensor(in, l)
	require.NoError(t, err)

	// The reference simulator appends target tip arrays.
	buf = append(buf, make([]byte, 3*48)...)
	out, err := DecodeSensor(buf, l)
	require.NoError(t, err)
	assert.Equal(t, in.ActJ, out.ActJ)
}

func TestDecodeSensor_TruncatedNeverPanics(t *testing.T) {
	for _, cfg := range []ChannelConfig{maniConfig, jointConfig} {
		l := MustLayout(cfg)
		full, err := EncodeSensor(sampleSensor(cfg, l), l)
		require.NoError(t, err)

		for n := 0; n < len(full); n++ {
			_, err := DecodeSensor(full[:n], l)
			if !errors.Is(err, ErrTruncatedFrame) {
				t.Fatalf("%s: len %d: expected ErrTruncatedFrame, got %v", cfg.Kind, n, err)
			}
		}
	}
}

func TestDecodeSensor_FourBytesShort(t *testing.T) {
	l := MustLayout(maniConfig)
	full, err := EncodeSensor(sampleSensor(maniConfig, l), l)
	require.NoError(t, err)

	_, err = DecodeSensor(full[:len(full)-4], l)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestPlanName(t *testing.T) {
	l := MustLayout(maniConfig)

	t.Run("padded", func(t *testing.T) {
		s := sampleSensor(maniConfig, l)
		s.PlanName = "mani"
		buf, err := EncodeSensor(s, l)
		require.NoError(t, err)
		slot := buf[l.Sensor.PlanName.Offset:l.Sensor.PlanName.End()]
		assert.Equal(t, append([]byte("mani"), make([]byte, 12)...), slot)
	})

	t.Run("truncated", func(t *testing.T) {
		s := sampleSensor(maniConfig, l)
		s.PlanName = "a_plan_name_longer_than_sixteen"
		buf, err := EncodeSensor(s, l)
		require.NoError(t, err)
		require.Len(t, buf, l.SensorSize())
		out, err := DecodeSensor(buf, l)
		require.NoError(t, err)
		assert.Equal(t, "a_plan_name_long", out.PlanName)
	})

	t.Run("truncated on a character boundary", func(t *testing.T) {
		s := sampleSensor(maniConfig, l)
		s.PlanName = "grasp_plan_位置" // 17 bytes, the second character straddles the slot end
		buf, err := EncodeSensor(s, l)
		require.NoError(t, err)
		out, err := DecodeSensor(buf, l)
		require.NoError(t, err)
		assert.Equal(t, "grasp_plan_位", out.PlanName)
	})

	t.Run("invalid utf-8", func(t *testing.T) {
		s := sampleSensor(maniConfig, l)
		buf, err := EncodeSensor(s, l)
		require.NoError(t, err)
		copy(buf[l.Sensor.PlanName.Offset:], []byte{0xff, 0xfe, 'x'})

		out, err := DecodeSensor(buf, l)
		assert.ErrorIs(t, err, ErrMalformedField)
		assert.Equal(t, "", out.PlanName)
		// the rest of the frame is still decoded
		assert.Equal(t, s.ActJ, out.ActJ)
		assert.Equal(t, s.TipPose, out.TipPose)
	})
}

func TestSensor_DriverFault(t *testing.T) {
	s := NewSensor(maniConfig)
	assert.False(t, s.HasDriverFault())
	s.DrvErr[4] = 2
	assert.True(t, s.HasDriverFault())
	assert.Equal(t, 4, s.FaultyJoint())
}

func TestCommand_CloneIsDeep(t *testing.T) {
	a := NewCommand(maniConfig)
	b := a.Clone()
	b.ArmLeft[0] = 9
	b.FingerRight[1] = 9
	assert.Zero(t, a.ArmLeft[0])
	assert.Zero(t, a.FingerRight[1])
}

func sampleSensor(cfg ChannelConfig, l *Layout) Sensor {
	s := NewSensor(cfg)
	s.Size = int32(l.SensorSize())
	s.Timestamp = 1718000000.125
	s.Key = [2]int16{1, 2}
	s.PlanName = "mani_plan"
	s.State = [2]int16{0, 1}
	s.Joy = [4]float32{0.1, -0.2, 0.3, -0.4}
	s.RPY = [3]float32{0.05, -0.02, 0.01}
	s.Gyro = [3]float32{0.01, 0.02, -0.01}
	s.Acc = [3]float32{9.8, 0.1, -0.2}
	for i := range s.ActJ {
		s.ActJ[i] = float32(i)*0.1 + 0.01
		s.ActW[i] = 0.02 * float32(i)
		s.ActT[i] = 0.5 * float32(i)
		s.DrvTemp[i] = int16(30 + i)
		s.TgtJ[i] = float32(i) * 0.1
	}
	fill(s.ActFingerLeft, 0.3)
	fill(s.ActFingerRight, 0.2)
	fill(s.TgtFingerLeft, 0.3)
	fill(s.TgtFingerRight, 0.2)
	if cfg.Kind == KindManipulation {
		s.TipPose = [2][6]float32{{0.4, 0.3, 0.1, 0, 0, 0}, {0.2, -0.3, 0.1, 0, 0, 0}}
		s.TipForce[1][2] = -1.5
	}
	return s
}

func fill(v []float32, x float32) {
	for i := range v {
		v[i] = x
	}
}
