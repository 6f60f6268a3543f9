package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type arrowBytes struct{ b []byte }

func (a arrowBytes) Bytes() []byte { return a.b }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
		err  error
	}{
		{"bytes", []byte(`{"action":"GRAB"}`), `{"action":"GRAB"}`, nil},
		{"raw message", json.RawMessage(`{}`), `{}`, nil},
		{"string", "RETURN", "RETURN", nil},
		{"byte array", arrowBytes{[]byte("hi")}, "hi", nil},
		{"int", 42, "", ErrUnsupportedPayload},
		{"nil", nil, "", ErrUnsupportedPayload},
		{"map", map[string]any{"action": "GRAB"}, "", ErrUnsupportedPayload},
		{"invalid utf-8", []byte{0xff, 0xfe}, "", ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestDecodeRequest_NestedTarget(t *testing.T) {
	req, err := DecodeRequest(`{"action":"MANI_CONTROL","id":"r1","cycles":20,"target":{"finger_left":[1,2]}}`)
	require.NoError(t, err)
	assert.Equal(t, "MANI_CONTROL", req.Action)
	assert.Equal(t, "r1", req.ID)
	assert.Equal(t, 20, req.Cycles)
	assert.JSONEq(t, `{"finger_left":[1,2]}`, string(req.Target))
}

func TestDecodeRequest_FlatTarget(t *testing.T) {
	raw := `{"action":"GRAB","finger_left":[0.8,0.8,0.8]}`
	req, err := DecodeRequest(arrowBytes{[]byte(raw)})
	require.NoError(t, err)
	assert.Equal(t, "GRAB", req.Action)
	assert.JSONEq(t, raw, string(req.Target))
}

func TestDecodeRequest_Errors(t *testing.T) {
	for name, in := range map[string]any{
		"not json":       "GRAB",
		"missing action": `{"target":{}}`,
		"blank action":   `{"action":"  "}`,
		"array":          `[1,2]`,
		"bad cycles":     `{"action":"GRAB","cycles":"many"}`,
	} {
		_, err := DecodeRequest(in)
		assert.ErrorIs(t, err, ErrInvalidPayload, name)
	}
	_, err := DecodeRequest(3.14)
	assert.ErrorIs(t, err, ErrUnsupportedPayload)
}

func TestStatus_Encode(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := Status{Action: "GRAB", Status: "ERROR", Reason: "DRIVER_FAULT", ID: "x", Cycles: 3, Timestamp: ts}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"GRAB","status":"ERROR","reason":"DRIVER_FAULT","id":"x","cycles":3,"timestamp":"2026-01-02T03:04:05Z"}`, string(data))

	st, err := DecodeStatus(data)
	require.NoError(t, err)
	assert.Equal(t, "DRIVER_FAULT", st.Reason)
	assert.True(t, st.Timestamp.Equal(ts))

	_, err = DecodeStatus([]byte("nope"))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
