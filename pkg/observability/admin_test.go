package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdmin(t *testing.T, bus http.Handler) *Admin {
	t.Helper()
	a := NewAdmin(AdminConfig{
		Addr:   "127.0.0.1:0",
		Logger: zerolog.New(zerolog.NewTestWriter(t)),
		Bus:    bus,
	})
	a.AddStatus("mani", func() any {
		return map[string]any{"state": "IDLE", "cycles": 42}
	})
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestAdmin_Health(t *testing.T) {
	rr := get(t, newTestAdmin(t, nil).Handler(), "/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAdmin_Status(t *testing.T) {
	h := newTestAdmin(t, nil).Handler()

	rr := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rr.Code)
	var all struct {
		Channels map[string]map[string]any `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &all))
	assert.Equal(t, "IDLE", all.Channels["mani"]["state"])

	rr = get(t, h, "/status/mani")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"cycles":42`)

	rr = get(t, h, "/status/jnt")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdmin_Metrics(t *testing.T) {
	RecordCycle("admin-test", 0, false)
	rr := get(t, newTestAdmin(t, nil).Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "loong_control_cycles_total"))
}

func TestAdmin_MountsBus(t *testing.T) {
	bus := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rr := get(t, newTestAdmin(t, bus).Handler(), "/bus")
	assert.Equal(t, http.StatusTeapot, rr.Code)

	rr = get(t, newTestAdmin(t, nil).Handler(), "/bus")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
