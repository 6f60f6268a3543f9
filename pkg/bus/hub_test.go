package bus

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zerolog.New(zerolog.NewTestWriter(t)))
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitPeers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Peers() == n }, time.Second, 5*time.Millisecond)
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestHub_RequestsBecomeEvents(t *testing.T) {
	hub, url := startHub(t)
	events := hub.Events()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send("mani_command", Request{Action: "GRAB", ID: "g1"}))
	ev := nextEvent(t, events)
	assert.Equal(t, "mani_command", ev.ID)
	req, err := DecodeRequest(ev.Value)
	require.NoError(t, err)
	assert.Equal(t, "GRAB", req.Action)
	assert.Equal(t, "g1", req.ID)

	require.NoError(t, c.SendText("joint_command", `{"action":"RETURN"}`))
	ev = nextEvent(t, events)
	assert.Equal(t, "joint_command", ev.ID)
	assert.Equal(t, `{"action":"RETURN"}`, ev.Value)
}

func TestHub_BinaryFramesUseInputQuery(t *testing.T) {
	hub, url := startHub(t)
	events := hub.Events()

	ws, _, err := websocket.DefaultDialer.Dial(url+"?input=mani_command", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte(`{"action":"GRAB"}`)))

	ev := nextEvent(t, events)
	assert.Equal(t, "mani_command", ev.ID)
	assert.Equal(t, []byte(`{"action":"GRAB"}`), ev.Value)
}

func TestHub_BadEnvelopesAreIgnored(t *testing.T) {
	hub, url := startHub(t)
	events := hub.Events()

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte(`{"action":"GRAB"}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"id":"x","value":"ok"}`)))

	ev := nextEvent(t, events)
	assert.Equal(t, "x", ev.ID)
	assert.Equal(t, "ok", ev.Value)
}

func TestHub_PublishReachesPeers(t *testing.T) {
	hub, url := startHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a, err := Dial(ctx, url)
	require.NoError(t, err)
	defer a.Close()
	b, err := Dial(ctx, url)
	require.NoError(t, err)
	defer b.Close()
	waitPeers(t, hub, 2)

	other, _ := Status{Action: "GRAB", Status: "SUCCESS", ID: "other"}.Encode()
	mine, _ := Status{Action: "GRAB", Status: "SUCCESS", ID: "mine"}.Encode()
	require.NoError(t, hub.Publish(ctx, Output{ID: "joint_status", Data: mine}))
	require.NoError(t, hub.Publish(ctx, Output{ID: "mani_status", Data: other}))
	require.NoError(t, hub.Publish(ctx, Output{ID: "mani_status", Data: mine}))

	st, err := a.Await(ctx, "mani_status", "mine")
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", st.Status)

	out, err := b.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "joint_status", out.ID)
}

func TestClient_NextHonoursContext(t *testing.T) {
	_, url := startHub(t)
	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDial_Refused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/bus")
	assert.Error(t, err)
}

func TestHub_CloseWithStalledSubscriber(t *testing.T) {
	hub, url := startHub(t)
	events := hub.Events() // never drained
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()
	for range subscriberBuffer + 2 {
		require.NoError(t, c.SendText("mani_command", `{"action":"GRAB"}`))
	}
	require.Eventually(t, func() bool { return len(events) == subscriberBuffer }, time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		hub.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a stalled delivery")
	}
}
