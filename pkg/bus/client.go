package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a hub peer. It sends requests and reads published outputs.
type Client struct {
	ws *websocket.Conn
	wm sync.Mutex
}

// Dial connects to a hub at url, e.g. ws://127.0.0.1:8090/bus.
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{ws: ws}, nil
}

// Send publishes req on the given input id.
func (c *Client) Send(input string, req Request) error {
	value, err := req.Encode()
	if err != nil {
		return err
	}
	return c.write(envelope{ID: input, Value: value})
}

// SendText publishes a raw text payload on the given input id.
func (c *Client) SendText(input, payload string) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(envelope{ID: input, Value: value})
}

func (c *Client) write(env envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.wm.Lock()
	defer c.wm.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// Next blocks for the next published output.
func (c *Client) Next(ctx context.Context) (Output, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(dl)
	} else {
		_ = c.ws.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Output{}, ctx.Err()
			}
			var ne net.Error
			if dl, ok := ctx.Deadline(); ok && errors.As(err, &ne) && ne.Timeout() && !time.Now().Before(dl) {
				return Output{}, context.DeadlineExceeded
			}
			return Output{}, err
		}
		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil || env.ID == "" {
			continue
		}
		return Output{ID: env.ID, Data: env.Data}, nil
	}
}

// Await reads outputs until a status for request id arrives on output.
func (c *Client) Await(ctx context.Context, output, id string) (Status, error) {
	for {
		out, err := c.Next(ctx)
		if err != nil {
			return Status{}, err
		}
		if out.ID != output {
			continue
		}
		st, err := DecodeStatus(out.Data)
		if err != nil {
			continue
		}
		if id == "" || st.ID == id {
			return st, nil
		}
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.wm.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.wm.Unlock()
	return c.ws.Close()
}
