// Package ws provides a WebSocket client for the Factotum gateway.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	wsprotocol "github.com/factotum-ai/factotum/internal/gateway/ws"
)

// Client is a WebSocket client for the Factotum gateway.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the gateway WebSocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

// Call sends a request frame and waits for its response, skipping any
// interleaved event frames.
func (c *Client) Call(method wsprotocol.Method, params any) (json.RawMessage, error) {
	seq := atomic.AddUint64(&c.reqSeq, 1)
	id := fmt.Sprintf("req-%d", seq)

	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	frame := wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     id,
		Method: string(method),
		Params: data,
	}

	raw, err := wsprotocol.MarshalFrame(frame)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, raw); err != nil {
		return nil, fmt.Errorf("ws write: %w", err)
	}

	for {
		resp, err := c.ReadFrame()
		if err != nil {
			return nil, err
		}
		if resp.Type != wsprotocol.FrameTypeResponse || resp.ID != id {
			continue
		}
		if resp.OK == nil || !*resp.OK {
			return nil, fmt.Errorf("gateway: %s", resp.Error)
		}
		return resp.Payload, nil
	}
}

// Ask submits a request on behalf of a user and returns the outcome payload.
func (c *Client) Ask(userID, request string) (json.RawMessage, error) {
	return c.Call(wsprotocol.MethodAsk, map[string]string{
		"user_id": userID,
		"request": request,
	})
}

// ListTasks returns the raw task list for a user.
func (c *Client) ListTasks(userID string) (json.RawMessage, error) {
	return c.Call(wsprotocol.MethodListTasks, map[string]string{
		"user_id": userID,
	})
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
