package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNotRunning means nothing is listening on the socket.
var ErrNotRunning = errors.New("daemon is not running")

// Client sends control commands to a running daemon.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 10 * time.Second}
}

// SetTimeout bounds each round trip.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Send delivers cmd and waits for the response. A failed response is
// returned together with an error carrying its message.
func (c *Client) Send(ctx context.Context, cmd Command) (*Response, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if !resp.Success {
		return &resp, fmt.Errorf("%s: %s", resp.Message, resp.Error)
	}
	return &resp, nil
}

func (c *Client) Stop(ctx context.Context) (*Response, error) {
	return c.Send(ctx, Command{Type: CommandStop})
}

func (c *Client) Health(ctx context.Context) (*Response, error) {
	return c.Send(ctx, Command{Type: CommandHealth})
}

func (c *Client) Stats(ctx context.Context) (*Response, error) {
	return c.Send(ctx, Command{Type: CommandStats})
}

func (c *Client) Refresh(ctx context.Context) (*Response, error) {
	return c.Send(ctx, Command{Type: CommandRefresh})
}
