package ipc

import (
	"context"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/google/uuid"
)

// DialTimeout bounds connecting to the daemon socket.
const DialTimeout = 2 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	call := c.client.Go(ServiceName+"."+method, req, resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return done.Error
	}
}

// Submit admits a job for hash. A nil priority uses the daemon default.
func (c *Client) Submit(ctx context.Context, hash string, priority *int) (*JobResponse, error) {
	return c.job(ctx, "Submit", hash, priority)
}

// Retry re-admits a failed job.
func (c *Client) Retry(ctx context.Context, hash string, priority *int) (*JobResponse, error) {
	return c.job(ctx, "Retry", hash, priority)
}

func (c *Client) job(ctx context.Context, method, hash string, priority *int) (*JobResponse, error) {
	var resp JobResponse
	req := SubmitRequest{ContentHash: hash, Priority: priority, RequestID: uuid.NewString()}
	if err := c.call(ctx, method, req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Failure.Err(); err != nil {
		return &resp, err
	}
	return &resp, nil
}

// Stats returns scheduler statistics.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.call(ctx, "Stats", StatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the stored status for hash.
func (c *Client) Status(ctx context.Context, hash string) (*StatusResponse, error) {
	var resp StatusResponse
	req := StatusRequest{ContentHash: hash, RequestID: uuid.NewString()}
	if err := c.call(ctx, "Status", req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Failure.Err(); err != nil {
		return &resp, err
	}
	return &resp, nil
}

// Wait blocks until the job for hash resolves or ctx ends. A job failure is
// returned as a classified error alongside the response.
func (c *Client) Wait(ctx context.Context, hash string, timeout time.Duration) (*WaitResponse, error) {
	var resp WaitResponse
	req := WaitRequest{ContentHash: hash, TimeoutSeconds: int(timeout / time.Second), RequestID: uuid.NewString()}
	if err := c.call(ctx, "Wait", req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Failure.Err(); err != nil {
		return &resp, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification(ctx context.Context) (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call(ctx, "TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown(ctx context.Context) (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.call(ctx, "Shutdown", ShutdownRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
