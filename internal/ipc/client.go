package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const (
	defaultCallTimeout = 10 * time.Second
	// Reload waits for replaced tasks to finish their in-flight sync.
	reloadCallTimeout = 5 * time.Minute
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, timeout time.Duration, req, resp any) error {
	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.client.Call(ServiceName+"."+method, req, resp)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", defaultCallTimeout, StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reload asks the daemon to reload the task file and waits for the reconcile.
func (c *Client) Reload() (*ReloadResponse, error) {
	var resp ReloadResponse
	if err := c.call("Reload", reloadCallTimeout, ReloadRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests a graceful daemon shutdown.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", defaultCallTimeout, StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sync requests an immediate sync of the named task.
func (c *Client) Sync(task string) (*SyncResponse, error) {
	var resp SyncResponse
	if err := c.call("Sync", defaultCallTimeout, SyncRequest{Task: task}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History lists recent sync runs.
func (c *Client) History(task string, limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.call("History", defaultCallTimeout, HistoryRequest{Task: task, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
