package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
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

// SessionStart asks the daemon to begin monitoring.
func (c *Client) SessionStart(userID, trigger string) (*SessionStartResponse, error) {
	var resp SessionStartResponse
	req := SessionStartRequest{UserID: userID, Trigger: trigger}
	if err := c.client.Call("Sentinel.SessionStart", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionStop asks the daemon to end the active session.
func (c *Client) SessionStop() (*SessionStopResponse, error) {
	var resp SessionStopResponse
	if err := c.client.Call("Sentinel.SessionStop", SessionStopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Escalate raises the active session to emergency.
func (c *Client) Escalate(reason string) (*EscalateResponse, error) {
	var resp EscalateResponse
	if err := c.client.Call("Sentinel.Escalate", EscalateRequest{Reason: reason}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Note records an observation against the active session.
func (c *Client) Note(text string) (*NoteResponse, error) {
	var resp NoteResponse
	if err := c.client.Call("Sentinel.Note", NoteRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Sentinel.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionList returns stored sessions, newest first.
func (c *Client) SessionList() (*SessionListResponse, error) {
	var resp SessionListResponse
	if err := c.client.Call("Sentinel.SessionList", SessionListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EvidenceList returns all evidence for one session.
func (c *Client) EvidenceList(sessionID string) (*EvidenceListResponse, error) {
	var resp EvidenceListResponse
	req := EvidenceListRequest{SessionID: sessionID}
	if err := c.client.Call("Sentinel.EvidenceList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EvidenceRetry requeues failed evidence records for upload.
func (c *Client) EvidenceRetry(ids []string) (*EvidenceRetryResponse, error) {
	var resp EvidenceRetryResponse
	if err := c.client.Call("Sentinel.EvidenceRetry", EvidenceRetryRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Compress archives settled sessions.
func (c *Client) Compress() (*CompressResponse, error) {
	var resp CompressResponse
	if err := c.client.Call("Sentinel.Compress", CompressRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Sentinel.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
