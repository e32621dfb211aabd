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

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ItemAdd records a catalog item.
func (c *Client) ItemAdd(req ItemAddRequest) (*ItemAddResponse, error) {
	var resp ItemAddResponse
	if err := c.call("ItemAdd", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ItemList lists catalog items.
func (c *Client) ItemList(req ItemListRequest) (*ItemListResponse, error) {
	var resp ItemListResponse
	if err := c.call("ItemList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search runs an interactive search for one item.
func (c *Client) Search(req SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.call("Search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ManualSearch lists every scored result for one item without snatching.
func (c *Client) ManualSearch(req ManualSearchRequest) (*ManualSearchResponse, error) {
	var resp ManualSearchResponse
	if err := c.call("ManualSearch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Snatch submits a result picked from a manual search.
func (c *Client) Snatch(req SnatchRequest) (*SnatchResponse, error) {
	var resp SnatchResponse
	if err := c.call("Snatch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WantedList lists wanted entries.
func (c *Client) WantedList(req WantedListRequest) (*WantedListResponse, error) {
	var resp WantedListResponse
	if err := c.call("WantedList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WantedClear purges finished wanted entries.
func (c *Client) WantedClear(req WantedClearRequest) (*WantedClearResponse, error) {
	var resp WantedClearResponse
	if err := c.call("WantedClear", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BlacklistList lists blacklist rows.
func (c *Client) BlacklistList() (*BlacklistListResponse, error) {
	var resp BlacklistListResponse
	if err := c.call("BlacklistList", BlacklistListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) BlacklistAdd(req BlacklistAddRequest) (*BlacklistAddResponse, error) {
	var resp BlacklistAddResponse
	if err := c.call("BlacklistAdd", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) BlacklistRemove(req BlacklistRemoveRequest) (*BlacklistRemoveResponse, error) {
	var resp BlacklistRemoveResponse
	if err := c.call("BlacklistRemove", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UnmatchedList lists unmatched library files.
func (c *Client) UnmatchedList(req UnmatchedListRequest) (*UnmatchedListResponse, error) {
	var resp UnmatchedListResponse
	if err := c.call("UnmatchedList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UnmatchedIgnore(req UnmatchedIgnoreRequest) (*UnmatchedIgnoreResponse, error) {
	var resp UnmatchedIgnoreResponse
	if err := c.call("UnmatchedIgnore", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UnmatchedCandidates lists possible catalog matches for a file.
func (c *Client) UnmatchedCandidates(req UnmatchedCandidatesRequest) (*UnmatchedCandidatesResponse, error) {
	var resp UnmatchedCandidatesResponse
	if err := c.call("UnmatchedCandidates", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UnmatchedMatch links a file to a catalog item.
func (c *Client) UnmatchedMatch(req UnmatchedMatchRequest) (*UnmatchedMatchResponse, error) {
	var resp UnmatchedMatchResponse
	if err := c.call("UnmatchedMatch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearDelay resets an item's search backoff.
func (c *Client) ClearDelay(req ClearDelayRequest) (*ClearDelayResponse, error) {
	var resp ClearDelayResponse
	if err := c.call("ClearDelay", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel aborts a snatched download.
func (c *Client) Cancel(req CancelRequest) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.call("Cancel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobTrigger queues an immediate job run.
func (c *Client) JobTrigger(req JobTriggerRequest) (*JobTriggerResponse, error) {
	var resp JobTriggerResponse
	if err := c.call("JobTrigger", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostprocessRun processes completed downloads now.
func (c *Client) PostprocessRun() (*PostprocessRunResponse, error) {
	var resp PostprocessRunResponse
	if err := c.call("PostprocessRun", PostprocessRunRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LibraryScan scans the library now.
func (c *Client) LibraryScan() (*LibraryScanResponse, error) {
	var resp LibraryScanResponse
	if err := c.call("LibraryScan", LibraryScanRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProviderUsage lists today's provider API usage.
func (c *Client) ProviderUsage() (*ProviderUsageResponse, error) {
	var resp ProviderUsageResponse
	if err := c.call("ProviderUsage", ProviderUsageRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
