package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

// Client implements model.JobQuerier over a Unix domain socket using JSON-RPC 2.0.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
	timeout time.Duration
}

// DefaultCallTimeout bounds one request/response round trip.
const DefaultCallTimeout = 30 * time.Second

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
		timeout: DefaultCallTimeout,
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params interface{}, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}

	if resp.ID != id {
		return fmt.Errorf("socketrpc: response id %d, want %d", resp.ID, id)
	}
	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) TotalJobCount(opts model.QueryOpts) (int64, error) {
	var result int64
	err := c.call("TotalJobCount", map[string]interface{}{"Opts": opts}, &result)
	return result, err
}

func (c *Client) ListJobs(opts model.QueryOpts) ([]model.JobSummary, error) {
	var result []model.JobSummary
	err := c.call("ListJobs", map[string]interface{}{"Opts": opts}, &result)
	return result, err
}

// JobDetail returns nil without error when the job is not stored.
func (c *Client) JobDetail(id string) (*model.JobDetail, error) {
	var result *model.JobDetail
	err := c.call("JobDetail", map[string]interface{}{"ID": id}, &result)
	return result, err
}

func (c *Client) JobExists(id string) (bool, error) {
	var result bool
	err := c.call("JobExists", map[string]interface{}{"ID": id}, &result)
	return result, err
}

func (c *Client) SeriesKeys(id string) ([]model.SeriesKey, error) {
	var result []model.SeriesKey
	err := c.call("SeriesKeys", map[string]interface{}{"ID": id}, &result)
	return result, err
}

func (c *Client) AggregateSeries(id, typeName, key string) ([]model.SeriesPoint, error) {
	var result []model.SeriesPoint
	err := c.call("AggregateSeries", map[string]interface{}{"ID": id, "Type": typeName, "Key": key}, &result)
	return result, err
}

func (c *Client) HostSeries(id, host, typeName, key string) ([]model.SeriesPoint, error) {
	var result []model.SeriesPoint
	err := c.call("HostSeries", map[string]interface{}{"ID": id, "Host": host, "Type": typeName, "Key": key}, &result)
	return result, err
}

var _ model.JobQuerier = (*Client)(nil)
