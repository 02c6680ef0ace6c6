package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes model.JobQuerier over a Unix domain socket.
// Each method maps 1:1 to the JobQuerier interface.
//
//   Method            Params                                      Result
//   ───────────────   ─────────────────────────────────────────   ─────────────
//   TotalJobCount     {Opts: QueryOpts}                           int64
//   ListJobs          {Opts: QueryOpts}                           []JobSummary
//   JobDetail         {ID: string}                                *JobDetail (null if absent)
//   JobExists         {ID: string}                                bool
//   SeriesKeys        {ID: string}                                []SeriesKey
//   AggregateSeries   {ID: string, Type: string, Key: string}     []SeriesPoint
//   HostSeries        {ID, Host, Type, Key: string}               []SeriesPoint
//
// QueryOpts: {Status: string, User: string, Limit: int}. TotalJobCount and
// ListJobs accept empty or null params.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (query failure)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Standard JSON-RPC 2.0 error codes, plus one application code.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
)

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/hpcjob/hpcjob.sock, falling back to
// ~/.local/state/hpcjob/hpcjob.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "hpcjob", "hpcjob.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/hpcjob.sock"
	}
	return filepath.Join(home, ".local", "state", "hpcjob", "hpcjob.sock")
}
