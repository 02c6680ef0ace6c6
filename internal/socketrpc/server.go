package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/hpcjob/internal/model"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (1 MB).
	scannerInitBufSize = 1024 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (10 MB).
	scannerMaxTokenSize = 10 * 1024 * 1024
)

// Server exposes a model.JobQuerier over a Unix domain socket using JSON-RPC 2.0.
type Server struct {
	socketPath string
	store      model.JobQuerier
	log        logrus.FieldLogger
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new socket RPC server. A nil logger discards output.
func NewServer(socketPath string, store model.JobQuerier, logger logrus.FieldLogger) *Server {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Server{
		socketPath: socketPath,
		store:      store,
		log:        logger,
		quit:       make(chan struct{}),
	}
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove a stale socket; refuse to steal a live one.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Infof("socketrpc: listening on %s", s.socketPath)
	return nil
}

// Stop closes the listener, waits for connections to drain, and removes the socket file.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				// Transient errors (e.g. fd limit) must not end the loop.
				s.log.Warnf("socketrpc: accept error: %v", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Unblock the scanner when the server stops.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.quit:
			conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp := Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: codeParseError, Message: "parse error"}}
			encoder.Encode(resp)
			continue
		}

		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

// decode unmarshals params into p. Empty or null params are allowed when
// optional is set.
func decode(params json.RawMessage, p any, optional bool) error {
	if len(params) == 0 || string(params) == "null" {
		if optional {
			return nil
		}
		return fmt.Errorf("params are required")
	}
	return json.Unmarshal(params, p)
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v interface{}, err error) Response {
		if err != nil {
			resp.Error = &RPCError{Code: codeApplication, Message: err.Error()}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: codeInternal, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	invalidParams := func(err error) Response {
		resp.Error = &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	var p struct {
		Opts model.QueryOpts
		ID   string
		Host string
		Type string
		Key  string
	}

	switch req.Method {
	case "TotalJobCount":
		if err := decode(req.Params, &p, true); err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.store.TotalJobCount(p.Opts))

	case "ListJobs":
		if err := decode(req.Params, &p, true); err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.store.ListJobs(p.Opts))

	case "JobDetail":
		if err := decode(req.Params, &p, false); err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.store.JobDetail(p.ID))

	case "JobExists":
		if err := decode(req.Params, &p, false); err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.store.JobExists(p.ID))

	case "SeriesKeys":
		if err := decode(req.Params, &p, false); err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.store.SeriesKeys(p.ID))

	case "AggregateSeries":
		if err := decode(req.Params, &p, false); err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.store.AggregateSeries(p.ID, p.Type, p.Key))

	case "HostSeries":
		if err := decode(req.Params, &p, false); err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.store.HostSeries(p.ID, p.Host, p.Type, p.Key))

	default:
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}
