package connector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/probestack/medic/internal/config"
)

// StdioFactory spawns target servers as subprocesses and speaks
// line-delimited JSON-RPC 2.0 over their stdin/stdout.
type StdioFactory struct {
	Logger *slog.Logger
}

// NewStdioFactory constructs a StdioFactory.
func NewStdioFactory(logger *slog.Logger) *StdioFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioFactory{Logger: logger}
}

// Open starts the server process and performs the initialize handshake under
// the caller's deadline.
func (f *StdioFactory) Open(ctx context.Context, spec config.ServerSpec) (Session, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("open %s: no command configured", spec.Name)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open %s: stdin pipe: %w", spec.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open %s: stdout pipe: %w", spec.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("open %s: start: %w", spec.Name, err)
	}

	s := &stdioSession{
		name:    spec.Name,
		exclude: toSet(spec.ExcludeOperations),
		logger:  f.Logger,
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[int64]chan rpcResponse),
		done:    make(chan struct{}),
	}
	go s.readLoop(stdout)

	if _, err := s.call(ctx, "initialize", map[string]any{"client": "medic-engine"}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open %s: initialize: %w", spec.Name, err)
	}
	return s, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type stdioSession struct {
	name    string
	exclude map[string]struct{}
	logger  *slog.Logger
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcResponse
	ops     []string
	closed  bool

	done chan struct{}
}

func (s *stdioSession) readLoop(stdout io.Reader) {
	defer close(s.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			s.logger.Debug("discarding unparsable line", slog.String("server", s.name))
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// call sends a request and waits for its response or the context deadline.
// A deadline trip abandons the pending slot; a late response is dropped by
// the buffered channel.
func (s *stdioSession) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s closed", s.name)
	}
	s.nextID++
	id := s.nextID
	ch := make(chan rpcResponse, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		s.dropPending(id)
		return nil, err
	}
	payload = append(payload, '\n')
	if _, err := s.stdin.Write(payload); err != nil {
		s.dropPending(id)
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			if resp.Error.Code == -32601 {
				return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, resp.Error.Message)
			}
			return nil, fmt.Errorf("server error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		s.dropPending(id)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s %s: %w", s.name, method, ErrDeadline)
		}
		return nil, ctx.Err()
	case <-s.done:
		s.dropPending(id)
		return nil, fmt.Errorf("session %s: server closed the stream", s.name)
	}
}

func (s *stdioSession) dropPending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

type operationList struct {
	Operations []struct {
		Name string `json:"name"`
	} `json:"operations"`
}

func (s *stdioSession) ListOperations(ctx context.Context, forceRefresh bool) ([]string, error) {
	s.mu.Lock()
	cached := s.ops
	s.mu.Unlock()
	if !forceRefresh && cached != nil {
		return append([]string(nil), cached...), nil
	}

	raw, err := s.call(ctx, "operations/list", nil)
	if err != nil {
		return nil, err
	}
	var list operationList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode operation list: %w", err)
	}

	names := make([]string, 0, len(list.Operations))
	for _, op := range list.Operations {
		if _, skip := s.exclude[op.Name]; skip {
			continue
		}
		names = append(names, op.Name)
	}

	s.mu.Lock()
	s.ops = append([]string(nil), names...)
	s.mu.Unlock()
	return names, nil
}

func (s *stdioSession) Invoke(ctx context.Context, operation string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	return s.call(ctx, "operations/call", map[string]any{
		"name":      operation,
		"arguments": args,
	})
}

func (s *stdioSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.cmd.Wait()
	<-s.done
	if err != nil {
		// Kill makes a non-zero exit status routine here.
		s.logger.Debug("server process exited", slog.String("server", s.name), slog.Any("status", err))
	}
	return nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
