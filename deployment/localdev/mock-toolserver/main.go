// mock-toolserver is a line-delimited JSON-RPC tool server for local
// development. Point a medic-engine server entry at this binary to exercise
// the full diagnosis cycle without a real deployment.
package main

import (
	"bufio"
	"encoding/json"
	"log"
	"os"
	"time"
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func main() {
	logger := log.New(os.Stderr, "tool-mock ", log.LstdFlags|log.Lmicroseconds)

	out := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			logger.Printf("discarding unparsable line: %v", err)
			continue
		}
		if err := out.Encode(handle(req)); err != nil {
			logger.Fatalf("write response: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Fatalf("read stdin: %v", err)
	}
}

func handle(req request) response {
	resp := response{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{"server": "mock-toolserver", "version": "0.1.0"}

	case "operations/list":
		resp.Result = map[string]any{
			"operations": []map[string]any{
				{"name": "echo", "description": "Returns its arguments unchanged"},
				{"name": "sum", "description": "Adds the numbers in 'values'"},
				{"name": "slow_echo", "description": "Echo after a 500ms delay"},
			},
		}

	case "operations/call":
		var params callParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &rpcError{Code: -32602, Message: "invalid params: " + err.Error()}
			return resp
		}
		resp.Result, resp.Error = call(params)

	default:
		resp.Error = &rpcError{Code: -32601, Message: "method not found: " + req.Method}
	}
	return resp
}

func call(params callParams) (any, *rpcError) {
	switch params.Name {
	case "echo":
		return map[string]any{"echo": params.Arguments}, nil

	case "sum":
		values, _ := params.Arguments["values"].([]any)
		total := 0.0
		for _, v := range values {
			if f, ok := v.(float64); ok {
				total += f
			}
		}
		return map[string]any{"sum": total}, nil

	case "slow_echo":
		time.Sleep(500 * time.Millisecond)
		return map[string]any{"echo": params.Arguments}, nil

	default:
		return nil, &rpcError{Code: -32601, Message: "operation not found: " + params.Name}
	}
}
