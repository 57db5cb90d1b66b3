// Package connectortest provides a scripted connector for package tests.
package connectortest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/probestack/medic/internal/config"
	"github.com/probestack/medic/internal/connector"
)

// Fake implements connector.Factory with scripted outcomes. The zero value
// opens successfully with no operations.
type Fake struct {
	// OpenErrs is consumed one entry per Open call; a nil entry succeeds.
	// When exhausted, Open succeeds.
	OpenErrs []error
	// OpenDelay is applied before each Open resolves, honouring the context
	// deadline so tests can exercise timeout paths.
	OpenDelay time.Duration
	// Operations is the capability list every session reports.
	Operations []string
	// ListErr, when set, fails ListOperations.
	ListErr error
	// InvokeDelay is applied before each Invoke resolves.
	InvokeDelay time.Duration
	// InvokeFunc overrides invocation behaviour per operation.
	InvokeFunc func(operation string, args map[string]any) (json.RawMessage, error)

	mu     sync.Mutex
	opens  int
	closes int
}

// Open pops the next scripted outcome.
func (f *Fake) Open(ctx context.Context, spec config.ServerSpec) (connector.Session, error) {
	f.mu.Lock()
	f.opens++
	var err error
	if len(f.OpenErrs) > 0 {
		err = f.OpenErrs[0]
		f.OpenErrs = f.OpenErrs[1:]
	}
	delay := f.OpenDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, connector.ErrDeadline
		}
	}
	if err != nil {
		return nil, err
	}
	return &fakeSession{fake: f}, nil
}

// Opens reports how many times Open has been called.
func (f *Fake) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Closes reports how many sessions have been closed.
func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeSession struct {
	fake *Fake
}

func (s *fakeSession) ListOperations(ctx context.Context, forceRefresh bool) ([]string, error) {
	if s.fake.ListErr != nil {
		return nil, s.fake.ListErr
	}
	return append([]string(nil), s.fake.Operations...), nil
}

func (s *fakeSession) Invoke(ctx context.Context, operation string, args map[string]any) (json.RawMessage, error) {
	if s.fake.InvokeDelay > 0 {
		select {
		case <-time.After(s.fake.InvokeDelay):
		case <-ctx.Done():
			return nil, connector.ErrDeadline
		}
	}
	if s.fake.InvokeFunc != nil {
		return s.fake.InvokeFunc(operation, args)
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (s *fakeSession) Close() error {
	s.fake.mu.Lock()
	s.fake.closes++
	s.fake.mu.Unlock()
	return nil
}
