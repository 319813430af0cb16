// Package mock provides test doubles for the insight package interfaces.
//
// Use Provider to verify that the caller invokes Infer with the expected
// call_id/text pair and to control the Result or error returned.
package mock

import (
	"context"
	"sync"

	"github.com/vikram-naik/ws-stt-llm/pkg/provider/insight"
)

// InferCall records a single invocation of Provider.Infer.
type InferCall struct {
	CallID string
	Text   string
}

// Provider is a mock implementation of insight.Provider.
type Provider struct {
	mu sync.Mutex

	// InferFunc, when set, is called instead of the default behaviour to
	// produce the result for a given call — use this to script a sequence
	// of outcomes across calls without mutating the mock mid-test.
	InferFunc func(callID, text string) (insight.Result, error)

	// Result is returned by every Infer call when InferFunc and InferErr
	// are both unset.
	Result insight.Result

	// InferErr, if non-nil, is returned as the error from Infer.
	InferErr error

	// InferCalls records every call to Infer, in order.
	InferCalls []InferCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

var _ insight.Provider = (*Provider)(nil)

// Infer records the call and dispatches to InferFunc, InferErr, or Result
// in that priority order.
func (p *Provider) Infer(ctx context.Context, callID, text string) (insight.Result, error) {
	p.mu.Lock()
	p.InferCalls = append(p.InferCalls, InferCall{CallID: callID, Text: text})
	fn := p.InferFunc
	result := p.Result
	err := p.InferErr
	p.mu.Unlock()

	if fn != nil {
		return fn(callID, text)
	}
	if err != nil {
		return insight.Result{}, err
	}
	return result, nil
}

// Close records the call.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// CallCount returns the number of Infer calls made so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.InferCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InferCalls = nil
	p.CloseCallCount = 0
}
