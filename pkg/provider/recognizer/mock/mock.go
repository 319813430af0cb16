// Package mock provides test doubles for the recognizer package interfaces.
//
// Use Provider to control which Session NewSession hands back (or to make it
// fail); use Session to script the sequence of Results a speaker's recognizer
// returns for successive Feed/Flush calls.
package mock

import (
	"context"
	"sync"

	"github.com/vikram-naik/ws-stt-llm/pkg/provider/recognizer"
)

// NewSessionCall records a single invocation of Provider.NewSession.
type NewSessionCall struct {
	Language string
}

// Provider is a mock implementation of recognizer.Provider.
type Provider struct {
	mu sync.Mutex

	// NewSessionFunc, when set, is called instead of the default behaviour to
	// build a Session for the given language — use this to hand back a
	// distinct Session per call.
	NewSessionFunc func(language string) (recognizer.Session, error)

	// Session is returned by every NewSession call when NewSessionFunc and
	// NewSessionErr are both unset.
	Session recognizer.Session

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession, in order.
	NewSessionCalls []NewSessionCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

var _ recognizer.Provider = (*Provider)(nil)

// NewSession records the call and dispatches to NewSessionFunc,
// NewSessionErr, or Session in that priority order, falling back to a fresh
// empty Session.
func (p *Provider) NewSession(language string) (recognizer.Session, error) {
	p.mu.Lock()
	p.NewSessionCalls = append(p.NewSessionCalls, NewSessionCall{Language: language})
	fn := p.NewSessionFunc
	sess := p.Session
	err := p.NewSessionErr
	p.mu.Unlock()

	if fn != nil {
		return fn(language)
	}
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	return &Session{}, nil
}

// Close records the call.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// FeedCall records a single invocation of Session.Feed.
type FeedCall struct {
	PCM []byte
}

// Session is a mock implementation of recognizer.Session. Callers pre-load
// Results with the sequence of results to return for successive Feed calls;
// FlushResult/FlushOK/FlushErr control the single Flush call.
type Session struct {
	mu sync.Mutex

	// Results is consumed one entry per Feed call, in order. When exhausted,
	// Feed returns a zero Result.
	Results []recognizer.Result

	// FeedErr, if non-nil, is returned by every Feed call instead of
	// consuming Results.
	FeedErr error

	// FlushResult/FlushOK/FlushErr are returned by Flush.
	FlushResult recognizer.Result
	FlushOK     bool
	FlushErr    error

	// FeedCalls records every call to Feed, in order.
	FeedCalls []FeedCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

var _ recognizer.Session = (*Session)(nil)

// Feed records the call and returns the next scripted Result.
func (s *Session) Feed(ctx context.Context, pcm []byte) (recognizer.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.FeedCalls = append(s.FeedCalls, FeedCall{PCM: cp})

	if s.FeedErr != nil {
		return recognizer.Result{}, s.FeedErr
	}
	if len(s.Results) == 0 {
		return recognizer.Result{}, nil
	}
	next := s.Results[0]
	s.Results = s.Results[1:]
	return next, nil
}

// Flush returns the scripted FlushResult/FlushOK/FlushErr.
func (s *Session) Flush(ctx context.Context) (recognizer.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FlushResult, s.FlushOK, s.FlushErr
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// FeedCallCount returns the number of Feed calls made so far. Thread-safe.
func (s *Session) FeedCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.FeedCalls)
}
