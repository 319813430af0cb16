// Package recognizer defines the Provider/Session abstraction over a
// speech-to-text backend used by the Transcriber service's per-speaker
// incremental recognition (see internal/transcriber).
//
// Unlike a typical streaming STT client — which hands back partials and
// finals asynchronously over channels as the provider's own network
// session produces them — a Session here is driven synchronously, one
// prefix at a time, by the recognition-drain loop: the loop already owns
// silence gating and byte-threshold accumulation, so Feed is called with
// exactly the bytes ready to be processed and returns its result before
// the loop moves on to the next queue item. A goroutine-and-channel shape
// would suit a remote streaming backend, but a single-process batch engine
// like whisper.cpp has no independent background producer to bridge from.
package recognizer

import "context"

// WordDetail is per-word timing/confidence detail attached to a Result
// when the backend can produce it.
type WordDetail struct {
	Word       string
	Start      float64 // seconds from session start
	End        float64
	Confidence float64 // 0.0-1.0
}

// Result is what a Session produces for one Feed or Flush call.
type Result struct {
	// Text is the recognized text. An empty Text means nothing should be
	// emitted for this call.
	Text string

	// IsFinal distinguishes a committed utterance from a running partial
	// guess.
	IsFinal bool

	// Words carries per-word detail when available; nil when the backend
	// does not expose it. Only consulted for final results.
	Words []WordDetail
}

// Session is one speaker's bound incremental recognizer instance. A
// Session is not safe for concurrent use — exactly one recognition-drain
// task feeds it, in order.
type Session interface {
	// Feed processes one already-threshold-sized PCM prefix and returns
	// either a final result, a partial, or an empty Result (nothing to
	// emit). A non-nil error means the invocation failed; the caller
	// treats the chunk as having produced an empty result and keeps the
	// session alive.
	Feed(ctx context.Context, pcm []byte) (Result, error)

	// Flush finalizes any buffered-but-unprocessed audio, as happens on
	// session teardown. ok is false when
	// there was nothing buffered to finalize.
	Flush(ctx context.Context) (result Result, ok bool, err error)

	// Close releases any per-session resources (e.g. a whisper.cpp
	// inference context). Safe to call more than once.
	Close() error
}

// Provider opens Sessions against a shared backend instance: the model is
// loaded once at startup and shared read-only across all sessions.
type Provider interface {
	// NewSession opens a recognizer Session bound to language (a BCP-47 or
	// backend-specific tag; e.g. "en", "ja"). The caller owns the Session
	// and must Close it.
	NewSession(language string) (Session, error)

	// Close releases the shared backend instance (e.g. unloads the model).
	Close() error
}
