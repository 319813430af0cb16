// Package insight defines the Provider abstraction over the language-model
// backend behind the Insight service's single `infer` operation. Unlike
// pkg/provider/recognizer, which is driven incrementally one prefix at a
// time, a Provider here is a stateless request/response call: one customer
// final transcript in, one short structured commentary out. No call state
// is retained across requests.
package insight

import "context"

// Result is the structured commentary produced from a single customer final
// transcript. Text is the fixed-template rendering delivered verbatim as
// the `insight` event's text field.
type Result struct {
	// Sentiment is a short label: "positive", "neutral", or "negative".
	Sentiment string

	// KeyPoint is a short phrase naming what the customer said.
	KeyPoint string

	// Suggestion is a short actionable suggestion for the sales participant.
	Suggestion string

	// Text is Sentiment/KeyPoint/Suggestion rendered into the fixed
	// commentary template. This is the value forwarded verbatim in the wire
	// `insight` event.
	Text string
}

// Provider opens no session and holds no per-call state: every Infer call
// is independent. Implementations do not need to serialize internally; the
// Insight service already handles one channel's requests strictly in
// receive order.
type Provider interface {
	// Infer turns a single customer utterance (text) from the named call into
	// a short structured commentary. callID is passed through for logging and
	// tracing only; it carries no model-side state.
	Infer(ctx context.Context, callID, text string) (Result, error)

	// Close releases any underlying client resources.
	Close() error
}
