// Package whisper implements recognizer.Provider and recognizer.Session
// against a locally loaded whisper.cpp model via its CGO Go bindings. The
// model is loaded once and shared read-only; each Session owns its own
// whisper.cpp inference context, which is not safe for concurrent use.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vikram-naik/ws-stt-llm/pkg/provider/recognizer"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// sampleRate is the fixed input rate the Transcriber service always
// delivers PCM at: 16-bit little-endian mono at 48 kHz.
const sampleRate = 48000

var _ recognizer.Provider = (*Provider)(nil)

// Provider wraps a single whisper.cpp model loaded from disk.
type Provider struct {
	model whisperlib.Model
}

// New loads a whisper.cpp model from modelPath. The model is retained for
// the lifetime of the Provider and shared read-only across every Session.
func New(modelPath string) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model_path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &Provider{model: model}, nil
}

// NewSession opens a whisper.cpp inference context bound to language.
func (p *Provider) NewSession(language string) (recognizer.Session, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			return nil, fmt.Errorf("whisper: set language %q: %w", language, err)
		}
	}
	return &session{wctx: wctx, language: language}, nil
}

// Close releases the underlying model.
func (p *Provider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

var _ recognizer.Session = (*session)(nil)

// silenceFloor is the RMS level (on the normalized [0,1] scale used
// throughout the recognition-drain algorithm) below which a chunk is
// treated as already-gated silence rather than speech, closing out the
// buffered utterance. The Transcriber's own silence gate zero-fills
// silent chunks before they ever reach Feed, so this
// threshold only has to distinguish "already zeroed" from "has energy".
const silenceFloor = 0.0001

// session is one speaker's whisper.cpp inference context plus the
// buffering needed to turn a sequence of threshold-sized prefixes into
// partial/final results.
type session struct {
	mu        sync.Mutex
	wctx      whisperlib.Context
	language  string
	buffer    []byte
	hadSpeech bool
	lastText  string
}

// Feed implements recognizer.Session.
func (s *session) Feed(ctx context.Context, pcm []byte) (recognizer.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, pcm...)
	energetic := rms(pcm) > silenceFloor

	if !energetic && s.hadSpeech {
		return s.finalizeLocked()
	}
	if energetic {
		s.hadSpeech = true
	}
	if len(s.buffer) == 0 {
		return recognizer.Result{}, nil
	}

	text, err := s.infer()
	if err != nil {
		return recognizer.Result{}, err
	}
	if text == "" || text == s.lastText {
		return recognizer.Result{}, nil
	}
	s.lastText = text
	return recognizer.Result{Text: text, IsFinal: false}, nil
}

// Flush implements recognizer.Session.
func (s *session) Flush(ctx context.Context) (recognizer.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) == 0 {
		return recognizer.Result{}, false, nil
	}
	result, err := s.finalizeLocked()
	return result, true, err
}

// Close releases no per-session resource beyond what the shared model
// already owns; whisper.cpp contexts do not require an explicit close in
// this binding.
func (s *session) Close() error {
	return nil
}

// finalizeLocked runs inference on the buffered audio, clears it, and
// returns a final Result with per-word timing and confidence derived from
// the binding's token-level data. Caller must hold s.mu.
func (s *session) finalizeLocked() (recognizer.Result, error) {
	pcm := s.buffer
	s.buffer = nil
	s.hadSpeech = false
	s.lastText = ""

	text, words, err := s.inferWithWords(pcm)
	if err != nil {
		return recognizer.Result{}, err
	}
	if text == "" {
		return recognizer.Result{}, nil
	}
	return recognizer.Result{Text: text, IsFinal: true, Words: words}, nil
}

// infer runs whisper.cpp over the currently buffered audio and returns the
// concatenated segment text, without word-level detail.
func (s *session) infer() (string, error) {
	text, _, err := s.inferWithWords(s.buffer)
	return text, err
}

// inferWithWords runs whisper.cpp over pcm and builds per-word detail from
// each segment's token data: a word's confidence is the mean probability of
// the tokens that spell it, and its timing comes from those tokens' own
// start/end stamps.
func (s *session) inferWithWords(pcm []byte) (string, []recognizer.WordDetail, error) {
	if len(pcm) == 0 {
		return "", nil, nil
	}
	samples := pcmToFloat32Mono(pcm)
	if err := s.wctx.Process(samples, nil, nil, nil); err != nil {
		return "", nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	var words []recognizer.WordDetail
	for {
		segment, err := s.wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)

		if ws := segmentWords(segment); len(ws) > 0 {
			words = append(words, ws...)
		} else {
			words = append(words, interpolatedWords(segment, text)...)
		}
	}

	return strings.Join(parts, " "), words, nil
}

// segmentWords groups a segment's tokens into whitespace-delimited words.
// Whisper tokens are sub-word pieces whose text begins with a space at word
// starts, each carrying its own probability and timestamps; a word's
// confidence is the mean probability of its tokens. Bracketed special
// tokens ([_BEG_], timestamp markers) carry no speech and are skipped.
func segmentWords(segment whisperlib.Segment) []recognizer.WordDetail {
	var words []recognizer.WordDetail
	var cur strings.Builder
	var pSum float64
	var pN int
	var start, end time.Duration

	flush := func() {
		text := strings.TrimSpace(cur.String())
		cur.Reset()
		if text == "" || pN == 0 {
			pSum, pN = 0, 0
			return
		}
		words = append(words, recognizer.WordDetail{
			Word:       text,
			Start:      start.Seconds(),
			End:        end.Seconds(),
			Confidence: pSum / float64(pN),
		})
		pSum, pN = 0, 0
	}

	for _, tok := range segment.Tokens {
		if strings.HasPrefix(tok.Text, "[") && strings.HasSuffix(tok.Text, "]") {
			continue
		}
		if strings.HasPrefix(tok.Text, " ") && cur.Len() > 0 {
			flush()
		}
		if cur.Len() == 0 {
			start = tok.Start
		}
		cur.WriteString(tok.Text)
		end = tok.End
		pSum += float64(tok.P)
		pN++
	}
	flush()
	return words
}

// interpolatedWords is the fallback for a segment with no token data: word
// boundaries are evenly divided across the segment's span and confidence is
// reported as 1.0, meaning "no opinion" rather than a measurement.
func interpolatedWords(segment whisperlib.Segment, text string) []recognizer.WordDetail {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	span := segment.End.Seconds() - segment.Start.Seconds()
	step := span / float64(len(fields))
	words := make([]recognizer.WordDetail, len(fields))
	for i, w := range fields {
		start := segment.Start.Seconds() + float64(i)*step
		words[i] = recognizer.WordDetail{
			Word:       w,
			Start:      start,
			End:        start + step,
			Confidence: 1.0,
		}
	}
	return words
}
