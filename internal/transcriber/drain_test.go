package transcriber

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/vikram-naik/ws-stt-llm/internal/callstate"
	"github.com/vikram-naik/ws-stt-llm/internal/config"
	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/pkg/provider/recognizer"
	recognizermock "github.com/vikram-naik/ws-stt-llm/pkg/provider/recognizer/mock"
)

func testService(t *testing.T) *Service {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	recCfg := config.RecognitionConfig{
		TargetSampleRate:          1,
		BytesPerSample:            1,
		MinBufferDurationSeconds:  4, // threshold = 4 bytes
		MaxGapSeconds:             1.0,
		MinPhraseWords:            1,
		ConfidenceThreshold:       0.1,
		RepeatSimilarityThreshold: 0.92,
	}
	return NewService(context.Background(), nil, nil, recCfg, 4, 4, metrics)
}

func TestProcessPCM_FeedsAtThresholdAndDispatches(t *testing.T) {
	s := testService(t)
	sess := &recognizermock.Session{
		Results: []recognizer.Result{{Text: "hello", IsFinal: false}},
	}
	speaker := &speakerState{username: "bob", cohort: callstate.Customers, language: "en", sess: sess}
	session := &callSession{
		callID: "c1", caller: speaker, callee: &speakerState{username: "alice", cohort: callstate.Sales},
		salesUsername: "alice", hasSales: true,
	}

	// Below threshold: no Feed call yet.
	s.processPCM(context.Background(), session, pcmItem{username: "bob", pcm: make([]byte, 2)})
	if sess.FeedCallCount() != 0 {
		t.Fatalf("FeedCallCount = %d, want 0 before threshold", sess.FeedCallCount())
	}

	// Crosses the 4-byte threshold.
	s.processPCM(context.Background(), session, pcmItem{username: "bob", pcm: make([]byte, 2)})
	if sess.FeedCallCount() != 1 {
		t.Fatalf("FeedCallCount = %d, want 1 after crossing threshold", sess.FeedCallCount())
	}
	if speaker.lastPartial != "hello" {
		t.Errorf("lastPartial = %q, want %q", speaker.lastPartial, "hello")
	}
}

func TestProcessPCM_UnknownSpeakerIsIgnored(t *testing.T) {
	s := testService(t)
	session := &callSession{
		callID: "c1",
		caller: &speakerState{username: "alice"},
		callee: &speakerState{username: "bob"},
	}
	// Should not panic for a sender that isn't a participant.
	s.processPCM(context.Background(), session, pcmItem{username: "mallory", pcm: make([]byte, 10)})
}

func TestEmit_PartialDuplicateIsSuppressed(t *testing.T) {
	s := testService(t)
	speaker := &speakerState{username: "bob", cohort: callstate.Customers, language: "en", lastPartial: "hello there"}
	session := &callSession{callID: "c1", caller: speaker, callee: &speakerState{}, hasSales: false}

	// Same text as lastPartial and not final: emit should be a no-op (no
	// panic even though hasSales is false and no conn is registered).
	s.emit(context.Background(), session, speaker, recognizer.Result{Text: "hello there", IsFinal: false})
	if speaker.lastPartial != "hello there" {
		t.Errorf("lastPartial changed unexpectedly: %q", speaker.lastPartial)
	}
}

func TestEmit_FinalWithWordsAppliesFilterAndQueuesInsight(t *testing.T) {
	s := testService(t)
	speaker := &speakerState{username: "bob", cohort: callstate.Customers, language: "en"}
	session := &callSession{
		callID: "c1", caller: speaker, callee: &speakerState{username: "alice", cohort: callstate.Sales},
		salesUsername: "alice", hasSales: true,
		insightQueue: make(chan insightItem, 1),
	}

	words := []recognizer.WordDetail{
		{Word: "that", Start: 0, End: 0.2, Confidence: 0.9},
		{Word: "sounds", Start: 0.2, End: 0.4, Confidence: 0.9},
		{Word: "great", Start: 0.4, End: 0.6, Confidence: 0.9},
	}
	s.emit(context.Background(), session, speaker, recognizer.Result{Text: "that sounds great", IsFinal: true, Words: words})

	select {
	case item := <-session.insightQueue:
		if item.text != "that sounds great" {
			t.Errorf("queued insight text = %q, want %q", item.text, "that sounds great")
		}
		if item.callID != "c1" {
			t.Errorf("queued insight callID = %q, want %q", item.callID, "c1")
		}
	default:
		t.Fatal("expected a final customer utterance to be queued for insight")
	}
}

func TestEmit_FinalFromSalesSideDoesNotQueueInsight(t *testing.T) {
	s := testService(t)
	speaker := &speakerState{username: "alice", cohort: callstate.Sales, language: "en"}
	session := &callSession{
		callID: "c1", caller: speaker, callee: &speakerState{username: "bob", cohort: callstate.Customers},
		salesUsername: "alice", hasSales: true,
		insightQueue: make(chan insightItem, 1),
	}

	s.emit(context.Background(), session, speaker, recognizer.Result{Text: "got it", IsFinal: true})

	select {
	case item := <-session.insightQueue:
		t.Fatalf("did not expect an insight item for a sales-side final, got %+v", item)
	default:
	}
}

func TestEnqueueInsight_DropsWhenQueueFull(t *testing.T) {
	s := testService(t)
	session := &callSession{callID: "c1", salesUsername: "alice", hasSales: true, insightQueue: make(chan insightItem, 1)}

	s.enqueueInsight(session, "first")
	s.enqueueInsight(session, "second") // queue already full, must not block

	item := <-session.insightQueue
	if item.text != "first" {
		t.Errorf("queued text = %q, want %q (second should have been dropped)", item.text, "first")
	}
}
