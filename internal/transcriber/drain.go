package transcriber

import (
	"context"
	"log/slog"
	"time"

	"github.com/vikram-naik/ws-stt-llm/internal/callstate"
	"github.com/vikram-naik/ws-stt-llm/internal/protocol"
	"github.com/vikram-naik/ws-stt-llm/pkg/provider/recognizer"
)

// runRecognitionDrain is the per-call recognition-drain task:
// it drains session.pcmQueue until the shutdown sentinel, feeding each
// speaker's accumulated buffer to its recognizer session once it reaches
// the configured processing threshold, then flushes both sessions and hands
// off to insight-drain's shutdown.
func (s *Service) runRecognitionDrain(session *callSession) {
	ctx := s.rootCtx

	for item := range session.pcmQueue {
		if item.sentinel {
			break
		}
		s.metrics.RecordQueueDepth(ctx, "recognition", -1)
		s.processPCM(ctx, session, item)
	}

	for _, speaker := range []*speakerState{session.caller, session.callee} {
		s.flushSpeaker(ctx, session, speaker)
		speaker.sess.Close()
	}

	close(session.done)
	go func() { session.insightQueue <- insightItem{sentinel: true} }()
}

// processPCM applies silence gating, accumulates into the addressed
// speaker's buffer, and feeds the recognizer once enough audio has
// accumulated.
func (s *Service) processPCM(ctx context.Context, session *callSession, item pcmItem) {
	speaker := session.speakerByUsername(item.username)
	if speaker == nil {
		return
	}

	gated := silenceGate(item.pcm, s.recCfg.SilenceRMSThreshold)
	speaker.buffer = append(speaker.buffer, gated...)

	threshold := s.recCfg.ProcessThresholdBytes()
	if threshold <= 0 {
		return
	}
	for len(speaker.buffer) >= threshold {
		chunk := speaker.buffer[:threshold]
		remainder := make([]byte, len(speaker.buffer)-threshold)
		copy(remainder, speaker.buffer[threshold:])
		speaker.buffer = remainder

		start := time.Now()
		result, err := speaker.sess.Feed(ctx, chunk)
		s.metrics.RecognitionDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			slog.Error("transcriber: recognizer feed failed", "call_id", session.callID, "username", speaker.username, "err", err)
			s.metrics.RecognizerErrors.Add(ctx, 1)
			continue
		}
		s.emit(ctx, session, speaker, result)
	}
}

// flushSpeaker drains a speaker's recognizer session at call teardown and
// emits a final result if one is produced.
func (s *Service) flushSpeaker(ctx context.Context, session *callSession, speaker *speakerState) {
	result, ok, err := speaker.sess.Flush(ctx)
	if err != nil {
		slog.Error("transcriber: recognizer flush failed", "call_id", session.callID, "username", speaker.username, "err", err)
		return
	}
	if !ok {
		return
	}
	s.emit(ctx, session, speaker, result)
}

// emit applies finals filtering and the partial-dedup rule, dispatches the surviving text to the sales participant, and
// enqueues a final customer utterance for insight generation.
func (s *Service) emit(ctx context.Context, session *callSession, speaker *speakerState, result recognizer.Result) {
	text := result.Text

	if result.IsFinal && len(result.Words) > 0 {
		text = FilterFinal(result.Words, s.recCfg, speaker.language)
	}
	if text == "" {
		return
	}

	if result.IsFinal {
		speaker.lastPartial = ""
	} else {
		if text == speaker.lastPartial {
			return
		}
		speaker.lastPartial = text
	}

	s.dispatchTranscription(ctx, session, speaker.cohort, text, result.IsFinal)

	if result.IsFinal && speaker.cohort == callstate.Customers {
		s.enqueueInsight(session, text)
	}
}

// dispatchTranscription delivers a transcription event to the call's sales
// participant only. If the call has no sales
// participant, or the sales participant has no Transcriber channel open, the
// event is dropped.
func (s *Service) dispatchTranscription(ctx context.Context, session *callSession, cohort callstate.Cohort, text string, isFinal bool) {
	if !session.hasSales {
		return
	}
	conn, ok := s.reg.findConn(session.salesUsername)
	if !ok {
		return
	}
	data, err := protocol.Encode(protocol.Envelope{
		Event:   protocol.EventTranscription,
		CallID:  session.callID,
		Group:   string(cohort),
		Text:    text,
		IsFinal: isFinal,
	})
	if err != nil {
		return
	}
	if err := conn.WriteText(ctx, data); err != nil {
		slog.Warn("transcriber: failed to deliver transcription", "call_id", session.callID, "to", session.salesUsername, "err", err)
	}
}

// enqueueInsight posts a final customer utterance to the call's bounded
// insight queue, dropping it if the queue is full rather than blocking the
// recognition path.
func (s *Service) enqueueInsight(session *callSession, text string) {
	item := insightItem{callID: session.callID, text: text, salesUsername: session.salesUsername}
	select {
	case session.insightQueue <- item:
		s.metrics.RecordQueueDepth(s.rootCtx, "insight", 1)
	default:
		slog.Warn("transcriber: insight queue full, dropping utterance", "call_id", session.callID)
	}
}

// runInsightDrain is the per-call insight-drain task: it dequeues one item at a time, sentinel
// terminates, calls the Insight service for each, and forwards the reply to
// the sales participant. Errors are logged and skipped without
// back-pressuring recognition.
func (s *Service) runInsightDrain(session *callSession) {
	ctx := s.rootCtx

	for item := range session.insightQueue {
		if item.sentinel {
			return
		}
		s.metrics.RecordQueueDepth(ctx, "insight", -1)
		if !session.hasSales {
			continue
		}

		replyText, err := s.insightClient.Infer(ctx, item.callID, item.text)
		if err != nil {
			slog.Warn("transcriber: insight request failed", "call_id", item.callID, "err", err)
			continue
		}

		conn, ok := s.reg.findConn(item.salesUsername)
		if !ok {
			continue
		}
		data, err := protocol.Encode(protocol.Envelope{
			Event:  protocol.EventInsight,
			CallID: item.callID,
			Text:   replyText,
		})
		if err != nil {
			continue
		}
		if err := conn.WriteText(ctx, data); err != nil {
			slog.Warn("transcriber: failed to deliver insight", "call_id", item.callID, "to", item.salesUsername, "err", err)
		}
	}
}
