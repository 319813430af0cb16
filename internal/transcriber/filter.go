package transcriber

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/vikram-naik/ws-stt-llm/internal/config"
	"github.com/vikram-naik/ws-stt-llm/pkg/provider/recognizer"
)

// rms returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer, normalized to [0,1]. Returns 0 for buffers shorter than one
// sample.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// silenceGate replaces pcm with zero-filled bytes of the same length when its
// RMS is below threshold, otherwise returns pcm unchanged. An empty chunk is already silent and is returned as-is.
func silenceGate(pcm []byte, threshold float64) []byte {
	if len(pcm) == 0 || rms(pcm) >= threshold {
		return pcm
	}
	return make([]byte, len(pcm))
}

// phrase is a contiguous run of words with no inter-word gap exceeding
// max_gap_seconds.
type phrase struct {
	words []recognizer.WordDetail
}

func (p phrase) text(language string) string {
	words := make([]string, len(p.words))
	for i, w := range p.words {
		words[i] = w.Word
	}
	return strings.Join(words, phraseSeparator(language))
}

func (p phrase) avgConfidence() float64 {
	if len(p.words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range p.words {
		sum += w.Confidence
	}
	return sum / float64(len(p.words))
}

// splitPhrases groups words into phrases, starting a new phrase whenever the
// gap between one word's end and the next word's start exceeds maxGap.
func splitPhrases(words []recognizer.WordDetail, maxGap float64) []phrase {
	if len(words) == 0 {
		return nil
	}
	var phrases []phrase
	cur := phrase{words: []recognizer.WordDetail{words[0]}}
	for i := 1; i < len(words); i++ {
		gap := words[i].Start - words[i-1].End
		if gap > maxGap {
			phrases = append(phrases, cur)
			cur = phrase{}
		}
		cur.words = append(cur.words, words[i])
	}
	phrases = append(phrases, cur)
	return phrases
}

// dedupeAdjacentRepeats collapses immediately-repeated words, an
// English-specific junk rule. A pair counts as a repeat either on exact
// case-insensitive match or when its Jaro-Winkler similarity meets
// threshold — recognizer stutters ("the the", "uh- uh") rarely come back
// byte-identical, so pure string equality misses most of them.
func dedupeAdjacentRepeats(words []recognizer.WordDetail, threshold float64) []recognizer.WordDetail {
	if len(words) == 0 {
		return words
	}
	out := make([]recognizer.WordDetail, 0, len(words))
	out = append(out, words[0])
	for i := 1; i < len(words); i++ {
		if isRepeat(words[i].Word, words[i-1].Word, threshold) {
			continue
		}
		out = append(out, words[i])
	}
	return out
}

// isRepeat reports whether b immediately repeats a.
func isRepeat(a, b string, threshold float64) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	return matchr.JaroWinkler(strings.ToLower(a), strings.ToLower(b), false) >= threshold
}

// isJunkPhrase reports whether text exactly matches one of the configured
// junk entries for language, case-insensitively.
func isJunkPhrase(text, language string, junkWords map[string][]string) bool {
	for _, junk := range junkWords[language] {
		if strings.EqualFold(strings.TrimSpace(text), junk) {
			return true
		}
	}
	return false
}

// phraseSeparator returns the language-appropriate join separator: space
// for English, empty for Japanese.
func phraseSeparator(language string) string {
	if language == "ja" {
		return ""
	}
	return " "
}

// FilterFinal applies phrase-level filtering to a final result's per-word
// detail, returning the rejoined surviving text. If
// words is empty (no per-word metadata available), the caller's original
// text should be used unfiltered — FilterFinal is only meaningful when
// per-word detail exists.
func FilterFinal(words []recognizer.WordDetail, cfg config.RecognitionConfig, language string) string {
	phrases := splitPhrases(words, cfg.MaxGapSeconds)

	var kept []string
	for _, p := range phrases {
		ws := p.words
		if language == "en" {
			ws = dedupeAdjacentRepeats(ws, cfg.RepeatSimilarityThreshold)
		}
		p = phrase{words: ws}

		if len(p.words) < cfg.MinPhraseWords {
			continue
		}
		if p.avgConfidence() < cfg.ConfidenceThreshold {
			continue
		}
		text := p.text(language)
		if isJunkPhrase(text, language, cfg.JunkWords) {
			continue
		}
		kept = append(kept, text)
	}

	return strings.Join(kept, phraseSeparator(language))
}
