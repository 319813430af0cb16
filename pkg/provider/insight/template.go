package insight

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SystemPrompt is the fixed instruction sent ahead of every customer
// utterance. It asks the model for exactly the three commentary fields:
// sentiment label, key point, suggestion.
const SystemPrompt = `You are listening live to one side of a sales call. You will be given a single utterance spoken by the customer. Reply with ONLY a JSON object of the form {"sentiment":"positive|neutral|negative","key_point":"<short phrase>","suggestion":"<short actionable suggestion for the sales rep>"}. Keep every field under 12 words. Do not include any text outside the JSON object.`

// BuildPrompt renders the user-turn prompt for a single customer utterance.
func BuildPrompt(text string) string {
	return fmt.Sprintf("Customer said: %q", text)
}

// modelReply is the JSON shape the model is instructed to return.
type modelReply struct {
	Sentiment  string `json:"sentiment"`
	KeyPoint   string `json:"key_point"`
	Suggestion string `json:"suggestion"`
}

// ParseReply decodes the model's raw completion content into a Result,
// tolerating a reply wrapped in a fenced code block (some backends ignore
// "no text outside the JSON object" and wrap it in markdown anyway). If the
// content cannot be parsed as the expected JSON shape, it falls back to
// treating the whole trimmed content as the key point with a neutral
// sentiment and no suggestion, rather than failing the request outright —
// the commentary is best-effort, not a hard contract on the wire.
func ParseReply(content string) Result {
	raw := stripCodeFence(content)

	var reply modelReply
	if err := json.Unmarshal([]byte(raw), &reply); err == nil && reply.KeyPoint != "" {
		return render(reply)
	}

	return render(modelReply{Sentiment: "neutral", KeyPoint: strings.TrimSpace(content)})
}

// render fills the fixed template with reply's fields.
func render(reply modelReply) Result {
	sentiment := strings.ToLower(strings.TrimSpace(reply.Sentiment))
	if sentiment != "positive" && sentiment != "negative" && sentiment != "neutral" {
		sentiment = "neutral"
	}
	keyPoint := strings.TrimSpace(reply.KeyPoint)
	suggestion := strings.TrimSpace(reply.Suggestion)

	var b strings.Builder
	fmt.Fprintf(&b, "Sentiment: %s. Key point: %s.", sentiment, keyPoint)
	if suggestion != "" {
		fmt.Fprintf(&b, " Suggestion: %s.", suggestion)
	}

	return Result{
		Sentiment:  sentiment,
		KeyPoint:   keyPoint,
		Suggestion: suggestion,
		Text:       b.String(),
	}
}

// stripCodeFence removes a surrounding ```json ... ``` or ``` ... ``` fence,
// if present, and trims whitespace.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimPrefix(s, "JSON")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
