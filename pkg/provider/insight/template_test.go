package insight

import "testing"

func TestParseReply_WellFormedJSON(t *testing.T) {
	result := ParseReply(`{"sentiment":"negative","key_point":"price is too high","suggestion":"offer a discount"}`)

	if result.Sentiment != "negative" {
		t.Errorf("Sentiment = %q, want %q", result.Sentiment, "negative")
	}
	if result.KeyPoint != "price is too high" {
		t.Errorf("KeyPoint = %q, want %q", result.KeyPoint, "price is too high")
	}
	if result.Suggestion != "offer a discount" {
		t.Errorf("Suggestion = %q, want %q", result.Suggestion, "offer a discount")
	}
	want := "Sentiment: negative. Key point: price is too high. Suggestion: offer a discount."
	if result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}
}

func TestParseReply_CodeFenced(t *testing.T) {
	result := ParseReply("```json\n{\"sentiment\":\"positive\",\"key_point\":\"happy with service\"}\n```")

	if result.Sentiment != "positive" {
		t.Errorf("Sentiment = %q, want %q", result.Sentiment, "positive")
	}
	if result.KeyPoint != "happy with service" {
		t.Errorf("KeyPoint = %q, want %q", result.KeyPoint, "happy with service")
	}
	if result.Suggestion != "" {
		t.Errorf("Suggestion = %q, want empty", result.Suggestion)
	}
}

func TestParseReply_UnknownSentimentFallsBackToNeutral(t *testing.T) {
	result := ParseReply(`{"sentiment":"furious","key_point":"wants a refund"}`)

	if result.Sentiment != "neutral" {
		t.Errorf("Sentiment = %q, want %q", result.Sentiment, "neutral")
	}
}

func TestParseReply_UnparseableContentFallsBackToKeyPoint(t *testing.T) {
	result := ParseReply("I think the customer sounds frustrated.")

	if result.Sentiment != "neutral" {
		t.Errorf("Sentiment = %q, want %q", result.Sentiment, "neutral")
	}
	if result.KeyPoint != "I think the customer sounds frustrated." {
		t.Errorf("KeyPoint = %q, want full content", result.KeyPoint)
	}
}

func TestParseReply_EmptyKeyPointFallsBackWhole(t *testing.T) {
	result := ParseReply(`{"sentiment":"positive","key_point":""}`)

	if result.KeyPoint == "" {
		t.Fatal("expected a non-empty fallback key point")
	}
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt(`it's too expensive`)
	want := `Customer said: "it's too expensive"`
	if got != want {
		t.Errorf("BuildPrompt = %q, want %q", got, want)
	}
}
