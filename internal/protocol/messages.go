package protocol

import "time"

// NarrationRequest asks the narration pipeline to speak Text.
type NarrationRequest struct {
	RequestID    string  `json:"request_id"`
	Text         string  `json:"text"`
	Voice        string  `json:"voice,omitempty"`
	Language     string  `json:"language,omitempty"`
	SpeakingRate float64 `json:"speaking_rate,omitempty"`
	Pitch        float64 `json:"pitch,omitempty"`
	OutputPath   string  `json:"output_path,omitempty"`
}

// NarrationResult is the reply to a NarrationRequest and the payload of the
// done event. Error is set when no audio was produced.
type NarrationResult struct {
	RequestID   string    `json:"request_id"`
	NarrationID string    `json:"narration_id,omitempty"`
	Path        string    `json:"path,omitempty"`
	Encoding    string    `json:"encoding,omitempty"`
	Chunks      int       `json:"chunks"`
	Dropped     []int     `json:"dropped,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	Bytes       int64     `json:"bytes"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type SummaryArticle struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// SummaryRequest summarizes Text, or combines Articles when present.
type SummaryRequest struct {
	RequestID string           `json:"request_id"`
	Text      string           `json:"text,omitempty"`
	Focus     string           `json:"focus,omitempty"`
	Articles  []SummaryArticle `json:"articles,omitempty"`
}

type SummaryResult struct {
	RequestID string    `json:"request_id"`
	Summary   string    `json:"summary,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type DigestRequest struct {
	RequestID string `json:"request_id"`
	Narrate   bool   `json:"narrate"`
}

type DigestResult struct {
	RequestID   string    `json:"request_id"`
	DigestID    string    `json:"digest_id,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Articles    int       `json:"articles"`
	NarrationID string    `json:"narration_id,omitempty"`
	AudioPath   string    `json:"audio_path,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// FeedsRefreshed is broadcast after a refresh pass.
type FeedsRefreshed struct {
	Feeds     int       `json:"feeds"`
	Articles  int       `json:"articles"`
	Failed    []string  `json:"failed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectNarrateRequest   = "tts.narrate.request"
	SubjectNarrateDone      = "tts.narrate.done"
	SubjectSummarizeRequest = "llm.summarize.request"
	SubjectDigestRequest    = "digest.generate.request"
	SubjectDigestGenerated  = "digest.generated"
	SubjectFeedsRefreshed   = "feeds.refreshed"
)
