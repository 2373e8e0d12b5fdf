package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Confidence labels for assistant messages.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Thread is one conversation, scoped to exactly one channel. The channel
// binding is immutable after creation.
type Thread struct {
	ID        string    `json:"thread_id"`
	ChannelID string    `json:"channel_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a thread. Confidence is set only on assistant
// messages; FollowUpQuestions is empty on user messages.
type Message struct {
	ID                int64          `json:"message_id"`
	ThreadID          string         `json:"thread_id"`
	Role              string         `json:"role"`
	Text              string         `json:"text"`
	Confidence        string         `json:"confidence,omitempty"`
	FollowUpQuestions []string       `json:"follow_up_questions"`
	Evidence          []EvidenceItem `json:"evidence"`
	CreatedAt         time.Time      `json:"created_at"`
}

// EvidenceItem is a single fact cited in support of an assistant answer,
// traceable to a source table and record key.
type EvidenceItem struct {
	EvidenceID     string `json:"evidence_id"`
	Tool           string `json:"tool"`
	Label          string `json:"label"`
	Value          string `json:"value"`
	SourceTable    string `json:"source_table"`
	SourceRecordID string `json:"source_record_id"`
}

type Channel struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SubscriberCount int64  `json:"subscriber_count"`
	TotalViews      int64  `json:"total_views"`
}

type Video struct {
	ID          string `json:"id"`
	ChannelID   string `json:"channel_id"`
	Title       string `json:"title"`
	ViewCount   int64  `json:"view_count"`
	LikeCount   int64  `json:"like_count"`
	PublishedAt string `json:"published_at"`
}

type Anomaly struct {
	ID          int64  `json:"id"`
	ChannelID   string `json:"channel_id"`
	Metric      string `json:"metric"`
	Date        string `json:"date"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

type AskInput struct {
	ChannelID    string `json:"channel_id"`
	Question     string `json:"question"`
	DateFrom     string `json:"date_from,omitempty"`
	DateTo       string `json:"date_to,omitempty"`
	ThreadID     string `json:"thread_id,omitempty"`
	TargetMetric string `json:"target_metric,omitempty"`
}

type AskResult struct {
	ThreadID          string         `json:"thread_id"`
	MessageID         int64          `json:"message_id"`
	Answer            string         `json:"answer"`
	Confidence        string         `json:"confidence"`
	FollowUpQuestions []string       `json:"follow_up_questions"`
	Evidence          []EvidenceItem `json:"evidence"`
	UsedStub          bool           `json:"used_stub"`
	CreatedAt         time.Time      `json:"created_at"`
}

type ThreadListInput struct {
	ChannelID string `json:"channel_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ThreadSummary annotates a thread with the text of its most recent user
// message; LastQuestion is nil when the thread somehow has none.
type ThreadSummary struct {
	ThreadID     string    `json:"thread_id"`
	ChannelID    string    `json:"channel_id"`
	Title        string    `json:"title"`
	LastQuestion *string   `json:"last_question"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ThreadListResult struct {
	Items []ThreadSummary `json:"items"`
}

type ThreadMessagesInput struct {
	ThreadID string `json:"thread_id"`
}

type ThreadMessagesResult struct {
	ThreadID  string    `json:"thread_id"`
	ChannelID string    `json:"channel_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
}
