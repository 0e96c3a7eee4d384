package model

import "time"

// MessageRole identifies which side of the conversation produced a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// FeedbackVerdict is the user's thumbs-up/down on an assistant message.
type FeedbackVerdict string

const (
	FeedbackPositive FeedbackVerdict = "positive"
	FeedbackNegative FeedbackVerdict = "negative"
)

type Feedback struct {
	Verdict FeedbackVerdict `json:"verdict"`
	GivenAt time.Time       `json:"given_at"`
}

// Table is a normalized tabular dataset attached to an assistant message.
type Table struct {
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

// Chart carries an opaque chart spec produced by the agent. The spec is
// rendered client-side and never interpreted here.
type Chart struct {
	Spec map[string]any `json:"spec"`
}

type DownloadLink struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type VideoPreview struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Message is one conversational turn. Payload fields are assistant-only in
// practice; at most one of each is set.
type Message struct {
	ID           string         `json:"id"`
	Role         MessageRole    `json:"role"`
	Content      string         `json:"content"`
	Timestamp    time.Time      `json:"timestamp"`
	Table        *Table         `json:"table,omitempty"`
	Chart        *Chart         `json:"chart,omitempty"`
	DownloadLink *DownloadLink  `json:"download_link,omitempty"`
	VideoPreview *VideoPreview  `json:"video_preview,omitempty"`
	Feedback     *Feedback      `json:"feedback,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// MessagePatch is an in-place merge applied by the conversation store.
// Nil fields are left untouched; ClearFeedback removes feedback regardless of
// the Feedback field.
type MessagePatch struct {
	Content       *string
	Feedback      *Feedback
	ClearFeedback bool
}

// Conversation is one chat session, owned by one user. Messages are
// append-only from the UI's perspective; feedback edits are the only in-place
// mutation.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Tags        []string  `json:"tags"`
	IsArchived  bool      `json:"is_archived"`
	TotalTokens int       `json:"total_tokens"`
}

// ConversationSummary is the lightweight list-view projection of a
// Conversation. Derived, never independently persisted.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	LastMessage  string    `json:"last_message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Tags         []string  `json:"tags"`
}

// Summarize recomputes the list-view projection from the authoritative
// conversation.
func (c *Conversation) Summarize() ConversationSummary {
	s := ConversationSummary{
		ID:           c.ID,
		Title:        c.Title,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Tags:         c.Tags,
	}
	if n := len(c.Messages); n > 0 {
		s.LastMessage = c.Messages[n-1].Content
	}
	return s
}
