package gateway

import (
	"context"
	"log/slog"
	"time"

	"crmdesk.app/chatsync/internal/model"
)

// wireConversation mirrors the remote conversation record. Timestamp fields
// are typed `any` on the way in: the store has returned numbers, nulls, and
// malformed strings in the wild, and a bad timestamp must never fail a fetch.
type wireConversation struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	Title       string        `json:"title"`
	CreatedAt   any           `json:"createdAt"`
	UpdatedAt   any           `json:"updatedAt"`
	Tags        []string      `json:"tags"`
	IsArchived  bool          `json:"isArchived"`
	TotalTokens int           `json:"totalTokens"`
	Messages    []wireMessage `json:"messages"`
}

type wireMessage struct {
	MessageID    string             `json:"messageId"`
	Role         string             `json:"role"`
	Content      string             `json:"content"`
	Timestamp    any                `json:"timestamp"`
	Data         *wireTable         `json:"data,omitempty"`
	Chart        map[string]any     `json:"chart,omitempty"`
	DownloadLink *wireDownloadLink  `json:"downloadLink,omitempty"`
	VideoPreview *wireVideoPreview  `json:"videoPreview,omitempty"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
	Feedback     *wireFeedback      `json:"feedback,omitempty"`
}

type wireTable struct {
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

type wireDownloadLink struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type wireVideoPreview struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type wireFeedback struct {
	Verdict string `json:"verdict"`
	GivenAt any    `json:"givenAt"`
}

type wireSummary struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	MessageCount int      `json:"messageCount"`
	LastMessage  string   `json:"lastMessage"`
	CreatedAt    any      `json:"createdAt"`
	UpdatedAt    any      `json:"updatedAt"`
	Tags         []string `json:"tags"`
}

// toInternal maps a remote record onto the internal model. Message order is
// preserved as-is; every timestamp is parsed defensively, substituting the
// current time for anything unparsable rather than propagating an invalid
// value.
func toInternal(ctx context.Context, record wireConversation) model.Conversation {
	conv := model.Conversation{
		ID:          record.ID,
		Title:       record.Title,
		CreatedAt:   parseTimestamp(ctx, record.CreatedAt),
		UpdatedAt:   parseTimestamp(ctx, record.UpdatedAt),
		Tags:        record.Tags,
		IsArchived:  record.IsArchived,
		TotalTokens: record.TotalTokens,
		Messages:    make([]model.Message, 0, len(record.Messages)),
	}
	if conv.Tags == nil {
		conv.Tags = []string{}
	}

	for _, wm := range record.Messages {
		msg := model.Message{
			ID:        wm.MessageID,
			Role:      model.MessageRole(wm.Role),
			Content:   wm.Content,
			Timestamp: parseTimestamp(ctx, wm.Timestamp),
			Metadata:  wm.Metadata,
		}
		if wm.Data != nil {
			msg.Table = &model.Table{Headers: wm.Data.Headers, Rows: wm.Data.Rows}
		}
		if wm.Chart != nil {
			msg.Chart = &model.Chart{Spec: wm.Chart}
		}
		if wm.DownloadLink != nil {
			msg.DownloadLink = &model.DownloadLink{URL: wm.DownloadLink.URL, Filename: wm.DownloadLink.Filename}
		}
		if wm.VideoPreview != nil {
			msg.VideoPreview = &model.VideoPreview{URL: wm.VideoPreview.URL, Title: wm.VideoPreview.Title}
		}
		if wm.Feedback != nil {
			msg.Feedback = &model.Feedback{
				Verdict: model.FeedbackVerdict(wm.Feedback.Verdict),
				GivenAt: parseTimestamp(ctx, wm.Feedback.GivenAt),
			}
		}
		conv.Messages = append(conv.Messages, msg)
	}

	return conv
}

// toWire maps the internal model back to the remote record shape. Timestamps
// always serialize as RFC 3339 strings.
func toWire(conv *model.Conversation, userID string) wireConversation {
	record := wireConversation{
		ID:          conv.ID,
		UserID:      userID,
		Title:       conv.Title,
		CreatedAt:   conv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   conv.UpdatedAt.Format(time.RFC3339),
		Tags:        conv.Tags,
		IsArchived:  conv.IsArchived,
		TotalTokens: conv.TotalTokens,
		Messages:    make([]wireMessage, 0, len(conv.Messages)),
	}
	if record.Tags == nil {
		record.Tags = []string{}
	}

	for _, msg := range conv.Messages {
		wm := wireMessage{
			MessageID: msg.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: msg.Timestamp.Format(time.RFC3339),
			Metadata:  msg.Metadata,
		}
		if msg.Table != nil {
			wm.Data = &wireTable{Headers: msg.Table.Headers, Rows: msg.Table.Rows}
		}
		if msg.Chart != nil {
			wm.Chart = msg.Chart.Spec
		}
		if msg.DownloadLink != nil {
			wm.DownloadLink = &wireDownloadLink{URL: msg.DownloadLink.URL, Filename: msg.DownloadLink.Filename}
		}
		if msg.VideoPreview != nil {
			wm.VideoPreview = &wireVideoPreview{URL: msg.VideoPreview.URL, Title: msg.VideoPreview.Title}
		}
		if msg.Feedback != nil {
			wm.Feedback = &wireFeedback{
				Verdict: string(msg.Feedback.Verdict),
				GivenAt: msg.Feedback.GivenAt.Format(time.RFC3339),
			}
		}
		record.Messages = append(record.Messages, wm)
	}

	return record
}

func toSummaries(ctx context.Context, wire []wireSummary) []model.ConversationSummary {
	out := make([]model.ConversationSummary, 0, len(wire))
	for _, ws := range wire {
		tags := ws.Tags
		if tags == nil {
			tags = []string{}
		}
		out = append(out, model.ConversationSummary{
			ID:           ws.ID,
			Title:        ws.Title,
			MessageCount: ws.MessageCount,
			LastMessage:  ws.LastMessage,
			CreatedAt:    parseTimestamp(ctx, ws.CreatedAt),
			UpdatedAt:    parseTimestamp(ctx, ws.UpdatedAt),
			Tags:         tags,
		})
	}
	return out
}

// parseTimestamp parses a wire timestamp defensively. Anything that is not a
// parsable RFC 3339 string becomes the current time; the substitution is
// logged as recovered, never surfaced.
func parseTimestamp(ctx context.Context, v any) time.Time {
	s, ok := v.(string)
	if !ok {
		if v != nil {
			slog.DebugContext(ctx, "recovered from non-string timestamp", "value", v)
		}
		return time.Now()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		slog.DebugContext(ctx, "recovered from malformed timestamp", "value", s)
		return time.Now()
	}
	return t
}
