package dto

import (
	"time"

	"crmdesk.app/chatsync/internal/model"
)

// SendMessageRequest is one user turn submitted by the UI.
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// FeedbackRequest applies the idempotent feedback toggle to a message.
type FeedbackRequest struct {
	MessageID string `json:"message_id" binding:"required"`
	Verdict   string `json:"verdict" binding:"required,oneof=positive negative"`
}

type TableResponse struct {
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

type ChartResponse struct {
	Spec map[string]any `json:"spec"`
}

type DownloadLinkResponse struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type FeedbackResponse struct {
	Verdict string `json:"verdict"`
	GivenAt string `json:"given_at"`
}

type MessageResponse struct {
	ID           string                `json:"id"`
	Role         string                `json:"role"`
	Content      string                `json:"content"`
	Timestamp    string                `json:"timestamp"`
	Table        *TableResponse        `json:"table,omitempty"`
	Chart        *ChartResponse        `json:"chart,omitempty"`
	DownloadLink *DownloadLinkResponse `json:"download_link,omitempty"`
	Feedback     *FeedbackResponse     `json:"feedback,omitempty"`
	Metadata     map[string]any        `json:"metadata,omitempty"`
}

type ConversationResponse struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Messages  []MessageResponse `json:"messages"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
	Tags      []string          `json:"tags"`
}

type ConversationSummaryResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MessageCount int    `json:"message_count"`
	LastMessage  string `json:"last_message"`
	UpdatedAt    string `json:"updated_at"`
}

type ListConversationsResponse struct {
	Conversations []ConversationSummaryResponse `json:"conversations"`
}

func ToConversationResponse(conv *model.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:        conv.ID,
		Title:     conv.Title,
		Messages:  make([]MessageResponse, len(conv.Messages)),
		CreatedAt: conv.CreatedAt.Format(time.RFC3339),
		UpdatedAt: conv.UpdatedAt.Format(time.RFC3339),
		Tags:      conv.Tags,
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	for i := range conv.Messages {
		resp.Messages[i] = toMessageResponse(&conv.Messages[i])
	}
	return resp
}

func ToSummaryResponse(s model.ConversationSummary) ConversationSummaryResponse {
	return ConversationSummaryResponse{
		ID:           s.ID,
		Title:        s.Title,
		MessageCount: s.MessageCount,
		LastMessage:  s.LastMessage,
		UpdatedAt:    s.UpdatedAt.Format(time.RFC3339),
	}
}

func ToFeedbackResponse(fb *model.Feedback) *FeedbackResponse {
	if fb == nil {
		return nil
	}
	return &FeedbackResponse{
		Verdict: string(fb.Verdict),
		GivenAt: fb.GivenAt.Format(time.RFC3339),
	}
}

func toMessageResponse(msg *model.Message) MessageResponse {
	resp := MessageResponse{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Timestamp: msg.Timestamp.Format(time.RFC3339),
		Feedback:  ToFeedbackResponse(msg.Feedback),
		Metadata:  msg.Metadata,
	}
	if msg.Table != nil {
		resp.Table = &TableResponse{Headers: msg.Table.Headers, Rows: msg.Table.Rows}
	}
	if msg.Chart != nil {
		resp.Chart = &ChartResponse{Spec: msg.Chart.Spec}
	}
	if msg.DownloadLink != nil {
		resp.DownloadLink = &DownloadLinkResponse{URL: msg.DownloadLink.URL, Filename: msg.DownloadLink.Filename}
	}
	return resp
}
