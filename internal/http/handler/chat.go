package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"crmdesk.app/chatsync/internal/gateway"
	"crmdesk.app/chatsync/internal/http/dto"
	"crmdesk.app/chatsync/internal/http/middleware"
	"crmdesk.app/chatsync/internal/model"
	"crmdesk.app/chatsync/internal/orchestrator"
)

// ChatOrchestrator is the slice of the orchestrator the HTTP surface needs.
type ChatOrchestrator interface {
	Send(ctx context.Context, in orchestrator.TurnInput) (*model.Conversation, error)
	NewConversation() model.Conversation
	Open(ctx context.Context, conversationID, userID, token string) (*model.Conversation, error)
	List(ctx context.Context, userID, token string) ([]model.ConversationSummary, error)
	Delete(ctx context.Context, conversationID, userID, token string) error
	SetFeedback(ctx context.Context, messageID string, verdict model.FeedbackVerdict, userID, token string) (*model.Feedback, error)
	Active() *model.Conversation
}

type ChatHandler struct {
	orch ChatOrchestrator
}

func NewChatHandler(orch ChatOrchestrator) *ChatHandler {
	return &ChatHandler{orch: orch}
}

// SendMessage runs one turn against the active conversation. Failures past
// the preconditions surface as a normal assistant message, so this endpoint
// only errors on bad input or send-discipline violations.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: text is required"})
		return
	}

	conv, err := h.orch.Send(ctx, orchestrator.TurnInput{
		UserID: c.GetString(middleware.ContextUserID),
		Text:   req.Text,
		Token:  c.GetString(middleware.ContextToken),
	})
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is blank", "code": "empty_message"})
		case errors.Is(err, orchestrator.ErrNoActiveConversation):
			c.JSON(http.StatusConflict, gin.H{"error": "no active conversation", "code": "no_active_conversation"})
		case errors.Is(err, orchestrator.ErrSendInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": "a send is already in flight", "code": "send_in_flight"})
		default:
			slog.ErrorContext(ctx, "send failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ToConversationResponse(conv))
}

// NewConversation starts a fresh conversation and makes it active.
func (h *ChatHandler) NewConversation(c *gin.Context) {
	conv := h.orch.NewConversation()
	c.JSON(http.StatusCreated, dto.ToConversationResponse(&conv))
}

// GetActive returns the active conversation, if any.
func (h *ChatHandler) GetActive(c *gin.Context) {
	conv := h.orch.Active()
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active conversation"})
		return
	}
	c.JSON(http.StatusOK, dto.ToConversationResponse(conv))
}

// ListConversations refreshes and returns the conversation list.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()

	summaries, err := h.orch.List(ctx, c.GetString(middleware.ContextUserID), c.GetString(middleware.ContextToken))
	if err != nil {
		h.persistenceError(c, "failed to list conversations", err)
		return
	}

	resp := dto.ListConversationsResponse{
		Conversations: make([]dto.ConversationSummaryResponse, len(summaries)),
	}
	for i, s := range summaries {
		resp.Conversations[i] = dto.ToSummaryResponse(s)
	}
	c.JSON(http.StatusOK, resp)
}

// OpenConversation loads a conversation from the remote store and makes it
// the active one.
func (h *ChatHandler) OpenConversation(c *gin.Context) {
	ctx := c.Request.Context()

	conv, err := h.orch.Open(ctx, c.Param("id"), c.GetString(middleware.ContextUserID), c.GetString(middleware.ContextToken))
	if err != nil {
		if errors.Is(err, orchestrator.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.persistenceError(c, "failed to open conversation", err)
		return
	}

	c.JSON(http.StatusOK, dto.ToConversationResponse(conv))
}

// DeleteConversation removes the conversation remotely and locally.
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.orch.Delete(ctx, c.Param("id"), c.GetString(middleware.ContextUserID), c.GetString(middleware.ContextToken)); err != nil {
		h.persistenceError(c, "failed to delete conversation", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// SetFeedback toggles feedback on a message in the active conversation.
func (h *ChatHandler) SetFeedback(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: message_id and verdict are required"})
		return
	}

	fb, err := h.orch.SetFeedback(ctx, req.MessageID, model.FeedbackVerdict(req.Verdict),
		c.GetString(middleware.ContextUserID), c.GetString(middleware.ContextToken))
	if err != nil {
		if errors.Is(err, orchestrator.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to set feedback", "error", err, "message_id", req.MessageID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set feedback"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"feedback": dto.ToFeedbackResponse(fb)})
}

// persistenceError maps remote store failures to 502 so the UI can tell a
// backend outage from a bug in this service.
func (h *ChatHandler) persistenceError(c *gin.Context, msg string, err error) {
	ctx := c.Request.Context()
	slog.ErrorContext(ctx, msg, "error", err)

	var perr *gateway.PersistenceError
	if errors.As(err, &perr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "conversation store unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
