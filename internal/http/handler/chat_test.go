package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"crmdesk.app/chatsync/internal/gateway"
	"crmdesk.app/chatsync/internal/http/handler"
	"crmdesk.app/chatsync/internal/http/middleware"
	"crmdesk.app/chatsync/internal/model"
	"crmdesk.app/chatsync/internal/orchestrator"
)

var _ = Describe("ChatHandler", func() {
	var (
		router *gin.Engine
		orch   *mockOrchestrator
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		orch = &mockOrchestrator{}
		h := handler.NewChatHandler(orch)

		chat := router.Group("/chat")
		chat.Use(middleware.Identity())
		{
			chat.POST("/send", h.SendMessage)
			chat.POST("/feedback", h.SetFeedback)
			chat.POST("/conversations", h.NewConversation)
			chat.GET("/conversations", h.ListConversations)
			chat.GET("/conversations/:id", h.OpenConversation)
			chat.DELETE("/conversations/:id", h.DeleteConversation)
		}
	})

	do := func(method, path string, payload any) *httptest.ResponseRecorder {
		var body *bytes.Buffer
		if payload != nil {
			raw, err := json.Marshal(payload)
			Expect(err).NotTo(HaveOccurred())
			body = bytes.NewBuffer(raw)
		} else {
			body = bytes.NewBuffer(nil)
		}
		req := httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer tok-1")
		req.Header.Set("X-User-Email", "ana@example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("authentication", func() {
		It("rejects requests without a bearer token", func() {
			req := httptest.NewRequest(http.MethodPost, "/chat/send", bytes.NewBufferString(`{"text":"hola"}`))
			req.Header.Set("X-User-Email", "ana@example.com")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects requests without a user identity", func() {
			req := httptest.NewRequest(http.MethodPost, "/chat/send", bytes.NewBufferString(`{"text":"hola"}`))
			req.Header.Set("Authorization", "Bearer tok-1")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("SendMessage", func() {
		It("forwards identity and token and returns the updated conversation", func() {
			var seen orchestrator.TurnInput
			orch.sendFn = func(_ context.Context, in orchestrator.TurnInput) (*model.Conversation, error) {
				seen = in
				return &model.Conversation{
					ID:    "conv-1",
					Title: "Hola",
					Messages: []model.Message{
						{ID: "m1", Role: model.RoleUser, Content: "hola", Timestamp: time.Now()},
						{ID: "m2", Role: model.RoleAssistant, Content: "¡Hola!", Timestamp: time.Now()},
					},
				}, nil
			}

			w := do(http.MethodPost, "/chat/send", map[string]string{"text": "hola"})

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(seen.UserID).To(Equal("ana@example.com"))
			Expect(seen.Token).To(Equal("tok-1"))
			Expect(seen.Text).To(Equal("hola"))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["id"]).To(Equal("conv-1"))
			Expect(resp["messages"]).To(HaveLen(2))
		})

		It("returns 400 when the body has no text", func() {
			w := do(http.MethodPost, "/chat/send", map[string]string{})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 400 for a blank message", func() {
			orch.sendFn = func(context.Context, orchestrator.TurnInput) (*model.Conversation, error) {
				return nil, orchestrator.ErrEmptyMessage
			}
			w := do(http.MethodPost, "/chat/send", map[string]string{"text": "   "})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 409 when no conversation is active", func() {
			orch.sendFn = func(context.Context, orchestrator.TurnInput) (*model.Conversation, error) {
				return nil, orchestrator.ErrNoActiveConversation
			}
			w := do(http.MethodPost, "/chat/send", map[string]string{"text": "hola"})
			Expect(w.Code).To(Equal(http.StatusConflict))
		})

		It("returns 409 when a send is already in flight", func() {
			orch.sendFn = func(context.Context, orchestrator.TurnInput) (*model.Conversation, error) {
				return nil, orchestrator.ErrSendInFlight
			}
			w := do(http.MethodPost, "/chat/send", map[string]string{"text": "hola"})

			Expect(w.Code).To(Equal(http.StatusConflict))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["code"]).To(Equal("send_in_flight"))
		})
	})

	Describe("NewConversation", func() {
		It("returns 201 with the fresh conversation", func() {
			orch.newFn = func() model.Conversation {
				return model.Conversation{ID: "local-1", Title: "New conversation", Messages: []model.Message{}}
			}

			w := do(http.MethodPost, "/chat/conversations", nil)

			Expect(w.Code).To(Equal(http.StatusCreated))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["id"]).To(Equal("local-1"))
			Expect(resp["messages"]).To(BeEmpty())
		})
	})

	Describe("ListConversations", func() {
		It("returns the summary list", func() {
			orch.listFn = func(context.Context, string, string) ([]model.ConversationSummary, error) {
				return []model.ConversationSummary{
					{ID: "a", Title: "A", MessageCount: 4},
					{ID: "b", Title: "B", MessageCount: 2},
				}, nil
			}

			w := do(http.MethodGet, "/chat/conversations", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string][]map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["conversations"]).To(HaveLen(2))
			Expect(resp["conversations"][0]["id"]).To(Equal("a"))
		})

		It("maps a remote store outage to 502", func() {
			orch.listFn = func(context.Context, string, string) ([]model.ConversationSummary, error) {
				return nil, &gateway.PersistenceError{Status: 503, Endpoint: "/listconversations", Err: errors.New("unavailable")}
			}

			w := do(http.MethodGet, "/chat/conversations", nil)
			Expect(w.Code).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("OpenConversation", func() {
		It("returns 404 for an unknown conversation", func() {
			orch.openFn = func(context.Context, string, string, string) (*model.Conversation, error) {
				return nil, orchestrator.ErrConversationNotFound
			}

			w := do(http.MethodGet, "/chat/conversations/nope", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns the loaded conversation", func() {
			orch.openFn = func(_ context.Context, conversationID, _, _ string) (*model.Conversation, error) {
				return &model.Conversation{ID: conversationID, Title: "Ventas"}, nil
			}

			w := do(http.MethodGet, "/chat/conversations/remote-9", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["id"]).To(Equal("remote-9"))
		})
	})

	Describe("DeleteConversation", func() {
		It("returns 200 on success", func() {
			w := do(http.MethodDelete, "/chat/conversations/remote-9", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("maps a remote failure to 502", func() {
			orch.deleteFn = func(context.Context, string, string, string) error {
				return &gateway.PersistenceError{Status: 500, Endpoint: "/conversations/remote-9", Err: errors.New("boom")}
			}

			w := do(http.MethodDelete, "/chat/conversations/remote-9", nil)
			Expect(w.Code).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("SetFeedback", func() {
		It("returns the resulting feedback", func() {
			orch.setFeedbackFn = func(_ context.Context, _ string, verdict model.FeedbackVerdict, _, _ string) (*model.Feedback, error) {
				return &model.Feedback{Verdict: verdict, GivenAt: time.Now()}, nil
			}

			w := do(http.MethodPost, "/chat/feedback", map[string]string{"message_id": "m2", "verdict": "positive"})

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["feedback"]["verdict"]).To(Equal("positive"))
		})

		It("returns a null feedback when the toggle cleared it", func() {
			orch.setFeedbackFn = func(context.Context, string, model.FeedbackVerdict, string, string) (*model.Feedback, error) {
				return nil, nil
			}

			w := do(http.MethodPost, "/chat/feedback", map[string]string{"message_id": "m2", "verdict": "positive"})

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["feedback"]).To(BeNil())
		})

		It("rejects an unknown verdict", func() {
			w := do(http.MethodPost, "/chat/feedback", map[string]string{"message_id": "m2", "verdict": "meh"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for an unknown message", func() {
			orch.setFeedbackFn = func(context.Context, string, model.FeedbackVerdict, string, string) (*model.Feedback, error) {
				return nil, orchestrator.ErrMessageNotFound
			}

			w := do(http.MethodPost, "/chat/feedback", map[string]string{"message_id": "nope", "verdict": "positive"})
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})
})
