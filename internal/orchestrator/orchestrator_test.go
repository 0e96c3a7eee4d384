package orchestrator_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"crmdesk.app/chatsync/internal/agent"
	"crmdesk.app/chatsync/internal/events"
	"crmdesk.app/chatsync/internal/model"
	"crmdesk.app/chatsync/internal/orchestrator"
	"crmdesk.app/chatsync/internal/store"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctx      context.Context
		st       *store.ConversationStore
		gw       *mockGateway
		inv      *mockInvoker
		producer *mockProducer
		orch     *orchestrator.Orchestrator
	)

	input := func(text string) orchestrator.TurnInput {
		return orchestrator.TurnInput{UserID: "ana@example.com", Text: text, Token: "tok-1"}
	}

	BeforeEach(func() {
		ctx = context.Background()
		st = store.New()
		gw = &mockGateway{}
		inv = &mockInvoker{}
		producer = &mockProducer{}
		orch = orchestrator.New(st, gw, inv, producer, 48)
	})

	Describe("Send", func() {
		It("rejects a blank message without touching any state", func() {
			orch.NewConversation()
			_, err := orch.Send(ctx, input("   \n\t "))

			Expect(err).To(MatchError(orchestrator.ErrEmptyMessage))
			Expect(orch.Active().Messages).To(BeEmpty())
		})

		It("rejects a send when no conversation is active", func() {
			_, err := orch.Send(ctx, input("hola"))
			Expect(err).To(MatchError(orchestrator.ErrNoActiveConversation))
		})

		It("runs a first turn end to end: create, persist, invoke, commit", func() {
			inv.invokeFn = func(_ context.Context, _ agent.Request) agent.Result {
				return agent.Result{Text: "¡Hola! ¿En qué puedo ayudarte?", ProcessingTime: 80 * time.Millisecond}
			}
			orch.NewConversation()

			conv, err := orch.Send(ctx, input("Hola"))
			Expect(err).NotTo(HaveOccurred())

			creates, updates, _ := gw.counts()
			Expect(creates).To(Equal(1))
			Expect(updates).To(Equal(2))

			// The remote store allocated the ID; local state adopted it.
			Expect(conv.ID).To(Equal("remote-1"))
			Expect(conv.Title).To(Equal("Hola"))
			Expect(conv.Messages).To(HaveLen(2))
			Expect(conv.Messages[0].Role).To(Equal(model.RoleUser))
			Expect(conv.Messages[0].Content).To(Equal("Hola"))
			Expect(conv.Messages[1].Role).To(Equal(model.RoleAssistant))
			Expect(conv.Messages[1].Content).To(Equal("¡Hola! ¿En qué puedo ayudarte?"))

			// First update carries only the user turn, second one both turns.
			snaps := gw.updateSnapshots()
			Expect(snaps[0].Messages).To(HaveLen(1))
			Expect(snaps[1].Messages).To(HaveLen(2))

			reqs := inv.seen()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].ConversationID).To(Equal("remote-1"))
			Expect(*reqs[0].Question).To(Equal("Hola"))
			Expect(reqs[0].AuthToken).To(Equal("tok-1"))

			published := producer.published()
			Expect(published).To(HaveLen(1))
			Expect(published[0].Outcome).To(Equal(events.OutcomeAnswered))
			Expect(published[0].Turn).To(Equal(1))
		})

		It("does not create the remote record twice across turns", func() {
			orch.NewConversation()
			_, err := orch.Send(ctx, input("primera"))
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.Send(ctx, input("segunda"))
			Expect(err).NotTo(HaveOccurred())

			creates, updates, _ := gw.counts()
			Expect(creates).To(Equal(1))
			Expect(updates).To(Equal(4))
		})

		It("keeps the first turn's title on later turns", func() {
			orch.NewConversation()
			_, _ = orch.Send(ctx, input("Ventas del tercer trimestre por región"))
			conv, err := orch.Send(ctx, input("¿y el cuarto?"))

			Expect(err).NotTo(HaveOccurred())
			Expect(conv.Title).To(Equal("Ventas del tercer trimestre por región"))
		})

		It("trims surrounding whitespace before appending", func() {
			orch.NewConversation()
			conv, err := orch.Send(ctx, input("  hola  "))

			Expect(err).NotTo(HaveOccurred())
			Expect(conv.Messages[0].Content).To(Equal("hola"))
		})

		It("rejects a second send while one is in flight", func() {
			release := make(chan struct{})
			entered := make(chan struct{})
			inv.invokeFn = func(_ context.Context, _ agent.Request) agent.Result {
				close(entered)
				<-release
				return agent.Result{Text: "slow"}
			}
			orch.NewConversation()

			done := make(chan error, 1)
			go func() {
				_, err := orch.Send(ctx, input("lenta"))
				done <- err
			}()

			Eventually(entered).Should(BeClosed())
			_, err := orch.Send(ctx, input("otra"))
			Expect(err).To(MatchError(orchestrator.ErrSendInFlight))

			close(release)
			Expect(<-done).NotTo(HaveOccurred())
		})

		It("degrades the turn with a readable assistant message when the remote create fails", func() {
			gw.createFn = func(context.Context, string, string, string) (string, error) {
				return "", errors.New("store unreachable")
			}
			orch.NewConversation()

			conv, err := orch.Send(ctx, input("hola"))
			Expect(err).NotTo(HaveOccurred())

			Expect(conv.Messages).To(HaveLen(2))
			Expect(conv.Messages[1].Role).To(Equal(model.RoleAssistant))
			Expect(conv.Messages[1].Content).To(ContainSubstring("couldn't save"))
			Expect(inv.seen()).To(BeEmpty())

			published := producer.published()
			Expect(published).To(HaveLen(1))
			Expect(published[0].Outcome).To(Equal(events.OutcomeDegraded))
		})

		It("retries the remote create on the next turn after a failed first persistence", func() {
			fail := true
			gw.createFn = func(context.Context, string, string, string) (string, error) {
				if fail {
					return "", errors.New("store unreachable")
				}
				return "remote-1", nil
			}
			orch.NewConversation()

			_, _ = orch.Send(ctx, input("primera"))
			fail = false
			conv, err := orch.Send(ctx, input("segunda"))

			Expect(err).NotTo(HaveOccurred())
			creates, _, _ := gw.counts()
			Expect(creates).To(Equal(2))
			Expect(conv.ID).To(Equal("remote-1"))
		})

		It("still returns the answer when only the final persistence fails", func() {
			calls := 0
			gw.updateFn = func(context.Context, string, string, *model.Conversation, string) error {
				calls++
				if calls == 2 {
					return errors.New("store unreachable")
				}
				return nil
			}
			orch.NewConversation()

			conv, err := orch.Send(ctx, input("hola"))
			Expect(err).NotTo(HaveOccurred())

			Expect(conv.Messages).To(HaveLen(2))
			Expect(conv.Messages[1].Content).To(Equal("mock answer"))

			published := producer.published()
			Expect(published).To(HaveLen(1))
			Expect(published[0].Outcome).To(Equal(events.OutcomePersistLost))
		})

		It("surfaces agent attachments on the assistant message", func() {
			inv.invokeFn = func(_ context.Context, _ agent.Request) agent.Result {
				return agent.Result{
					Text:  "here you go",
					Table: &model.Table{Headers: []string{"region"}, Rows: [][]any{{"norte"}}},
					Chart: &model.Chart{Spec: map[string]any{"type": "bar"}},
				}
			}
			orch.NewConversation()

			conv, err := orch.Send(ctx, input("dame la tabla"))
			Expect(err).NotTo(HaveOccurred())

			assistant := conv.Messages[1]
			Expect(assistant.Table).NotTo(BeNil())
			Expect(assistant.Table.Headers).To(Equal([]string{"region"}))
			Expect(assistant.Chart).NotTo(BeNil())
		})
	})

	Describe("Open", func() {
		It("makes the loaded conversation active and skips create on the next turn", func() {
			loaded := model.Conversation{
				ID:    "remote-9",
				Title: "Ventas",
				Messages: []model.Message{
					{ID: "m1", Role: model.RoleUser, Content: "hola", Timestamp: time.Now()},
				},
			}
			gw.getFn = func(context.Context, string, string, string) (*model.Conversation, error) {
				return &loaded, nil
			}

			conv, err := orch.Open(ctx, "remote-9", "ana@example.com", "tok-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.ID).To(Equal("remote-9"))
			Expect(orch.Active().ID).To(Equal("remote-9"))

			_, err = orch.Send(ctx, input("otra pregunta"))
			Expect(err).NotTo(HaveOccurred())
			creates, _, _ := gw.counts()
			Expect(creates).To(BeZero())
		})

		It("maps a missing remote conversation to a not-found error", func() {
			_, err := orch.Open(ctx, "nope", "ana@example.com", "tok-1")
			Expect(err).To(MatchError(orchestrator.ErrConversationNotFound))
		})
	})

	Describe("List", func() {
		It("replaces the local summary list with the remote one", func() {
			gw.listFn = func(context.Context, string, string) ([]model.ConversationSummary, error) {
				return []model.ConversationSummary{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}, nil
			}

			summaries, err := orch.List(ctx, "ana@example.com", "tok-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(2))
			Expect(orch.Summaries()).To(HaveLen(2))
		})
	})

	Describe("Delete", func() {
		It("removes local state only after the remote delete succeeds", func() {
			orch.NewConversation()
			_, _ = orch.Send(ctx, input("hola"))

			Expect(orch.Delete(ctx, "remote-1", "ana@example.com", "tok-1")).To(Succeed())
			Expect(orch.Active()).To(BeNil())
			Expect(orch.Summaries()).To(BeEmpty())
		})

		It("keeps local state when the remote delete fails", func() {
			gw.deleteFn = func(context.Context, string, string, string) error {
				return errors.New("store unreachable")
			}
			orch.NewConversation()
			_, _ = orch.Send(ctx, input("hola"))

			Expect(orch.Delete(ctx, "remote-1", "ana@example.com", "tok-1")).NotTo(Succeed())
			Expect(orch.Active()).NotTo(BeNil())
		})
	})

	Describe("SetFeedback", func() {
		It("toggles feedback and mirrors the conversation remotely", func() {
			orch.NewConversation()
			conv, _ := orch.Send(ctx, input("hola"))
			assistantID := conv.Messages[1].ID
			_, updatesBefore, _ := gw.counts()

			fb, err := orch.SetFeedback(ctx, assistantID, model.FeedbackPositive, "ana@example.com", "tok-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(fb.Verdict).To(Equal(model.FeedbackPositive))

			_, updatesAfter, _ := gw.counts()
			Expect(updatesAfter).To(Equal(updatesBefore + 1))
		})

		It("clears feedback when the same verdict is applied twice", func() {
			orch.NewConversation()
			conv, _ := orch.Send(ctx, input("hola"))
			assistantID := conv.Messages[1].ID

			_, _ = orch.SetFeedback(ctx, assistantID, model.FeedbackNegative, "ana@example.com", "tok-1")
			fb, err := orch.SetFeedback(ctx, assistantID, model.FeedbackNegative, "ana@example.com", "tok-1")

			Expect(err).NotTo(HaveOccurred())
			Expect(fb).To(BeNil())
		})

		It("returns a not-found error for an unknown message", func() {
			orch.NewConversation()
			_, err := orch.SetFeedback(ctx, "nope", model.FeedbackPositive, "ana@example.com", "tok-1")
			Expect(err).To(MatchError(orchestrator.ErrMessageNotFound))
		})
	})
})
