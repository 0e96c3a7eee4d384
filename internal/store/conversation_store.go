package store

import (
	"sync"
	"time"

	"crmdesk.app/chatsync/common/id"
	"crmdesk.app/chatsync/internal/model"
)

// ConversationStore is the authoritative in-memory state for the conversation
// list and the one active conversation. It performs no I/O and knows nothing
// about the remote record; every mutation either succeeds or is a no-op on a
// missing precondition.
//
// The summary list and the active conversation must never diverge: every
// append updates the matching summary's count, last message, and timestamp in
// the same critical section.
type ConversationStore struct {
	mu        sync.RWMutex
	summaries []model.ConversationSummary
	active    *model.Conversation
}

func New() *ConversationStore {
	return &ConversationStore{}
}

// CreateNew allocates a fresh empty conversation plus its summary, prepends
// the summary to the list, and makes the conversation active. Always succeeds.
func (s *ConversationStore) CreateNew() model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv := &model.Conversation{
		ID:        id.NewString(),
		Title:     "New conversation",
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      []string{},
	}
	s.active = conv
	s.summaries = append([]model.ConversationSummary{conv.Summarize()}, s.summaries...)
	return cloneConversation(conv)
}

// SetActive replaces the active conversation. A nil argument clears it.
// When the conversation is not yet in the summary list (e.g. just loaded from
// the remote store) its summary is prepended.
func (s *ConversationStore) SetActive(conv *model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv == nil {
		s.active = nil
		return
	}
	c := cloneConversation(conv)
	s.active = &c
	if i := s.summaryIndex(c.ID); i >= 0 {
		s.summaries[i] = c.Summarize()
	} else {
		s.summaries = append([]model.ConversationSummary{c.Summarize()}, s.summaries...)
	}
}

// Active returns a copy of the active conversation, or nil when unset.
func (s *ConversationStore) Active() *model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.active == nil {
		return nil
	}
	c := cloneConversation(s.active)
	return &c
}

// Summaries returns a copy of the conversation list.
func (s *ConversationStore) Summaries() []model.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ConversationSummary, len(s.summaries))
	copy(out, s.summaries)
	return out
}

// SetSummaries replaces the conversation list wholesale (used after a remote
// list fetch). The active conversation is left untouched.
func (s *ConversationStore) SetSummaries(summaries []model.ConversationSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries = make([]model.ConversationSummary, len(summaries))
	copy(s.summaries, summaries)
}

// AppendMessage appends to the active conversation and updates its summary in
// the same step. Returns false (no-op) when no conversation is active.
func (s *ConversationStore) AppendMessage(msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return false
	}
	s.active.Messages = append(s.active.Messages, msg)
	s.active.UpdatedAt = time.Now()
	s.syncSummary()
	return true
}

// UpdateMessage merges the patch into the message with the given ID inside the
// active conversation. No-op when the active conversation is unset or the ID
// is absent.
func (s *ConversationStore) UpdateMessage(messageID string, patch model.MessagePatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return false
	}
	for i := range s.active.Messages {
		if s.active.Messages[i].ID != messageID {
			continue
		}
		msg := &s.active.Messages[i]
		if patch.Content != nil {
			msg.Content = *patch.Content
		}
		if patch.ClearFeedback {
			msg.Feedback = nil
		} else if patch.Feedback != nil {
			msg.Feedback = patch.Feedback
		}
		s.active.UpdatedAt = time.Now()
		s.syncSummary()
		return true
	}
	return false
}

// ToggleFeedback applies the idempotent feedback toggle: setting the verdict
// a message already carries clears it, anything else overwrites. Returns the
// resulting feedback (nil when cleared) and whether the message was found.
func (s *ConversationStore) ToggleFeedback(messageID string, verdict model.FeedbackVerdict) (*model.Feedback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil, false
	}
	for i := range s.active.Messages {
		if s.active.Messages[i].ID != messageID {
			continue
		}
		msg := &s.active.Messages[i]
		if msg.Feedback != nil && msg.Feedback.Verdict == verdict {
			msg.Feedback = nil
		} else {
			msg.Feedback = &model.Feedback{Verdict: verdict, GivenAt: time.Now()}
		}
		s.active.UpdatedAt = time.Now()
		s.syncSummary()
		return msg.Feedback, true
	}
	return nil, false
}

// SetTitle sets the active conversation's title and mirrors it to the summary.
func (s *ConversationStore) SetTitle(title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return false
	}
	s.active.Title = title
	s.syncSummary()
	return true
}

// AdoptID renames the active conversation to the ID allocated by the remote
// store on first persistence, keeping the summary list consistent.
func (s *ConversationStore) AdoptID(remoteID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || remoteID == "" {
		return false
	}
	oldID := s.active.ID
	s.active.ID = remoteID
	if i := s.summaryIndex(oldID); i >= 0 {
		s.summaries[i].ID = remoteID
	}
	return true
}

// Remove drops the conversation from the list and clears it as active when it
// is the active one.
func (s *ConversationStore) Remove(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.summaryIndex(conversationID); i >= 0 {
		s.summaries = append(s.summaries[:i], s.summaries[i+1:]...)
	}
	if s.active != nil && s.active.ID == conversationID {
		s.active = nil
	}
}

// syncSummary mirrors the active conversation into its summary. Callers hold
// the write lock.
func (s *ConversationStore) syncSummary() {
	if i := s.summaryIndex(s.active.ID); i >= 0 {
		s.summaries[i] = s.active.Summarize()
	}
}

func (s *ConversationStore) summaryIndex(conversationID string) int {
	for i := range s.summaries {
		if s.summaries[i].ID == conversationID {
			return i
		}
	}
	return -1
}

func cloneConversation(c *model.Conversation) model.Conversation {
	out := *c
	out.Messages = make([]model.Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	out.Tags = append([]string(nil), c.Tags...)
	return out
}
