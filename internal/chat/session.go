// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/hackchat/internal/completions"
	"github.com/morganforge/hackchat/internal/model"
	"github.com/morganforge/hackchat/internal/netcheck"
	"github.com/morganforge/hackchat/internal/store"
	"github.com/morganforge/hackchat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBusy is returned when an operation needs the session idle but
	// a response is still streaming.
	ErrBusy = errors.New("a response is already in progress")

	// ErrEmptyMessage is returned for a blank send.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNotEditable is returned when editing a non-user message.
	ErrNotEditable = errors.New("only user messages can be edited")
)

// =============================================================================
// USER-FACING ERROR TEXT
// =============================================================================

// noChoicesText is surfaced when the server streams a chunk without
// any choice. The stream keeps going; the condition is soft.
const noChoicesText = "The server sent an unrecognized response."

// errorText maps a send failure to the message surfaced on the chat.
// Cancellation never reaches here.
func errorText(err error) string {
	var apiErr *completions.APIError
	switch {
	case errors.Is(err, netcheck.ErrOffline):
		return "You're offline. Check your connection and try again."
	case errors.Is(err, completions.ErrRateLimited):
		return "You're sending messages too quickly. Wait a moment and try again."
	case errors.Is(err, completions.ErrEmptyStream):
		return "The server sent an empty response. Try again."
	case errors.As(err, &apiErr):
		return "The server returned an error. Try again."
	default:
		return "Couldn't reach the server. Check your connection and try again."
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Completer is the streaming surface the session needs from the
// completions client.
type Completer interface {
	ChatStream(ctx context.Context, messages []completions.ChatMessage, callback completions.StreamCallback) error
	ChatStreamAccumulate(ctx context.Context, messages []completions.ChatMessage) (string, error)
}

// Session drives one chat's message lifecycle against the store and
// the completions endpoint.
type Session struct {
	chatID string
	store  *store.Store
	client Completer
	net    *netcheck.Monitor // nil disables the reachability guard

	mu       sync.Mutex
	current  string // correlation ID of the in-flight send, "" if idle
	cancelFn context.CancelFunc

	// wg tracks background goroutines for tests.
	wg sync.WaitGroup
}

// NewSession binds a session to an existing chat.
func NewSession(st *store.Store, client Completer, monitor *netcheck.Monitor, chatID string) (*Session, error) {
	if _, err := st.Chat(chatID); err != nil {
		return nil, err
	}
	return &Session{
		chatID: chatID,
		store:  st,
		client: client,
		net:    monitor,
	}, nil
}

// ChatID returns the bound chat's ID.
func (s *Session) ChatID() string {
	return s.chatID
}

// IsResponding reports whether a completion is in flight.
func (s *Session) IsResponding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != ""
}

// Wait blocks until background work (streams, title derivation) has
// finished. Intended for tests and shutdown.
func (s *Session) Wait() {
	s.wg.Wait()
}

// =============================================================================
// SEND
// =============================================================================

// SendMessage appends a user message and streams the assistant
// response. The chat's draft is cleared and any surfaced error is
// dismissed; both are stale the moment the user commits to sending.
func (s *Session) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	// A newer send wins: the previous stream is cancelled without
	// surfacing an error, and its late chunks are dropped as stale.
	s.cancelLocked()

	if s.net != nil {
		if err := s.net.CheckSendAllowed(); err != nil {
			s.mu.Unlock()
			_ = s.store.SetError(s.chatID, errorText(err))
			return err
		}
	}

	chat, err := s.store.Chat(s.chatID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	_ = s.store.ClearError(s.chatID)
	_ = s.store.SetDraft(s.chatID, "")
	if _, err := s.store.CreateMessage(s.chatID, model.RoleUser, text, time.Time{}); err != nil {
		s.mu.Unlock()
		return err
	}
	_ = s.store.TouchLastEdited(s.chatID)

	s.startStreamLocked(chat)
	s.mu.Unlock()
	return nil
}

// startStreamLocked snapshots the outbound transcript and launches the
// streaming goroutine. Caller holds s.mu and has already persisted the
// messages that should be part of the request.
func (s *Session) startStreamLocked(chat *model.Chat) {
	outbound := buildOutbound(chat)

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	s.current = id
	s.cancelFn = cancel

	_ = s.store.SetResponding(s.chatID, true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runStream(ctx, id, outbound)
	}()
}

// buildOutbound converts the chat into the request message array:
// custom instructions first (when set), then the transcript in
// timestamp order.
func buildOutbound(chat *model.Chat) []completions.ChatMessage {
	var out []completions.ChatMessage
	if instr := chat.TrimmedInstructions(); instr != "" {
		out = append(out, completions.ChatMessage{Role: model.RoleSystem.String(), Content: instr})
	}
	for _, m := range chat.SortedMessages() {
		if m.Role == model.RoleSystem {
			continue
		}
		out = append(out, completions.ChatMessage{Role: m.Role.String(), Content: m.Content})
	}
	return out
}

// runStream owns one completion attempt identified by id.
func (s *Session) runStream(ctx context.Context, id string, outbound []completions.ChatMessage) {
	var assistantID string
	warnedNoChoices := false

	err := s.client.ChatStream(ctx, outbound, func(chunk completions.StreamChunk) {
		if !chunk.HasChoices() {
			// Malformed chunk: surface once, keep consuming the stream.
			if !warnedNoChoices && s.isCurrent(id) {
				warnedNoChoices = true
				_ = s.store.SetError(s.chatID, noChoicesText)
			}
			return
		}
		content := chunk.GetContent()
		if content == "" {
			return
		}
		// Drop chunks from a superseded or cancelled stream.
		if !s.isCurrent(id) {
			return
		}
		// The assistant message exists only once content arrives, so a
		// response that dies before its first token leaves no husk.
		if assistantID == "" {
			msg, err := s.store.CreateMessage(s.chatID, model.RoleAssistant, "", time.Time{})
			if err != nil {
				return
			}
			assistantID = msg.ID
		}
		_ = s.store.AppendToMessage(s.chatID, assistantID, content)
	})

	s.finishStream(id, assistantID, err)
}

// finishStream resets in-flight state and surfaces errors, unless the
// stream was superseded, in which case the superseder already owns the
// state.
func (s *Session) finishStream(id, assistantID string, err error) {
	s.mu.Lock()
	stale := s.current != id
	if !stale {
		s.current = ""
		s.cancelFn = nil
	}
	s.mu.Unlock()

	if assistantID != "" {
		_ = s.store.Persist(s.chatID)
	}
	if stale {
		return
	}

	_ = s.store.SetResponding(s.chatID, false)

	if err != nil && !completions.IsCancellation(err) {
		_ = s.store.SetError(s.chatID, errorText(err))
		return
	}

	// A completed exchange with content can seed the title.
	if assistantID != "" {
		s.maybeDeriveTitle()
	}
}

func (s *Session) isCurrent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == id
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelMessage stops the in-flight response. Partial assistant text
// already received is kept, and no error is surfaced; stopping is what
// the user asked for. No-op when idle.
func (s *Session) CancelMessage() {
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()
}

// cancelLocked cancels any in-flight stream and resets state
// synchronously, so the caller can start a new send without waiting
// for the stale goroutine to unwind. Caller holds s.mu.
func (s *Session) cancelLocked() {
	if s.cancelFn == nil {
		return
	}
	s.cancelFn()
	s.cancelFn = nil
	s.current = ""
	_ = s.store.SetResponding(s.chatID, false)
}

// =============================================================================
// EDIT / REGENERATE / DELETE
// =============================================================================

// EditMessage rewrites a user message and regenerates everything after
// it. Submitting the text unchanged is a deliberate no-op: confirming
// an edit dialog without touching the content must not burn a request
// or discard the replies that follow.
func (s *Session) EditMessage(msgID, newContent string) error {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != "" {
		return ErrBusy
	}

	chat, err := s.store.Chat(s.chatID)
	if err != nil {
		return err
	}
	msg := chat.MessageByID(msgID)
	if msg == nil {
		return store.ErrMessageNotFound
	}
	if msg.Role != model.RoleUser {
		return ErrNotEditable
	}
	if msg.Content == newContent {
		return nil
	}

	if s.net != nil {
		if err := s.net.CheckSendAllowed(); err != nil {
			_ = s.store.SetError(s.chatID, errorText(err))
			return err
		}
	}

	// Truncate to the prefix strictly before the edited message, then
	// resend as a fresh user message with a fresh timestamp.
	if err := s.store.TruncateAfter(s.chatID, msgID); err != nil {
		return err
	}
	if err := s.store.RemoveMessage(s.chatID, msgID); err != nil {
		return err
	}
	if _, err := s.store.CreateMessage(s.chatID, model.RoleUser, newContent, time.Time{}); err != nil {
		return err
	}
	_ = s.store.ClearError(s.chatID)
	_ = s.store.TouchLastEdited(s.chatID)

	s.startStreamLocked(chat)
	return nil
}

// RegenerateResponse discards everything after the anchoring user
// message and requests a fresh response. Unlike EditMessage it never
// short-circuits on unchanged content; regeneration exists precisely
// to re-roll the same prompt. msgID may name the user message itself
// or the assistant reply to replace.
func (s *Session) RegenerateResponse(msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != "" {
		return ErrBusy
	}

	chat, err := s.store.Chat(s.chatID)
	if err != nil {
		return err
	}
	anchor := anchorUserMessage(chat, msgID)
	if anchor == nil {
		return store.ErrMessageNotFound
	}

	if s.net != nil {
		if err := s.net.CheckSendAllowed(); err != nil {
			_ = s.store.SetError(s.chatID, errorText(err))
			return err
		}
	}

	if err := s.store.TruncateAfter(s.chatID, anchor.ID); err != nil {
		return err
	}
	_ = s.store.ClearError(s.chatID)
	_ = s.store.TouchLastEdited(s.chatID)

	s.startStreamLocked(chat)
	return nil
}

// anchorUserMessage resolves msgID to the user message that anchors
// regeneration: the message itself if it is a user message, otherwise
// the closest user message before it in timestamp order.
func anchorUserMessage(chat *model.Chat, msgID string) *model.Message {
	ordered := chat.SortedMessages()
	idx := -1
	for i, m := range ordered {
		if m.ID == msgID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for i := idx; i >= 0; i-- {
		if ordered[i].Role == model.RoleUser {
			return ordered[i]
		}
	}
	return nil
}

// DeleteMessage removes a single message without regenerating
// anything.
func (s *Session) DeleteMessage(msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != "" {
		return ErrBusy
	}
	if err := s.store.RemoveMessage(s.chatID, msgID); err != nil {
		return err
	}
	_ = s.store.TouchLastEdited(s.chatID)
	return nil
}

// =============================================================================
// ERROR / DRAFT
// =============================================================================

// DismissError clears the chat's surfaced error.
func (s *Session) DismissError() error {
	return s.store.ClearError(s.chatID)
}

// SetDraft stores unsent input on the chat.
func (s *Session) SetDraft(draft string) error {
	return s.store.SetDraft(s.chatID, draft)
}

// =============================================================================
// TITLE DERIVATION
// =============================================================================

const (
	// titleInstruction is the fixed system prompt for deriving a chat
	// title from the first exchange.
	titleInstruction = "Derive a concise (at most 4 words) chat title from the following exchange. Output only the title, nothing else."

	// titleTimeout bounds the background title request.
	titleTimeout = 30 * time.Second

	// titleMaxRunes caps a derived title's length.
	titleMaxRunes = 40
)

// maybeDeriveTitle kicks off background title derivation. It fires
// only when the first exchange has just completed; a failed derivation
// is swallowed and never retried on later exchanges. The request runs
// on its own context: a later send or cancel must not kill it, and the
// store rejects the commit if a rename or an earlier derivation
// already landed.
func (s *Session) maybeDeriveTitle() {
	chat, err := s.store.Chat(s.chatID)
	if err != nil || chat.HasGeneratedName {
		return
	}

	history := chat.NonSystemMessages()
	if len(history) != 2 {
		return
	}

	outbound := make([]completions.ChatMessage, 0, len(history)+1)
	outbound = append(outbound, completions.ChatMessage{Role: model.RoleSystem.String(), Content: titleInstruction})
	for _, m := range history {
		if m.Content == "" {
			return
		}
		outbound = append(outbound, completions.ChatMessage{Role: m.Role.String(), Content: m.Content})
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		raw, err := s.client.ChatStreamAccumulate(ctx, outbound)
		if err != nil {
			// Best-effort: the chat keeps its placeholder name.
			return
		}
		title := cleanTitle(raw)
		if title == "" {
			return
		}
		_ = s.store.SetGeneratedName(s.chatID, title)
	}()
}

// cleanTitle normalizes model output into a usable chat name.
func cleanTitle(raw string) string {
	title := util.OneLine(raw)
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)
	return util.TruncateRunes(title, titleMaxRunes)
}
