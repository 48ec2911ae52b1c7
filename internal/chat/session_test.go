// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/morganforge/hackchat/internal/completions"
	"github.com/morganforge/hackchat/internal/model"
	"github.com/morganforge/hackchat/internal/netcheck"
	"github.com/morganforge/hackchat/internal/store"
)

// =============================================================================
// FAKE COMPLETER
// =============================================================================

func contentChunk(content string) completions.StreamChunk {
	var c completions.StreamChunk
	raw := fmt.Sprintf(`{"choices":[{"index":0,"delta":{"content":%q},"finish_reason":""}]}`, content)
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		panic(err)
	}
	return c
}

func doneChunk() completions.StreamChunk {
	var c completions.StreamChunk
	raw := `{"choices":[{"index":0,"delta":{"content":""},"finish_reason":"stop"}]}`
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		panic(err)
	}
	return c
}

func noChoicesChunk() completions.StreamChunk {
	var c completions.StreamChunk
	if err := json.Unmarshal([]byte(`{"id":"chunk-x","choices":[]}`), &c); err != nil {
		panic(err)
	}
	return c
}

// fakeCompleter scripts a reply split into chunks. When block is set,
// the stream stalls after the first chunk until the context ends, then
// delivers afterCancel (if set) as one more late chunk. When noChoices
// is set, a choiceless chunk is injected after the first content chunk.
type fakeCompleter struct {
	mu            sync.Mutex
	reply         []string
	err           error
	title         string
	titleErr      error
	block         bool
	noChoices     bool
	afterCancel   string
	started       chan struct{} // closed once the first chunk is delivered
	streamCalls   int
	titleCalls    int
	lastSent      []completions.ChatMessage
	lastTitleSent []completions.ChatMessage
}

func newFakeCompleter(reply ...string) *fakeCompleter {
	return &fakeCompleter{reply: reply, started: make(chan struct{})}
}

func (f *fakeCompleter) ChatStream(ctx context.Context, messages []completions.ChatMessage, callback completions.StreamCallback) error {
	f.mu.Lock()
	f.streamCalls++
	f.lastSent = append([]completions.ChatMessage(nil), messages...)
	reply, err, block := f.reply, f.err, f.block
	noChoices, afterCancel := f.noChoices, f.afterCancel
	started := f.started
	f.mu.Unlock()

	if err != nil {
		return err
	}
	for i, part := range reply {
		callback(contentChunk(part))
		if i == 0 {
			if noChoices {
				callback(noChoicesChunk())
			}
			select {
			case <-started:
			default:
				close(started)
			}
			if block {
				<-ctx.Done()
				if afterCancel != "" {
					callback(contentChunk(afterCancel))
				}
				return ctx.Err()
			}
		}
	}
	callback(doneChunk())
	return nil
}

func (f *fakeCompleter) ChatStreamAccumulate(ctx context.Context, messages []completions.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titleCalls++
	f.lastTitleSent = append([]completions.ChatMessage(nil), messages...)
	return f.title, f.titleErr
}

func (f *fakeCompleter) calls() (stream, title int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamCalls, f.titleCalls
}

// =============================================================================
// HELPERS
// =============================================================================

func newTestSession(t *testing.T, fake *fakeCompleter) (*Session, *store.Store, *model.Chat) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	chat, err := st.CreateChat()
	require.NoError(t, err)
	sess, err := NewSession(st, fake, nil, chat.ID)
	require.NoError(t, err)
	return sess, st, chat
}

func assistantText(chat *model.Chat) string {
	out := ""
	for _, m := range chat.SortedMessages() {
		if m.Role == model.RoleAssistant {
			out += m.Content
		}
	}
	return out
}

// =============================================================================
// SEND
// =============================================================================

func TestSession_SendMessage(t *testing.T) {
	fake := newFakeCompleter("Hel", "lo!")
	sess, st, chat := newTestSession(t, fake)

	require.NoError(t, st.SetDraft(chat.ID, "hi there"))
	require.NoError(t, sess.SendMessage("hi there"))
	sess.Wait()

	msgs := chat.SortedMessages()
	require.Len(t, msgs, 2)
	require.Equal(t, model.RoleUser, msgs[0].Role)
	require.Equal(t, "hi there", msgs[0].Content)
	require.Equal(t, model.RoleAssistant, msgs[1].Role)
	require.Equal(t, "Hello!", msgs[1].Content)
	require.Empty(t, chat.Draft, "sending must clear the draft")
	require.False(t, chat.IsResponding)
	require.Empty(t, chat.LastError)
	require.NotNil(t, chat.LastEdited)
}

func TestSession_SendMessage_Blank(t *testing.T) {
	fake := newFakeCompleter("x")
	sess, _, _ := newTestSession(t, fake)

	require.ErrorIs(t, sess.SendMessage("   "), ErrEmptyMessage)
	streams, _ := fake.calls()
	require.Zero(t, streams)
}

func TestSession_SendMessage_SupersedesInFlightStream(t *testing.T) {
	fake := newFakeCompleter("partial")
	fake.block = true
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("first"))
	<-fake.started

	fake.mu.Lock()
	fake.block = false
	fake.reply = []string{"fresh"}
	fake.mu.Unlock()

	require.NoError(t, sess.SendMessage("second"))
	sess.Wait()

	streams, _ := fake.calls()
	require.Equal(t, 2, streams)
	require.False(t, chat.IsResponding)
	require.Empty(t, chat.LastError, "a superseded stream must not surface an error")

	msgs := chat.SortedMessages()
	require.Len(t, msgs, 4)
	require.Equal(t, "partial", msgs[1].Content, "partial text from the superseded stream is kept")
	require.Equal(t, "second", msgs[2].Content)
	require.Equal(t, "fresh", msgs[3].Content)
}

func TestSession_SendMessage_IncludesInstructions(t *testing.T) {
	fake := newFakeCompleter("ok")
	sess, st, chat := newTestSession(t, fake)

	require.NoError(t, st.SetInstructions(chat.ID, "  be terse  "))
	require.NoError(t, sess.SendMessage("question"))
	sess.Wait()

	require.GreaterOrEqual(t, len(fake.lastSent), 2)
	require.Equal(t, "system", fake.lastSent[0].Role)
	require.Equal(t, "be terse", fake.lastSent[0].Content)
	require.Equal(t, "user", fake.lastSent[1].Role)
}

func TestSession_SendMessage_OfflineRefused(t *testing.T) {
	fake := newFakeCompleter("unused")
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	chat, err := st.CreateChat()
	require.NoError(t, err)

	monitor := netcheck.NewMonitorWithProbe(func(context.Context) error { return nil }, time.Minute)
	monitor.SetConnected(false)
	sess, err := NewSession(st, fake, monitor, chat.ID)
	require.NoError(t, err)

	require.ErrorIs(t, sess.SendMessage("hello"), netcheck.ErrOffline)
	require.Empty(t, chat.Messages, "offline refusal must not append the message")
	require.NotEmpty(t, chat.LastError)
	streams, _ := fake.calls()
	require.Zero(t, streams)
}

func TestSession_SendMessage_TransportErrorSurfaced(t *testing.T) {
	fake := newFakeCompleter()
	fake.err = errors.New("connection reset")
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("hello"))
	sess.Wait()

	require.False(t, chat.IsResponding)
	require.NotEmpty(t, chat.LastError)
	require.Empty(t, assistantText(chat), "failed stream with no content leaves no assistant message")
}

func TestSession_SendMessage_NoAssistantHuskOnEmptyReply(t *testing.T) {
	fake := newFakeCompleter() // terminal chunk only, no content
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("hello"))
	sess.Wait()

	require.Len(t, chat.Messages, 1, "assistant message must not exist without content")
}

// =============================================================================
// CANCEL
// =============================================================================

func TestSession_CancelKeepsPartialAndSuppressesError(t *testing.T) {
	fake := newFakeCompleter("partial answer")
	fake.block = true
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("hello"))
	<-fake.started

	sess.CancelMessage()
	require.False(t, sess.IsResponding(), "cancel resets state synchronously")
	sess.Wait()

	require.Equal(t, "partial answer", assistantText(chat))
	require.Empty(t, chat.LastError, "cancellation is user intent, never an error")
	require.False(t, chat.IsResponding)
}

func TestSession_CancelWhenIdleIsNoop(t *testing.T) {
	fake := newFakeCompleter("x")
	sess, _, chat := newTestSession(t, fake)

	sess.CancelMessage()
	require.False(t, chat.IsResponding)
}

func TestSession_LateChunkAfterCancelIsDropped(t *testing.T) {
	fake := newFakeCompleter("partial answer")
	fake.block = true
	fake.afterCancel = " plus late text"
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("hello"))
	<-fake.started

	sess.CancelMessage()
	sess.Wait()

	require.Equal(t, "partial answer", assistantText(chat),
		"content delivered after cancellation must not land in the message")
	require.Empty(t, chat.LastError)
	require.False(t, chat.IsResponding)
}

func TestSession_SendImmediatelyAfterCancel(t *testing.T) {
	fake := newFakeCompleter("stale")
	fake.block = true
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("first"))
	<-fake.started
	sess.CancelMessage()

	// Allow the second send without waiting for the stale goroutine.
	fake.mu.Lock()
	fake.block = false
	fake.reply = []string{"fresh"}
	fake.started = make(chan struct{})
	fake.mu.Unlock()

	require.NoError(t, sess.SendMessage("second"))
	sess.Wait()

	require.Contains(t, assistantText(chat), "fresh")
	require.False(t, chat.IsResponding)
}

// =============================================================================
// EDIT / REGENERATE / DELETE
// =============================================================================

func TestSession_EditMessage_UnchangedIsNoop(t *testing.T) {
	fake := newFakeCompleter("original reply")
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("the question"))
	sess.Wait()
	streamsBefore, _ := fake.calls()

	userMsg := chat.SortedMessages()[0]
	require.NoError(t, sess.EditMessage(userMsg.ID, "the question"))
	sess.Wait()

	streamsAfter, _ := fake.calls()
	require.Equal(t, streamsBefore, streamsAfter, "identical edit must not issue a request")
	require.Len(t, chat.Messages, 2, "identical edit must not discard the reply")
}

func TestSession_EditMessage_ChangedRegenerates(t *testing.T) {
	fake := newFakeCompleter("reply one")
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("v1"))
	sess.Wait()

	fake.mu.Lock()
	fake.reply = []string{"reply two"}
	fake.mu.Unlock()

	userMsg := chat.SortedMessages()[0]
	require.NoError(t, sess.EditMessage(userMsg.ID, "v2"))
	sess.Wait()

	msgs := chat.SortedMessages()
	require.Len(t, msgs, 2)
	require.Equal(t, "v2", msgs[0].Content)
	require.Equal(t, "reply two", msgs[1].Content, "old reply replaced after edit")
	require.NotEqual(t, userMsg.ID, msgs[0].ID, "edit resends as a fresh message")
	require.False(t, msgs[0].Timestamp.Before(userMsg.Timestamp))
}

func TestSession_EditMessage_Guards(t *testing.T) {
	fake := newFakeCompleter("reply")
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("question"))
	sess.Wait()
	assistant := chat.SortedMessages()[1]

	require.ErrorIs(t, sess.EditMessage(assistant.ID, "rewrite"), ErrNotEditable)
	require.ErrorIs(t, sess.EditMessage("missing", "text"), store.ErrMessageNotFound)
	require.ErrorIs(t, sess.EditMessage(chat.SortedMessages()[0].ID, ""), ErrEmptyMessage)
}

func TestSession_RegenerateResponse_BypassesNoopGuard(t *testing.T) {
	fake := newFakeCompleter("first roll")
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("same prompt"))
	sess.Wait()
	streamsBefore, _ := fake.calls()

	fake.mu.Lock()
	fake.reply = []string{"second roll"}
	fake.mu.Unlock()

	// Regenerating from the assistant reply resolves to the user
	// message before it; the prompt is unchanged and that is the point.
	assistant := chat.SortedMessages()[1]
	require.NoError(t, sess.RegenerateResponse(assistant.ID))
	sess.Wait()

	streamsAfter, _ := fake.calls()
	require.Equal(t, streamsBefore+1, streamsAfter)
	msgs := chat.SortedMessages()
	require.Len(t, msgs, 2)
	require.Equal(t, "same prompt", msgs[0].Content)
	require.Equal(t, "second roll", msgs[1].Content)
}

func TestSession_DeleteMessage(t *testing.T) {
	fake := newFakeCompleter("reply")
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("question"))
	sess.Wait()
	streamsBefore, _ := fake.calls()

	assistant := chat.SortedMessages()[1]
	require.NoError(t, sess.DeleteMessage(assistant.ID))

	require.Len(t, chat.Messages, 1)
	streamsAfter, _ := fake.calls()
	require.Equal(t, streamsBefore, streamsAfter, "delete must not regenerate")
}

func TestSession_NoChoicesChunkSurfacedOnce(t *testing.T) {
	fake := newFakeCompleter("Hel", "lo!")
	fake.noChoices = true
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("hi"))
	sess.Wait()

	require.Equal(t, "Hello!", assistantText(chat),
		"a choiceless chunk must not abort the rest of the stream")
	require.Equal(t, noChoicesText, chat.LastError)
	require.False(t, chat.IsResponding)
}

// =============================================================================
// ERROR DISMISSAL
// =============================================================================

func TestSession_DismissError(t *testing.T) {
	fake := newFakeCompleter()
	fake.err = errors.New("boom")
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("hello"))
	sess.Wait()
	require.NotEmpty(t, chat.LastError)

	require.NoError(t, sess.DismissError())
	require.Empty(t, chat.LastError)
}

// =============================================================================
// TITLE DERIVATION
// =============================================================================

func TestSession_TitleDerivedOncePerChat(t *testing.T) {
	fake := newFakeCompleter("the reply")
	fake.title = `"Greeting Chat"` + "\n"
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("hello"))
	sess.Wait()

	require.Equal(t, "Greeting Chat", chat.Name, "derived title committed, quotes stripped")
	require.True(t, chat.HasGeneratedName)

	fake.mu.Lock()
	titleSent := fake.lastTitleSent
	fake.mu.Unlock()
	require.Len(t, titleSent, 3, "instruction plus the first exchange")
	require.Equal(t, "system", titleSent[0].Role)
	require.Equal(t, completions.ChatMessage{Role: "user", Content: "hello"}, titleSent[1])
	require.Equal(t, completions.ChatMessage{Role: "assistant", Content: "the reply"}, titleSent[2])

	// Second exchange must not re-derive.
	fake.mu.Lock()
	fake.title = "Different Title"
	fake.mu.Unlock()
	require.NoError(t, sess.SendMessage("more"))
	sess.Wait()

	_, titleCalls := fake.calls()
	require.Equal(t, 1, titleCalls)
	require.Equal(t, "Greeting Chat", chat.Name)
}

func TestSession_TitleFailureKeepsPlaceholder(t *testing.T) {
	fake := newFakeCompleter("the reply")
	fake.titleErr = errors.New("title request failed")
	sess, _, chat := newTestSession(t, fake)

	require.NoError(t, sess.SendMessage("hello"))
	sess.Wait()

	require.Equal(t, "Untitled", chat.Name)
	require.False(t, chat.HasGeneratedName)
	require.Empty(t, chat.LastError, "title failure is silent")

	// A failed derivation is never retried: later exchanges leave the
	// placeholder alone.
	fake.mu.Lock()
	fake.titleErr = nil
	fake.title = "Late Title"
	fake.mu.Unlock()
	require.NoError(t, sess.SendMessage("more"))
	sess.Wait()

	_, titleCalls := fake.calls()
	require.Equal(t, 1, titleCalls)
	require.Equal(t, "Untitled", chat.Name)
}

func TestSession_TitleLosesRaceToManualRename(t *testing.T) {
	fake := newFakeCompleter("the reply")
	fake.title = "Derived Name"
	sess, st, chat := newTestSession(t, fake)

	// Rename before the first exchange completes the derivation path.
	require.NoError(t, st.RenameChat(chat.ID, "My Name"))
	require.NoError(t, sess.SendMessage("hello"))
	sess.Wait()

	require.Equal(t, "My Name", chat.Name)
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "Board Games", "Board Games"},
		{"quoted", `"Board Games"`, "Board Games"},
		{"multiline", "Board\nGames\n", "Board Games"},
		{"whitespace", "   Board Games   ", "Board Games"},
		{"empty", "  \n ", ""},
		{"overlong", "abcdefghij abcdefghij abcdefghij abcdefghij", "abcdefghij abcdefghij abcdefghij abcd..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, cleanTitle(tt.raw))
		})
	}
}
