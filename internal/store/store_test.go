// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/morganforge/hackchat/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func TestStore_CreateChat_UntitledNumbering(t *testing.T) {
	s := newTestStore(t)

	first, err := s.CreateChat()
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if first.Name != "Untitled" {
		t.Errorf("first chat name = %q, want %q", first.Name, "Untitled")
	}

	second, err := s.CreateChat()
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if second.Name != "Untitled 1" {
		t.Errorf("second chat name = %q, want %q", second.Name, "Untitled 1")
	}

	third, err := s.CreateChat()
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if third.Name != "Untitled 2" {
		t.Errorf("third chat name = %q, want %q", third.Name, "Untitled 2")
	}
}

func TestStore_PersistAndReload(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	chat, err := s.CreateChat()
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if _, err := s.CreateMessage(chat.ID, model.RoleUser, "hello", time.Time{}); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if err := s.SetDraft(chat.ID, "unsent text"); err != nil {
		t.Fatalf("SetDraft() error = %v", err)
	}

	// Reopen from the same directory
	reloaded, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got, err := reloaded.Chat(chat.ID)
	if err != nil {
		t.Fatalf("Chat() after reload error = %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("reloaded messages = %+v, want single %q message", got.Messages, "hello")
	}
	if got.Draft != "unsent text" {
		t.Errorf("reloaded draft = %q, want %q", got.Draft, "unsent text")
	}
}

func TestStore_Open_SkipsCorruptedFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	chat, _ := s.CreateChat()

	bad := filepath.Join(dir, "chats", "corrupt.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen with corrupt file error = %v", err)
	}
	if _, err := reloaded.Chat(chat.ID); err != nil {
		t.Errorf("healthy chat lost after corrupt neighbor: %v", err)
	}
	if got := len(reloaded.Chats()); got != 1 {
		t.Errorf("Chats() len = %d, want 1", got)
	}
}

func TestStore_RenameChat(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.CreateChat()
	b, _ := s.CreateChat()

	if err := s.RenameChat(a.ID, "Project Notes"); err != nil {
		t.Fatalf("RenameChat() error = %v", err)
	}
	if !a.HasGeneratedName {
		t.Error("manual rename should mark chat as named")
	}

	tests := []struct {
		name    string
		newName string
		wantErr error
	}{
		{"collision exact", "Project Notes", ErrNameTaken},
		{"collision case-insensitive", "project notes", ErrNameTaken},
		{"blank", "   ", ErrBlankName},
		{"unique ok", "Other", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.RenameChat(b.ID, tt.newName)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("RenameChat(%q) error = %v, want %v", tt.newName, err, tt.wantErr)
			}
		})
	}
}

func TestStore_RenameToOwnName(t *testing.T) {
	s := newTestStore(t)
	chat, _ := s.CreateChat()
	if err := s.RenameChat(chat.ID, "Keep"); err != nil {
		t.Fatal(err)
	}
	// Renaming a chat to its current name is not a collision.
	if err := s.RenameChat(chat.ID, "Keep"); err != nil {
		t.Errorf("rename to own name error = %v, want nil", err)
	}
}

func TestStore_SetGeneratedName_NoClobber(t *testing.T) {
	s := newTestStore(t)
	chat, _ := s.CreateChat()

	if err := s.SetGeneratedName(chat.ID, "Derived Title"); err != nil {
		t.Fatalf("SetGeneratedName() error = %v", err)
	}
	if chat.Name != "Derived Title" || !chat.HasGeneratedName {
		t.Fatalf("after first derivation: name=%q gen=%v", chat.Name, chat.HasGeneratedName)
	}

	// A second derivation (or one racing a manual rename) must not win.
	if err := s.SetGeneratedName(chat.ID, "Late Title"); err != nil {
		t.Fatalf("SetGeneratedName() error = %v", err)
	}
	if chat.Name != "Derived Title" {
		t.Errorf("late derivation overwrote name: %q", chat.Name)
	}
}

func TestStore_DeleteChat_RemovesFile(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	chat, _ := s.CreateChat()

	path := filepath.Join(dir, "chats", chat.ID+".json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("chat file missing before delete: %v", err)
	}

	if err := s.DeleteChat(chat.ID); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("chat file still present after delete")
	}
	if _, err := s.Chat(chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("Chat() after delete error = %v, want ErrChatNotFound", err)
	}
	if err := s.DeleteChat(chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("second delete error = %v, want ErrChatNotFound", err)
	}
}

func TestStore_TruncateAfter(t *testing.T) {
	s := newTestStore(t)
	chat, _ := s.CreateChat()

	base := time.Now().Add(-time.Hour)
	m1, _ := s.CreateMessage(chat.ID, model.RoleUser, "first", base)
	m2, _ := s.CreateMessage(chat.ID, model.RoleAssistant, "reply", base.Add(time.Second))
	m3, _ := s.CreateMessage(chat.ID, model.RoleUser, "second", base.Add(2*time.Second))
	_ = m3

	if err := s.TruncateAfter(chat.ID, m1.ID); err != nil {
		t.Fatalf("TruncateAfter() error = %v", err)
	}
	if len(chat.Messages) != 1 || chat.Messages[0].ID != m1.ID {
		t.Errorf("after truncate got %d messages, want only the anchor", len(chat.Messages))
	}
	if chat.MessageByID(m2.ID) != nil {
		t.Error("message after anchor survived truncate")
	}

	if err := s.TruncateAfter(chat.ID, "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("TruncateAfter(missing) error = %v, want ErrMessageNotFound", err)
	}
}

func TestStore_NormalizeOnStart(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)

	// Transient: no messages, never edited, no draft, no generated name.
	transient, _ := s.CreateChat()

	// Stale responder: has a message and was left mid-response.
	active, _ := s.CreateChat()
	if _, err := s.CreateMessage(active.ID, model.RoleUser, "hi", time.Time{}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetResponding(active.ID, true); err != nil {
		t.Fatal(err)
	}

	// Simulate restart.
	reloaded, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	pruned, err := reloaded.NormalizeOnStart()
	if err != nil {
		t.Fatalf("NormalizeOnStart() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if _, err := reloaded.Chat(transient.ID); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("transient chat survived restart normalization")
	}
	got, err := reloaded.Chat(active.ID)
	if err != nil {
		t.Fatalf("active chat missing after normalization: %v", err)
	}
	if got.IsResponding {
		t.Error("IsResponding still true after restart normalization")
	}
}

func TestStore_RemoveMessage(t *testing.T) {
	s := newTestStore(t)
	chat, _ := s.CreateChat()
	msg, _ := s.CreateMessage(chat.ID, model.RoleUser, "oops", time.Time{})

	if err := s.RemoveMessage(chat.ID, msg.ID); err != nil {
		t.Fatalf("RemoveMessage() error = %v", err)
	}
	if len(chat.Messages) != 0 {
		t.Errorf("messages remaining = %d, want 0", len(chat.Messages))
	}
	if err := s.RemoveMessage(chat.ID, msg.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("second remove error = %v, want ErrMessageNotFound", err)
	}
}

func TestStore_AppendToMessage_PersistOnDemand(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	chat, _ := s.CreateChat()
	msg, _ := s.CreateMessage(chat.ID, model.RoleAssistant, "", time.Time{})

	for _, delta := range []string{"Hel", "lo ", "world"} {
		if err := s.AppendToMessage(chat.ID, msg.ID, delta); err != nil {
			t.Fatalf("AppendToMessage() error = %v", err)
		}
	}
	if msg.Content != "Hello world" {
		t.Fatalf("content = %q, want %q", msg.Content, "Hello world")
	}

	if err := s.Persist(chat.ID); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	reloaded, _ := Open(dir)
	got, err := reloaded.Chat(chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageByID(msg.ID).Content != "Hello world" {
		t.Errorf("persisted content = %q", got.MessageByID(msg.ID).Content)
	}
}

func TestStore_SubscriberNotified(t *testing.T) {
	s := newTestStore(t)
	var gotIDs []string
	s.Subscribe(func(chatID string) {
		gotIDs = append(gotIDs, chatID)
	})

	chat, err := s.CreateChat()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetDraft(chat.ID, "d"); err != nil {
		t.Fatal(err)
	}

	if len(gotIDs) != 2 {
		t.Fatalf("subscriber called %d times, want 2", len(gotIDs))
	}
	for _, id := range gotIDs {
		if id != chat.ID {
			t.Errorf("subscriber got chat ID %q, want %q", id, chat.ID)
		}
	}
}

func TestStore_ChatsOrdering(t *testing.T) {
	s := newTestStore(t)
	older, _ := s.CreateChat()
	newer, _ := s.CreateChat()

	// Touch the older chat so it sorts first.
	if err := s.TouchLastEdited(older.ID); err != nil {
		t.Fatal(err)
	}

	chats := s.Chats()
	if len(chats) != 2 {
		t.Fatalf("Chats() len = %d, want 2", len(chats))
	}
	if chats[0].ID != older.ID {
		t.Errorf("most recently edited chat not first; got %q want %q", chats[0].ID, older.ID)
	}
	if chats[1].ID != newer.ID {
		t.Errorf("second chat = %q, want %q", chats[1].ID, newer.ID)
	}
}
