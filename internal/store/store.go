// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/morganforge/hackchat/internal/model"
	"github.com/morganforge/hackchat/internal/util"
)

// =============================================================================
// STORE
// =============================================================================

// Store persists chats as one JSON file each under baseDir. All chats
// are loaded into memory on Open; every mutation goes through a Store
// method, is written atomically, and then fans out to subscribers.
type Store struct {
	mu      sync.Mutex
	baseDir string
	chats   map[string]*model.Chat
	subs    []func(chatID string)
}

// Open loads every chat under <dataDir>/chats, creating the directory
// if needed. Files that fail to parse are skipped rather than aborting
// the whole load; one corrupted chat must not take the rest down.
func Open(dataDir string) (*Store, error) {
	baseDir := filepath.Join(dataDir, "chats")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	s := &Store{
		baseDir: baseDir,
		chats:   make(map[string]*model.Chat),
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(baseDir, entry.Name()))
		if err != nil {
			continue
		}
		var chat model.Chat
		if err := json.Unmarshal(data, &chat); err != nil {
			continue // skip corrupted files
		}
		if chat.ID == "" {
			continue
		}
		s.chats[chat.ID] = &chat
	}

	return s, nil
}

// Subscribe registers a callback invoked with the chat ID after every
// persisted mutation. Callbacks run outside the store lock but must
// still return quickly; they are called on the mutating goroutine.
func (s *Store) Subscribe(fn func(chatID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// NormalizeOnStart repairs state that cannot be valid at process start:
// chats persisted mid-response get IsResponding cleared, and transient
// chats (never touched by the user) are pruned. Returns the number of
// chats pruned. Must be called once before any session work begins.
func (s *Store) NormalizeOnStart() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, chat := range s.chats {
		if chat.IsTransient() {
			if err := os.Remove(s.filePath(id)); err != nil && !os.IsNotExist(err) {
				return pruned, err
			}
			delete(s.chats, id)
			pruned++
			continue
		}
		if chat.IsResponding {
			chat.IsResponding = false
			if err := s.persistLocked(chat); err != nil {
				return pruned, err
			}
		}
	}
	return pruned, nil
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// CreateChat creates and persists an empty chat named with the next
// free "Untitled N" slot.
func (s *Store) CreateChat() (*model.Chat, error) {
	s.mu.Lock()
	names := make([]string, 0, len(s.chats))
	for _, c := range s.chats {
		names = append(names, c.Name)
	}
	chat := model.NewChat(model.NextUntitledName(names))
	s.chats[chat.ID] = chat
	err := s.persistLocked(chat)
	subs := s.snapshotSubs()
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	s.notify(subs, chat.ID)
	return chat, nil
}

// Chat returns the chat with the given ID.
func (s *Store) Chat(id string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

// Chats returns all chats, most recently active first. Ties keep a
// stable order by ID so repeated listings do not shuffle.
func (s *Store) Chats() []*model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := out[i].SortKey(), out[j].SortKey()
		if ki.Equal(kj) {
			return out[i].ID < out[j].ID
		}
		return ki.After(kj)
	})
	return out
}

// DeleteChat removes a chat and its file. Messages live inside the
// chat document, so removal cascades to them by construction.
func (s *Store) DeleteChat(id string) error {
	s.mu.Lock()
	if _, ok := s.chats[id]; !ok {
		s.mu.Unlock()
		return ErrChatNotFound
	}
	if err := os.Remove(s.filePath(id)); err != nil && !os.IsNotExist(err) {
		s.mu.Unlock()
		return err
	}
	delete(s.chats, id)
	subs := s.snapshotSubs()
	s.mu.Unlock()

	s.notify(subs, id)
	return nil
}

// RenameChat sets a user-chosen name. The name must be non-blank and
// unique across all chats (case-insensitive). A manual rename also
// marks the chat as named so auto-derivation never overwrites it.
func (s *Store) RenameChat(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrBlankName
	}
	return s.update(id, func(c *model.Chat) error {
		for _, other := range s.chats {
			if other.ID != id && strings.EqualFold(other.Name, name) {
				return ErrNameTaken
			}
		}
		c.Name = name
		c.HasGeneratedName = true
		c.Touch()
		return nil
	})
}

// SetGeneratedName commits an auto-derived title. It is a no-op if the
// chat already has a name (a rename or an earlier derivation won the
// race), so a slow title request can never clobber user intent.
func (s *Store) SetGeneratedName(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrBlankName
	}
	return s.update(id, func(c *model.Chat) error {
		if c.HasGeneratedName {
			return nil
		}
		c.Name = name
		c.HasGeneratedName = true
		return nil
	})
}

// SetArchived archives or unarchives a chat.
func (s *Store) SetArchived(id string, archived bool) error {
	return s.update(id, func(c *model.Chat) error {
		c.Archived = archived
		return nil
	})
}

// SetDraft stores unsent input so it survives restarts.
func (s *Store) SetDraft(id, draft string) error {
	return s.update(id, func(c *model.Chat) error {
		c.Draft = draft
		return nil
	})
}

// SetInstructions sets the chat's custom instructions.
func (s *Store) SetInstructions(id, instructions string) error {
	return s.update(id, func(c *model.Chat) error {
		c.CustomInstructions = instructions
		c.Touch()
		return nil
	})
}

// SetResponding flips the in-flight flag.
func (s *Store) SetResponding(id string, responding bool) error {
	return s.update(id, func(c *model.Chat) error {
		c.IsResponding = responding
		return nil
	})
}

// SetError records a surfaced failure on the chat.
func (s *Store) SetError(id, msg string) error {
	return s.update(id, func(c *model.Chat) error {
		c.LastError = msg
		return nil
	})
}

// ClearError dismisses the chat's surfaced error, if any.
func (s *Store) ClearError(id string) error {
	return s.update(id, func(c *model.Chat) error {
		c.LastError = ""
		return nil
	})
}

// TouchLastEdited stamps the chat as user-touched now.
func (s *Store) TouchLastEdited(id string) error {
	return s.update(id, func(c *model.Chat) error {
		c.Touch()
		return nil
	})
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// CreateMessage appends a message to a chat and persists. A zero ts
// means "now".
func (s *Store) CreateMessage(chatID string, role model.Role, content string, ts time.Time) (*model.Message, error) {
	msg := model.NewMessage(chatID, role, content)
	if !ts.IsZero() {
		msg.Timestamp = ts
	}
	err := s.update(chatID, func(c *model.Chat) error {
		c.Messages = append(c.Messages, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// AppendToMessage appends streamed content to an existing message.
// It mutates in memory and notifies subscribers but does not write the
// file; streaming callers persist at terminal events via Persist.
func (s *Store) AppendToMessage(chatID, msgID, delta string) error {
	s.mu.Lock()
	chat, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return ErrChatNotFound
	}
	msg := chat.MessageByID(msgID)
	if msg == nil {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	msg.Content += delta
	subs := s.snapshotSubs()
	s.mu.Unlock()

	s.notify(subs, chatID)
	return nil
}

// RemoveMessage deletes a single message from a chat.
func (s *Store) RemoveMessage(chatID, msgID string) error {
	return s.update(chatID, func(c *model.Chat) error {
		for i, m := range c.Messages {
			if m.ID == msgID {
				c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
				return nil
			}
		}
		return ErrMessageNotFound
	})
}

// TruncateAfter removes every message strictly after msgID in
// timestamp order, keeping msgID itself. Used when an edit or a
// regeneration invalidates the rest of the thread.
func (s *Store) TruncateAfter(chatID, msgID string) error {
	return s.update(chatID, func(c *model.Chat) error {
		ordered := c.SortedMessages()
		cut := -1
		for i, m := range ordered {
			if m.ID == msgID {
				cut = i
				break
			}
		}
		if cut < 0 {
			return ErrMessageNotFound
		}
		keep := make(map[string]bool, cut+1)
		for _, m := range ordered[:cut+1] {
			keep[m.ID] = true
		}
		kept := c.Messages[:0]
		for _, m := range c.Messages {
			if keep[m.ID] {
				kept = append(kept, m)
			}
		}
		c.Messages = kept
		return nil
	})
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Persist writes the chat's current state to disk and notifies
// subscribers. Used by streaming callers that batch AppendToMessage.
func (s *Store) Persist(chatID string) error {
	return s.update(chatID, func(*model.Chat) error { return nil })
}

// update runs fn on the chat under the lock, persists, then notifies.
func (s *Store) update(id string, fn func(*model.Chat) error) error {
	s.mu.Lock()
	chat, ok := s.chats[id]
	if !ok {
		s.mu.Unlock()
		return ErrChatNotFound
	}
	if err := fn(chat); err != nil {
		s.mu.Unlock()
		return err
	}
	err := s.persistLocked(chat)
	subs := s.snapshotSubs()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify(subs, id)
	return nil
}

// persistLocked writes one chat file. Caller holds s.mu.
func (s *Store) persistLocked(chat *model.Chat) error {
	data, err := json.MarshalIndent(chat, "", "  ")
	if err != nil {
		return err
	}
	// RELIABILITY: atomic write with fsync prevents torn chat files on crash
	return util.AtomicWriteFile(s.filePath(chat.ID), data, 0644)
}

func (s *Store) filePath(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func (s *Store) snapshotSubs() []func(string) {
	if len(s.subs) == 0 {
		return nil
	}
	return append([]func(string){}, s.subs...)
}

func (s *Store) notify(subs []func(string), chatID string) {
	for _, fn := range subs {
		fn(chatID)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// Sentinel errors. Compare with errors.Is.
var (
	ErrChatNotFound    = &StoreError{Message: "chat not found"}
	ErrMessageNotFound = &StoreError{Message: "message not found"}
	ErrNameTaken       = &StoreError{Message: "chat name already in use"}
	ErrBlankName       = &StoreError{Message: "chat name cannot be blank"}
)

// StoreError represents a store-level error.
type StoreError struct {
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
