// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultChatName is the base name for chats the user has not renamed
// and no title has been derived for.
const DefaultChatName = "Untitled"

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat holds a conversation thread and its metadata.
type Chat struct {
	// Identity
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`

	// HasGeneratedName is set once an auto-derived title has been
	// committed; it gates title derivation so it fires at most once.
	HasGeneratedName bool `json:"has_generated_name"`

	// CustomInstructions, when non-blank, is prepended to every
	// outbound request as a system message.
	CustomInstructions string `json:"custom_instructions,omitempty"`

	// Draft is the last unsent input, persisted across restarts.
	Draft string `json:"draft,omitempty"`

	// IsResponding is true while a completion request is in flight.
	// It is force-reset on process start: an in-flight request cannot
	// survive termination, so a persisted true is always stale.
	IsResponding bool `json:"is_responding"`

	// LastError is the last surfaced failure, empty if none.
	LastError string `json:"last_error,omitempty"`

	Archived bool `json:"archived"`

	// LastEdited is updated on any user-initiated mutation (send,
	// edit, rename). A nil LastEdited marks a chat the user never
	// touched.
	LastEdited *time.Time `json:"last_edited,omitempty"`

	// Messages in insertion order. The chat owns its messages
	// exclusively; deleting the chat deletes them.
	Messages []*Message `json:"messages"`
}

// NewChat creates an empty chat with a generated ID.
func NewChat(name string) *Chat {
	return &Chat{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// MESSAGE ACCESS
// =============================================================================

// SortedMessages returns the messages ordered by timestamp ascending.
// Ties keep insertion order (the sort is stable).
func (c *Chat) SortedMessages() []*Message {
	msgs := make([]*Message, len(c.Messages))
	copy(msgs, c.Messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs
}

// NonSystemMessages returns the sorted messages excluding system role.
func (c *Chat) NonSystemMessages() []*Message {
	var msgs []*Message
	for _, m := range c.SortedMessages() {
		if m.Role != RoleSystem {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// LastMessage returns the latest message in timestamp order, or nil.
func (c *Chat) LastMessage() *Message {
	msgs := c.SortedMessages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// MessageByID returns the message with the given ID, or nil.
func (c *Chat) MessageByID(id string) *Message {
	for _, m := range c.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// TrimmedInstructions returns CustomInstructions with surrounding
// whitespace removed; an all-whitespace value counts as unset.
func (c *Chat) TrimmedInstructions() string {
	return strings.TrimSpace(c.CustomInstructions)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// IsTransient reports whether the chat can be deleted silently: the
// user never sent anything, never typed a draft, and no title was ever
// derived for it.
func (c *Chat) IsTransient() bool {
	return len(c.Messages) == 0 &&
		c.LastEdited == nil &&
		c.Draft == "" &&
		!c.HasGeneratedName
}

// Touch records a user-initiated mutation.
func (c *Chat) Touch() {
	now := time.Now()
	c.LastEdited = &now
}

// SortKey returns the timestamp used for list ordering and date
// grouping: LastEdited when set, creation time otherwise.
func (c *Chat) SortKey() time.Time {
	if c.LastEdited != nil {
		return *c.LastEdited
	}
	return c.CreatedAt
}

// =============================================================================
// CHAT NUMBERING
// =============================================================================

// NextUntitledName returns the name for a new chat given the existing
// chat names: "Untitled" when no untitled chats exist, otherwise
// "Untitled N" with N one higher than the highest number in use.
func NextUntitledName(existing []string) string {
	highest := 0
	seen := false
	for _, name := range existing {
		if !strings.Contains(name, DefaultChatName) {
			continue
		}
		seen = true
		fields := strings.Fields(name)
		if len(fields) == 0 {
			continue
		}
		if n, err := strconv.Atoi(fields[len(fields)-1]); err == nil && n > highest {
			highest = n
		}
	}
	if !seen {
		return DefaultChatName
	}
	return DefaultChatName + " " + strconv.Itoa(highest+1)
}
