// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
//
// A Chat is a persisted conversation thread: metadata (name, custom
// instructions, draft, error/responding state) plus an ordered message
// list. A Message is one turn attributed to the system, user, or
// assistant role. The package also holds the display policies that the
// store and CLI share: burst grouping of consecutive same-role
// messages, date bucketing for the chat list, and "Untitled N"
// numbering for new chats.
package model
