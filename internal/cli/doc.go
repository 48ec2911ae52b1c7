// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the interactive hackchat REPL.
//
// Input uses readline-style editing with a persistent history file;
// slash commands manage chats, messages, and exports, and plain text
// is sent to the assistant with the response streamed to the terminal
// as chunks arrive. Ctrl+C during a response cancels it and keeps the
// partial text.
package cli
