// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the streaming chat session: the state
// machine that ties user input, the persistent store, and the
// completions client together.
//
// A Session owns at most one in-flight completion at a time. Every
// send carries a correlation ID; chunks from a superseded or cancelled
// stream are dropped before they can touch chat state, so a stale
// response can never bleed into a newer exchange. Cancellation is user
// intent and is never surfaced as an error; the partial assistant text
// received before the stop is kept.
package chat
