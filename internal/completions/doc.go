// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package completions implements the streaming chat completions client
// for the Hack Club AI endpoint.
//
// The endpoint speaks an OpenAI-compatible request shape but streams
// newline-delimited JSON: one chunk object per line, no SSE framing,
// no [DONE] sentinel. A chunk whose first choice carries a non-empty
// finish_reason terminates the stream. Malformed lines are skipped so
// a single garbled chunk cannot kill an otherwise healthy stream.
//
// Cancellation is context-based throughout; callers distinguish a
// user-initiated stop from a transport failure with
// errors.Is(err, context.Canceled), never by string matching.
package completions
