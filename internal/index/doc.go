// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package index provides full-text search over chat messages.
//
// The index is a SQLite database with an FTS5 virtual table kept in
// sync by triggers. It is derived data: the JSON chat files remain the
// source of truth, and the index can be rebuilt from them at any time
// with Rebuild. Losing or deleting the index loses nothing.
package index
