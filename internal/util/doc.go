// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides shared helpers for the hackchat application.
//
// It contains the crash-safe file writer used by the conversation store
// and the rune-aware truncation helpers used for previews and list
// rendering.
package util
