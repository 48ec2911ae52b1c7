// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides durable persistence for chats and their
// messages.
//
// Each chat is one JSON file under <dataDir>/chats/, written atomically
// with fsync so a crash never leaves a partial transcript. The store is
// the single source of truth: every mutation goes through a store
// method and is followed by an explicit Persist, and subscribers are
// notified after each successful persist so the UI layer can refresh.
//
// On process start NormalizeOnStart must be called: any chat persisted
// with IsResponding=true is stale (an in-flight request cannot survive
// termination) and is reset, and transient chats the user never touched
// are pruned.
package store
