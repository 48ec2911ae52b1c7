// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package netcheck tracks reachability of the completions endpoint.
//
// A Monitor probes the endpoint host on an interval and keeps a
// thread-safe connected flag. Send paths consult CheckSendAllowed
// before doing any work so an offline user gets an immediate, local
// refusal instead of a slow transport timeout.
package netcheck
