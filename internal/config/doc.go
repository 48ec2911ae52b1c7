// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and saves hackchat configuration.
//
// Configuration lives at ~/.hackchat/config.toml. Missing files are
// not an error: defaults apply, and environment variables override
// whatever was loaded (HACKCHAT_ENDPOINT, HACKCHAT_MODEL,
// HACKCHAT_DATA_DIR).
package config
