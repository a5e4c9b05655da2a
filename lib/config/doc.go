// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the framebridge server configuration.
//
// Configuration comes from a single file named by the --config flag
// ([LoadFile]) or the FRAMEBRIDGE_CONFIG environment variable ([Load]).
// There is no automatic discovery. A server started with neither runs
// on [Resolve], the built-in defaults.
//
// Files are YAML. Files ending in .json or .jsonc are accepted too:
// comments and trailing commas are stripped before decoding.
//
// The file may contain development and production sections that
// override base values when [Config].Environment matches. Production
// forbids the direct launch mode.
//
// Path fields (capture.executable, state.directory) expand ${VAR} and
// ${VAR:-default}. No other environment variables override config
// values.
//
// This package depends on no other framebridge packages.
package config
