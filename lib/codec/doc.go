// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the binary encoding for on-disk server state.
//
// Records are CBOR (RFC 8949) in Core Deterministic Encoding via
// fxamacker/cbor. Struct fields use `cbor:"..."` tags; types without
// them fall back to their `json:"..."` tags. Consumers import only this
// package, never fxamacker/cbor directly, so every writer and reader
// agrees on the encoding options.
//
// The pipe protocol itself is newline-delimited JSON (lib/ipc), not
// CBOR: the client side is not necessarily Go.
package codec
