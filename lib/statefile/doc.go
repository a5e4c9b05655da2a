// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile records the capture process the server is running,
// so a server that died mid-session can clean up after itself.
//
// The server calls [Write] after every successful launch and [Clear]
// after every teardown. On startup it calls [Check]: a record that
// exists and is recent means the previous instance never reached its
// teardown, and the capture process it names may still be running in
// the user's session. The server terminates that process (after
// confirming the pid still belongs to the capture executable) and
// clears the record.
//
// The file is written atomically (temporary file, fsync, rename, fsync
// parent directory) so readers never see a partial record. Records are
// CBOR via lib/codec.
package statefile
