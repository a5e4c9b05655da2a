// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Framebridge-server is the privileged half of framebridge. It listens
// on a local pipe for one client at a time, launches the frame capture
// tool in the desktop session of the process the client names, and
// pushes rolling frame statistics back to the client.
//
// Started by the Service Control Manager it runs as the FrameBridge
// service; started from a console it runs until interrupted.
// Configuration comes from --config, else the file named by
// FRAMEBRIDGE_CONFIG, else built-in defaults.
package main
