// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridgeclient

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/framebridge/lib/ipc"
	"github.com/bureau-foundation/framebridge/lib/netutil"
)

// connection is one open pipe to the server with its pending requests.
type connection struct {
	netConnection net.Conn
	logger        *slog.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan ipc.Message
	shut      bool

	readyOnce sync.Once
	ready     chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	err       error

	// established is set once Connect made this the client's current
	// connection.
	established atomic.Bool

	readerDone chan struct{}
}

func newConnection(netConnection net.Conn, logger *slog.Logger) *connection {
	return &connection{
		netConnection: netConnection,
		logger:        logger,
		pending:       make(map[string]chan ipc.Message),
		ready:         make(chan struct{}),
		closed:        make(chan struct{}),
		readerDone:    make(chan struct{}),
	}
}

func (c *connection) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// addPending registers a reply slot for requestID.
func (c *connection) addPending(requestID string) (<-chan ipc.Message, error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.shut {
		return nil, ErrDisconnected
	}
	if _, exists := c.pending[requestID]; exists {
		return nil, fmt.Errorf("request id %s already in flight", requestID)
	}
	reply := make(chan ipc.Message, 1)
	c.pending[requestID] = reply
	return reply, nil
}

func (c *connection) removePending(requestID string) {
	c.pendingMu.Lock()
	delete(c.pending, requestID)
	c.pendingMu.Unlock()
}

// resolve delivers a reply to its pending request. Replies to unknown
// or abandoned requests are discarded.
func (c *connection) resolve(requestID string, reply ipc.Message) {
	c.pendingMu.Lock()
	slot, ok := c.pending[requestID]
	delete(c.pending, requestID)
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug("discarding reply to unknown request",
			"request_id", requestID,
			"kind", string(reply.Kind()),
		)
		return
	}
	slot <- reply
}

func (c *connection) write(message ipc.Message) error {
	data, err := ipc.Encode(message)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.netConnection.Write(data)
	return err
}

// close shuts the connection and fails every pending request. Only the
// first call's cause is kept. Expected close errors are recorded as nil.
func (c *connection) close(cause error) {
	c.closeOnce.Do(func() {
		if cause != nil && !netutil.IsExpectedCloseError(cause) {
			c.err = cause
		}
		c.pendingMu.Lock()
		c.shut = true
		clear(c.pending)
		c.pendingMu.Unlock()

		c.netConnection.Close()
		close(c.closed)
	})
}
