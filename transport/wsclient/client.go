// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wsclient is the client-side half of the WebSocket transport:
// it dials the server, feeds every server update into a
// clientsync.Machine[A], and wire-encodes local mutations back out.
// clientsync.Machine is not safe for concurrent use, so every access to
// it here, from the read pump or from a caller's Apply, goes through
// one mutex.
package wsclient

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/deltasync/clientsync"
	"github.com/AleutianAI/deltasync/delta"
	"github.com/AleutianAI/deltasync/store"
	"github.com/AleutianAI/deltasync/wire"
)

// ErrNotConnected is returned by Apply after the connection has closed.
var ErrNotConnected = errors.New("wsclient: not connected")

// OnUpdate, if set, is called after the client's reconciled state
// changes in response to a server message; the hook a view layer would
// use to redraw. Called synchronously on the read pump goroutine, so it
// must not block.
type OnUpdate[A any] func(state clientsync.State[A])

// Client is one connection to a deltasync server for model type A.
type Client[A any] struct {
	ws         *websocket.Conn
	modelCodec wire.ModelCodec[A]
	deltaCodec wire.DeltaCodec[A]
	logger     *slog.Logger
	onUpdate   OnUpdate[A]

	mu      sync.Mutex
	writeMu sync.Mutex
	machine *clientsync.Machine[A]
	closed  bool

	readErr chan error
}

// Config configures Dial.
type Config[A any] struct {
	URL        string
	ModelCodec wire.ModelCodec[A]
	DeltaCodec wire.DeltaCodec[A]
	RefAdder   store.ReferenceAdder[A]
	Hash       store.HashFunc[A]
	OnUpdate   OnUpdate[A]
	Logger     *slog.Logger
	Header     http.Header
}

// Dial connects to cfg.URL, blocks until the server's first message
// arrives (which must be a Full update), and starts the background read
// pump. The returned Client is ready to Apply local mutations.
func Dial[A any](cfg Config[A]) (*Client[A], error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ws, _, err := websocket.DefaultDialer.Dial(cfg.URL, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("wsclient: dial: %w", err)
	}

	c := &Client[A]{
		ws:         ws,
		modelCodec: cfg.ModelCodec,
		deltaCodec: cfg.DeltaCodec,
		logger:     cfg.Logger,
		onUpdate:   cfg.OnUpdate,
		machine:    clientsync.New[A](cfg.RefAdder, cfg.Hash),
		readErr:    make(chan error, 1),
	}

	if err := c.readOneAndApply(); err != nil {
		ws.Close()
		return nil, err
	}
	if !c.machine.Initialized() {
		ws.Close()
		return nil, clientsync.ErrFirstUpdateNotFull
	}

	go c.readPump()
	return c, nil
}

func (c *Client[A]) readOneAndApply() error {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("wsclient: reading first message: %w", err)
	}
	return c.applyInbound(raw)
}

func (c *Client[A]) readPump() {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("disconnected from server", slog.String("error", err.Error()))
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			c.readErr <- err
			return
		}
		if err := c.applyInbound(raw); err != nil {
			c.logger.Error("failed to apply server update", slog.String("error", err.Error()))
		}
	}
}

func (c *Client[A]) applyInbound(raw []byte) error {
	if wire.IsKeepalive(raw) {
		return nil
	}
	update, clientID, err := wire.DecodeOutbound[A](raw, c.modelCodec, c.deltaCodec)
	if err != nil {
		return fmt.Errorf("wsclient: decoding update: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case update.Full != nil:
		err = c.machine.ApplyFull(clientID, *update.Full)
	case update.Incremental != nil:
		err = c.machine.ApplyIncremental(*update.Incremental)
	}
	if err != nil {
		return err
	}
	if c.onUpdate != nil {
		c.onUpdate(c.machine.State())
	}
	return nil
}

// Apply performs a local mutation: it runs d against the client's
// optimistic model via the reconciliation machine, then wire-encodes
// and sends the resulting commit. The returned State reflects the
// optimistic model immediately after the mutation, before any server
// acknowledgment.
func (c *Client[A]) Apply(d delta.Delta[A], ctx delta.Context) (clientsync.State[A], error) {
	c.mu.Lock()
	env, err := c.machine.Apply(d, ctx)
	state := c.machine.State()
	c.mu.Unlock()
	if err != nil {
		return state, err
	}

	msg, err := wire.EncodeCommit(wire.Commit[A]{Delta: env.Delta, ID: env.ID}, c.deltaCodec)
	if err != nil {
		return state, fmt.Errorf("wsclient: encoding commit: %w", err)
	}
	if err := c.send(msg); err != nil {
		return state, err
	}
	return state, nil
}

func (c *Client[A]) send(msg []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// Done returns a channel that receives the read pump's terminal error
// once the connection drops, letting a caller wait for disconnection
// without polling.
func (c *Client[A]) Done() <-chan error {
	return c.readErr
}

// State returns a copy of the client's current reconciliation state.
func (c *Client[A]) State() clientsync.State[A] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State()
}

// Close closes the underlying connection.
func (c *Client[A]) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close()
}
