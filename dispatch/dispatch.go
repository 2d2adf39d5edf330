// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch implements the per-client dispatcher and the
// observer-to-pull bridge that adapts it to a pull-based output stream.
// Both responsibilities are implemented on the single Dispatcher type
// below rather than as two separate types: the bridge's pendingPull
// bookkeeping must be cleared under the same lock that guards the
// pending outbound message, and putting them on one struct makes that
// sharing the obvious, rather than the coincidental, outcome.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/deltasync/delta"
	"github.com/AleutianAI/deltasync/ids"
	"github.com/AleutianAI/deltasync/protocol"
	"github.com/AleutianAI/deltasync/store"
	"github.com/AleutianAI/deltasync/wire"
)

// StoreApplier is the subset of store.Store[A] the dispatcher needs;
// expressed as an interface so dispatch can be tested without a real
// store and so the package does not otherwise depend on store's
// internals.
type StoreApplier[A any] interface {
	ApplyDelta(env store.InboundEnvelope[A], context delta.Context)
}

// Clock supplies the wall-clock moment used to build a fresh
// delta.Context when forwarding a commit to the store.
type Clock func() int64

// Metrics is the subset of Prometheus collectors the dispatcher updates.
type Metrics struct {
	CommitsDropped Counter
}

type Counter interface{ Inc() }

// Dispatcher mediates between one connection and the store: it folds
// every Update the store emits into a single pending outbound message
// (modelUpdated), hands that message to the network layer either
// synchronously (MsgForClient) or via a pending pull continuation
// (Pull), and forwards decoded client commits to the store
// (MsgFromClient). All three share the dispatcher's one mutex.
type Dispatcher[A any] struct {
	mu sync.Mutex

	clientID   ids.ClientID
	refAdder   store.ReferenceAdder[A]
	applier    StoreApplier[A]
	modelCodec wire.ModelCodec[A]
	deltaCodec wire.DeltaCodec[A]
	clock      Clock
	metrics    Metrics
	logger     *slog.Logger

	pending protocol.Update[A]

	pendingPull func(outbound []byte, err error)
}

// New builds a Dispatcher for one connection, already assigned clientID
// (the server mints this once per connection, before the first Observe
// call).
func New[A any](
	clientID ids.ClientID,
	refAdder store.ReferenceAdder[A],
	applier StoreApplier[A],
	modelCodec wire.ModelCodec[A],
	deltaCodec wire.DeltaCodec[A],
	clock Clock,
	metrics Metrics,
	logger *slog.Logger,
) *Dispatcher[A] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher[A]{
		clientID:   clientID,
		refAdder:   refAdder,
		applier:    applier,
		modelCodec: modelCodec,
		deltaCodec: deltaCodec,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
	}
}

// ClientID returns the id this dispatcher's connection was assigned.
func (d *Dispatcher[A]) ClientID() ids.ClientID {
	return d.clientID
}

// Observe implements store.Observer: it folds update into the pending
// outbound message and, if a pull is waiting, immediately hands it the
// freshly encoded message.
func (d *Dispatcher[A]) Observe(update protocol.Update[A]) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.modelUpdated(update)

	if d.pendingPull == nil || d.pending.IsZero() {
		return
	}
	msg, ok, err := d.takeMessageLocked()
	if !ok {
		return
	}
	cb := d.pendingPull
	d.pendingPull = nil
	if err != nil {
		d.logger.Error("failed to encode outbound update", "clientId", d.clientID, "error", err)
	}
	cb(msg, err)
}

// modelUpdated folds update into any pending outbound update using the
// coalescing rules below. Must be called with mu held.
func (d *Dispatcher[A]) modelUpdated(update protocol.Update[A]) {
	switch {
	case d.pending.IsZero():
		d.pending = update

	case update.Full != nil:
		// Full B replaces whatever was pending, Full or Incremental.
		d.pending = update

	case d.pending.Full != nil && update.Incremental != nil:
		model := d.pending.Full.Model
		for _, env := range update.Incremental.Deltas {
			result := delta.Run(env.Delta, model, env.Context, env.ID)
			model = d.refAdder(result.Data, result.AddedRefs)
		}
		d.pending.Full.Model = model
		d.pending.Full.ModelID = update.Incremental.UpdatedModelID

	case d.pending.Incremental != nil && update.Incremental != nil:
		d.pending.Incremental.Deltas = append(d.pending.Incremental.Deltas, update.Incremental.Deltas...)
		d.pending.Incremental.UpdatedModelID = update.Incremental.UpdatedModelID
	}
}

// MsgForClient atomically takes and clears the pending outbound update,
// encoding it to wire form. ok is false when there was nothing pending.
func (d *Dispatcher[A]) MsgForClient() (msg []byte, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.takeMessageLocked()
}

func (d *Dispatcher[A]) takeMessageLocked() ([]byte, bool, error) {
	if d.pending.IsZero() {
		return nil, false, nil
	}
	update := d.pending
	d.pending = protocol.Update[A]{}

	msg, err := wire.EncodeOutbound(update, d.clientID, d.modelCodec, d.deltaCodec)
	return msg, true, err
}

// MsgFromClient decodes raw as an inbound client message. A decode
// failure or a commit whose delta id does not belong to this
// connection's client id is logged and dropped; the connection is kept
// open either way. The empty object `{}` keepalive is silently ignored.
func (d *Dispatcher[A]) MsgFromClient(raw []byte) {
	commit, err := wire.DecodeCommit[A](raw, d.deltaCodec)
	if err != nil {
		d.logger.Warn("dropping malformed client commit", "clientId", d.clientID, "error", err)
		d.countDropped()
		return
	}
	if commit == nil {
		return // keepalive
	}
	if commit.ID.ClientID != d.clientID {
		d.logger.Warn("dropping commit with mismatched client id",
			"clientId", d.clientID, "commitClientId", commit.ID.ClientID)
		d.countDropped()
		return
	}

	context := delta.Context{Moment: d.clock()}
	env := store.InboundEnvelope[A]{Delta: commit.Delta, ID: commit.ID, Encoded: commit.Encoded}
	d.applier.ApplyDelta(env, context)
}

func (d *Dispatcher[A]) countDropped() {
	if d.metrics.CommitsDropped != nil {
		d.metrics.CommitsDropped.Inc()
	}
}

// Pull requests the next outbound message. If one is already pending it
// is delivered synchronously (still under mu, but cb itself must not
// block or re-enter the dispatcher). Otherwise cb is stored as the
// single outstanding continuation and fired the next time Observe
// produces a message. Calling Pull while one is already pending is a
// programming error: at most one pull may be outstanding at a time.
func (d *Dispatcher[A]) Pull(cb func(msg []byte, err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pendingPull != nil {
		panic(fmt.Sprintf("dispatch: Pull called for client %d with a pull already outstanding", d.clientID))
	}

	msg, ok, err := d.takeMessageLocked()
	if ok {
		cb(msg, err)
		return
	}
	d.pendingPull = cb
}

// Abandon drops any outstanding pull continuation without invoking it,
// used when the connection closes while a pull is in flight.
func (d *Dispatcher[A]) Abandon() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingPull = nil
}
