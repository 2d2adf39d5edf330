// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clientsync implements the client-side reconciliation state
// machine: the single-threaded cooperative counterpart to
// the server's store and dispatcher. It holds the client's optimistic
// model, the server's last-confirmed model, and the queue of locally
// applied deltas still awaiting acknowledgment.
package clientsync

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/deltasync/delta"
	"github.com/AleutianAI/deltasync/ids"
	"github.com/AleutianAI/deltasync/protocol"
	"github.com/AleutianAI/deltasync/store"
)

// ErrFirstUpdateNotFull is returned when the first message a Machine
// receives from the server is Incremental rather than Full. Fatal for
// the connection.
var ErrFirstUpdateNotFull = errors.New("clientsync: first server update was not full")

// ErrModelIDMismatch is returned when the locally recomputed model hash
// disagrees with the id the server claims. Fatal for the connection.
var ErrModelIDMismatch = errors.New("clientsync: locally computed model id does not match server's")

// ErrBaseModelMismatch is returned when an incremental update's
// baseModelId does not match the client's current server-confirmed
// model id. Fatal for the connection.
var ErrBaseModelMismatch = errors.New("clientsync: incremental update's base model id does not match")

// ErrMissingPendingDelta is returned when a server Local acknowledgment
// names a delta id absent from the pending queue. Fatal for the
// connection.
var ErrMissingPendingDelta = errors.New("clientsync: no pending delta for acknowledged id")

// State is the client's reconciliation state at a point in time. It is
// exposed read-only through Machine.State for a view layer to render
// Model.
type State[A any] struct {
	ClientID          ids.ClientID
	NextClientDeltaID ids.ClientDeltaID
	ServerModel       A
	ServerModelID     ids.ModelID
	Pending           []protocol.DeltaEnvelope[A]
	Model             A
}

// Machine is the client reconciliation state machine. It is not safe
// for concurrent use; the client side of the protocol is single-threaded
// cooperative, and callers that share a Machine across goroutines must
// serialize access themselves (see transport/wsclient).
type Machine[A any] struct {
	refAdder store.ReferenceAdder[A]
	hash     store.HashFunc[A]

	initialized bool
	state       State[A]
}

// New builds a Machine that is not yet usable until the first server
// Full update is applied via ApplyFull. hash may be nil for model types
// that carry no verifiable hash, in which case model-id mismatches can
// never be detected locally.
func New[A any](refAdder store.ReferenceAdder[A], hash store.HashFunc[A]) *Machine[A] {
	return &Machine[A]{refAdder: refAdder, hash: hash}
}

// State returns a copy of the machine's current reconciliation state.
func (m *Machine[A]) State() State[A] {
	return m.state
}

// Initialized reports whether the machine has received its first Full
// update and is ready to accept local mutations and further server
// updates.
func (m *Machine[A]) Initialized() bool {
	return m.initialized
}

// ApplyFull handles a server Full update, including the initial-state
// case when the machine has not yet been initialized. clientID is the
// id the server assigned this
// connection, carried alongside the Full payload at the wire layer
// (wire.DecodeOutbound's second return value) rather than inside
// protocol.Full itself.
//
// Pending deltas are discarded outright: a Full update is the server
// telling this connection to resynchronize from scratch, and any
// optimistic local effect not yet reflected in the server's model is
// abandoned. nextClientDeltaId is carried forward, not reset, so any
// delta this connection mints in the future stays globally unique.
func (m *Machine[A]) ApplyFull(clientID ids.ClientID, full protocol.Full[A]) error {
	if err := m.verifyHash(full.Model, full.ModelID); err != nil {
		return err
	}

	next := ids.ClientDeltaID(0)
	if m.initialized {
		next = m.state.NextClientDeltaID
	}

	m.state = State[A]{
		ClientID:          clientID,
		NextClientDeltaID: next,
		ServerModel:       full.Model,
		ServerModelID:     full.ModelID,
		Pending:           nil,
		Model:             full.Model,
	}
	m.initialized = true
	return nil
}

// ApplyIncremental handles a server Incremental update in two phases:
// first it linearizes the update's entries against the pending queue to
// obtain the server's new confirmed model, then it verifies that model's
// id and rebuilds the optimistic model by re-running the surviving
// pending deltas on top. It fails if called before the machine has been
// initialized by ApplyFull.
func (m *Machine[A]) ApplyIncremental(inc protocol.Incremental[A]) error {
	if !m.initialized {
		return ErrFirstUpdateNotFull
	}
	if inc.BaseModelID != m.state.ServerModelID {
		return ErrBaseModelMismatch
	}

	// Phase 1: linearize against pending deltas.
	working := m.state.ServerModel
	pending := append([]protocol.DeltaEnvelope[A](nil), m.state.Pending...)

	for _, entry := range inc.Deltas {
		if entry.Delta == nil {
			// Local acknowledgment: find the matching pending delta.
			idx := -1
			for i, p := range pending {
				if p.ID == entry.ID {
					idx = i
					break
				}
			}
			if idx == -1 {
				return ErrMissingPendingDelta
			}
			// Drop every pending delta strictly before the match, then
			// re-run the matched delta with the server's context (not
			// the client's original optimistic one) and drop it too.
			matched := pending[idx]
			result := delta.Run(matched.Delta, working, entry.Context, matched.ID)
			working = m.refAdder(result.Data, result.AddedRefs)
			pending = append([]protocol.DeltaEnvelope[A](nil), pending[idx+1:]...)
			continue
		}

		// Remote delta.
		result := delta.Run(entry.Delta, working, entry.Context, entry.ID)
		working = m.refAdder(result.Data, result.AddedRefs)
	}

	// Phase 2: verify and rebuild.
	if err := m.verifyHash(working, inc.UpdatedModelID); err != nil {
		return err
	}

	model := working
	for _, env := range pending {
		result := delta.Run(env.Delta, model, env.Context, env.ID)
		model = m.refAdder(result.Data, result.AddedRefs)
	}

	m.state.ServerModel = working
	m.state.ServerModelID = inc.UpdatedModelID
	m.state.Pending = pending
	m.state.Model = model
	return nil
}

// Apply performs a local, optimistic mutation: it mints the next delta
// id for this connection, runs the
// delta against the current optimistic model, appends the resulting
// envelope to the pending queue, and returns that envelope so the
// caller can wire-encode and send it as a commit. The context passed
// here is optimistic and will be replaced by the server's own context
// once the commit is acknowledged (see ApplyIncremental's Local case).
func (m *Machine[A]) Apply(d delta.Delta[A], context delta.Context) (protocol.DeltaEnvelope[A], error) {
	if !m.initialized {
		return protocol.DeltaEnvelope[A]{}, fmt.Errorf("clientsync: Apply called before the machine was initialized")
	}

	id := ids.DeltaID{ClientID: m.state.ClientID, ClientDeltaID: m.state.NextClientDeltaID}
	result := delta.Run(d, m.state.Model, context, id)

	env := protocol.DeltaEnvelope[A]{Delta: d, ID: id, Context: context}
	m.state.Model = m.refAdder(result.Data, result.AddedRefs)
	m.state.Pending = append(m.state.Pending, env)
	m.state.NextClientDeltaID++
	return env, nil
}

func (m *Machine[A]) verifyHash(model A, claimed ids.ModelID) error {
	if m.hash == nil {
		return nil
	}
	if m.hash(model) != claimed {
		return ErrModelIDMismatch
	}
	return nil
}
