// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol holds the update shapes shared by the server store,
// the per-client dispatcher, and the client reconciliation state
// machine, before any wire encoding happens. Keeping them here (rather
// than in store or dispatch) avoids an import cycle between those two
// packages, which both need to speak the same Full/Incremental shape.
package protocol

import (
	"github.com/AleutianAI/deltasync/delta"
	"github.com/AleutianAI/deltasync/ids"
)

// DeltaEnvelope is a delta plus its id and the execution context it was
// (or will be) run with, generalized with an optional Encoded form for
// the already-serialized state the server keeps in its outbound stream.
type DeltaEnvelope[A any] struct {
	Delta   delta.Delta[A]
	ID      ids.DeltaID
	Encoded []byte
	Context delta.Context
}

// Full replaces a client's model outright.
type Full[A any] struct {
	Model   A
	ModelID ids.ModelID
}

// Incremental applies a sequence of deltas on top of the model named by
// BaseModelID, producing UpdatedModelID.
type Incremental[A any] struct {
	BaseModelID    ids.ModelID
	UpdatedModelID ids.ModelID
	Deltas         []DeltaEnvelope[A]
}

// Update is the server-to-client update shape: exactly one of Full or
// Incremental is set. It is emitted by the store to observers, coalesced
// by the per-client dispatcher, and, once wire-encoded, decoded back
// into this same shape by the client reconciliation state machine.
type Update[A any] struct {
	Full        *Full[A]
	Incremental *Incremental[A]
}

// IsZero reports whether an Update carries neither a Full nor an
// Incremental payload (the dispatcher's "no pending update" state).
func (u Update[A]) IsZero() bool {
	return u.Full == nil && u.Incremental == nil
}
