// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package delta

import "github.com/AleutianAI/deltasync/ids"

// Interpreter carries the mutable state a single delta execution thread
// needs: the execution context, the delta identity it is running under,
// the within-delta counter, and the refs registered so far. It is not
// safe for concurrent use; a single delta execution is single-threaded
// by construction (the recursive Put/build calls are the only
// "concurrency").
type Interpreter struct {
	context   Context
	deltaID   ids.DeltaID
	counter   ids.WithinDeltaID
	addedRefs []AddedRef
}

func newInterpreter(context Context, deltaID ids.DeltaID) *Interpreter {
	return &Interpreter{context: context, deltaID: deltaID}
}

// GetID mints a fresh Guid scoped to this delta's identity and advances
// the within-delta counter by one.
func (in *Interpreter) GetID() ids.Guid {
	g := ids.Guid{
		ClientID:      in.deltaID.ClientID,
		ClientDeltaID: in.deltaID.ClientDeltaID,
		WithinDeltaID: in.counter,
	}
	in.counter++
	return g
}

// GetContext returns the execution context this delta is running under,
// unchanged.
func (in *Interpreter) GetContext() Context {
	return in.context
}

// Put mints two Guids (one for the value's id, one for its revision),
// executes build with the minted id, and registers the result in the
// delta's AddedRefs. Put is a free function rather than a method because
// Go methods cannot introduce new type parameters; V is the type of
// value being registered.
//
// Nested Put calls (a build function that itself calls Put) observe the
// same Interpreter and so share its within-delta counter. The nested
// call's AddedRef is prepended to
// in.addedRefs before control returns here, so this Put's own AddedRef,
// prepended afterward, ends up ahead of it: AddedRefs are ordered
// most-recently-completed first.
func Put[V any](in *Interpreter, build func(ids.Id[V]) V, codec Codec[V]) V {
	idGuid := in.GetID()
	revisionGuid := in.GetID()
	id := ids.NewId[V](idGuid)
	v := build(id)

	ref := AddedRef{
		ID:       idGuid,
		Revision: revisionGuid,
		Value:    v,
		Encode:   func() ([]byte, error) { return codec.Encode(v) },
	}
	in.addedRefs = append([]AddedRef{ref}, in.addedRefs...)
	return v
}
