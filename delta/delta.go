// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package delta implements the effectful delta algebra and its
// interpreter.
//
// # Description
//
// A Delta[A] is not a pure function A -> A. It is a small effectful
// program over three operations: minting a fresh Guid (GetID), reading
// the server-assigned execution Context (GetContext), and registering a
// brand new value in the id registry while minting both its id and its
// revision (Put). The interpreter replays that program deterministically
// given the same (Context, DeltaID) on both the client that proposed the
// delta and the server (and every other client) that later reconciles
// it, which is the whole point: ids minted inside a delta must come out
// identical everywhere it runs.
package delta

import (
	"github.com/AleutianAI/deltasync/ids"
)

// Context is the immutable, server-assigned execution context every
// delta is run with. It is generated on the server at the moment of
// application and shipped with the outbound update so clients can
// reproduce the server's result deterministically.
type Context struct {
	Moment int64 `json:"moment"`
}

// Delta is an effectful transformation of a model of type A. Domain code
// implements Run, driving the supplied Interpreter for identifier
// minting, context access, and registry writes.
type Delta[A any] interface {
	Run(in *Interpreter, model A) A
}

// AddedRef is a value newly registered by a Put operation during a
// delta's execution: the id it was minted under, the revision Guid it
// was written at, the value itself, and a thunk that encodes it with the
// codec supplied to Put (deferred so AddedRef itself need not be
// generic).
type AddedRef struct {
	ID       ids.Guid
	Revision ids.Guid
	Value    any
	Encode   func() ([]byte, error)
}

// DeltaRunResult is the output of running a delta: the transformed model
// and every value the delta registered along the way, in the order
// defined by Put (most-recently-completed Put first).
type DeltaRunResult[A any] struct {
	Data      A
	AddedRefs []AddedRef
}

// Codec describes how to serialize a value registered by Put. The core
// is otherwise format-agnostic; domain code supplies one Codec per
// registered type.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
}

// CodecFunc adapts a plain encode function to Codec.
type CodecFunc[V any] func(v V) ([]byte, error)

func (f CodecFunc[V]) Encode(v V) ([]byte, error) { return f(v) }

// Run interprets delta against model with the given execution context
// and delta id, returning the transformed model and every value
// registered by Put along the way.
//
// Two interpreters running the same delta against the same initial model
// with identical (context, deltaID) produce bit-equal results, including
// the order and contents of AddedRefs; this is the determinism
// contract every delta implementation must uphold by only observing the
// model, the Interpreter, and its own fields.
func Run[A any](d Delta[A], model A, context Context, deltaID ids.DeltaID) DeltaRunResult[A] {
	in := newInterpreter(context, deltaID)
	data := d.Run(in, model)
	return DeltaRunResult[A]{Data: data, AddedRefs: in.addedRefs}
}
