// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ot implements operational transform over atom sequences: a
// delta payload specialized for collaborative
// list/string editing, independent of the effectful delta algebra in
// package delta. An ot.Op[T] can be carried as the payload of a
// delta.Delta[A] whose model embeds a []T.
package ot

import (
	"errors"
	"fmt"
)

// Kind distinguishes the three atom shapes.
type Kind int

const (
	KindRetain Kind = iota
	KindDelete
	KindInsert
)

// Atom is one step of an Op: Retain(n) copies n input items forward,
// Delete(n) skips n input items, Insert(items) appends items that were
// not present in the input.
type Atom[T any] struct {
	Kind  Kind
	N     int
	Items []T
}

func Retain[T any](n int) Atom[T] { return Atom[T]{Kind: KindRetain, N: n} }
func Delete[T any](n int) Atom[T] { return Atom[T]{Kind: KindDelete, N: n} }
func Insert[T any](items []T) Atom[T] {
	return Atom[T]{Kind: KindInsert, Items: append([]T(nil), items...)}
}

func (a Atom[T]) length() int {
	if a.Kind == KindInsert {
		return len(a.Items)
	}
	return a.N
}

// Op is a sequence of atoms. Construct with New, which coalesces
// adjacent same-kind atoms into canonical form.
type Op[T any] struct {
	Atoms []Atom[T]
}

// New builds an Op from atoms, coalescing them into RORO-canonical
// form: atoms are grouped into blocks separated by Retains, and
// within a block all Deletes merge into one and all Inserts merge into
// one, regardless of the order they were given in, so the result always
// has at most one Delete and one Insert per block. Zero-length atoms are
// dropped.
func New[T any](atoms ...Atom[T]) Op[T] {
	return Op[T]{Atoms: coalesce(atoms)}
}

// coalesce groups atoms into maximal runs between Retains, merging all
// Deletes in a run into one and all Inserts into one (Delete emitted
// before Insert; Apply's output is unaffected by that choice, since
// Delete never appends to the output and Insert never consumes input).
// This is what guarantees New always produces a RORO-compliant Op no
// matter how its caller interleaved atoms of the same kind.
func coalesce[T any](atoms []Atom[T]) []Atom[T] {
	var out []Atom[T]
	var delN int
	var insItems []T
	hasDel, hasIns := false, false

	flush := func() {
		if hasDel {
			out = append(out, Delete[T](delN))
			hasDel, delN = false, 0
		}
		if hasIns {
			out = append(out, Insert(insItems))
			hasIns, insItems = false, nil
		}
	}

	for _, a := range atoms {
		switch a.Kind {
		case KindRetain:
			if a.N == 0 {
				continue
			}
			flush()
			if len(out) > 0 && out[len(out)-1].Kind == KindRetain {
				out[len(out)-1].N += a.N
			} else {
				out = append(out, Retain[T](a.N))
			}
		case KindDelete:
			if a.N == 0 {
				continue
			}
			hasDel = true
			delN += a.N
		case KindInsert:
			if len(a.Items) == 0 {
				continue
			}
			hasIns = true
			insItems = append(insItems, a.Items...)
		}
	}
	flush()
	return out
}

// ErrInvalidRORO is returned by Validate when an Op violates the
// RORO invariant (should not happen for any Op built via
// New, but is checked explicitly since Op values can be constructed by
// hand, e.g. when decoding from the wire).
var ErrInvalidRORO = errors.New("ot: operation does not satisfy the RORO invariant")

// Validate checks the RORO invariant directly: no block of Insert/Delete
// atoms between two Retains may exceed length two or repeat a kind.
func (op Op[T]) Validate() error {
	runLen := 0
	seenInsert, seenDelete := false, false
	for _, a := range op.Atoms {
		if a.Kind == KindRetain {
			runLen, seenInsert, seenDelete = 0, false, false
			continue
		}
		runLen++
		if runLen > 2 {
			return fmt.Errorf("%w: run of %d non-retain atoms exceeds 2", ErrInvalidRORO, runLen)
		}
		if a.Kind == KindInsert {
			if seenInsert {
				return fmt.Errorf("%w: two Insert atoms in the same block", ErrInvalidRORO)
			}
			seenInsert = true
		} else {
			if seenDelete {
				return fmt.Errorf("%w: two Delete atoms in the same block", ErrInvalidRORO)
			}
			seenDelete = true
		}
	}
	return nil
}

// InputSize is the number of input items this op consumes (Retain and
// Delete atoms).
func (op Op[T]) InputSize() int {
	n := 0
	for _, a := range op.Atoms {
		if a.Kind == KindRetain || a.Kind == KindDelete {
			n += a.N
		}
	}
	return n
}

// OutputSize is the number of items this op produces (Retain and Insert
// atoms).
func (op Op[T]) OutputSize() int {
	n := 0
	for _, a := range op.Atoms {
		switch a.Kind {
		case KindRetain:
			n += a.N
		case KindInsert:
			n += len(a.Items)
		}
	}
	return n
}

// ErrLengthMismatch is returned by Apply/Inverse/Compose/Transform when
// the supplied input does not match the op's declared size, or when two
// ops being composed/transformed have incompatible sizes.
var ErrLengthMismatch = errors.New("ot: length mismatch")

// Apply consumes input atom-by-atom, producing output. It fails if
// input's length disagrees with op.InputSize().
func Apply[T any](op Op[T], input []T) ([]T, error) {
	if len(input) != op.InputSize() {
		return nil, fmt.Errorf("ot: apply: %w: input has %d items, op expects %d", ErrLengthMismatch, len(input), op.InputSize())
	}
	out := make([]T, 0, op.OutputSize())
	pos := 0
	for _, a := range op.Atoms {
		switch a.Kind {
		case KindRetain:
			out = append(out, input[pos:pos+a.N]...)
			pos += a.N
		case KindDelete:
			pos += a.N
		case KindInsert:
			out = append(out, a.Items...)
		}
	}
	return out, nil
}

// Inverse produces an operation such that Apply(Inverse(op, input),
// Apply(op, input)) == input.
func Inverse[T any](op Op[T], input []T) (Op[T], error) {
	if len(input) != op.InputSize() {
		return Op[T]{}, fmt.Errorf("ot: inverse: %w: input has %d items, op expects %d", ErrLengthMismatch, len(input), op.InputSize())
	}
	atoms := make([]Atom[T], 0, len(op.Atoms))
	pos := 0
	for _, a := range op.Atoms {
		switch a.Kind {
		case KindRetain:
			atoms = append(atoms, Retain[T](a.N))
			pos += a.N
		case KindInsert:
			atoms = append(atoms, Delete[T](len(a.Items)))
		case KindDelete:
			atoms = append(atoms, Insert(input[pos:pos+a.N]))
			pos += a.N
		}
	}
	return New(atoms...), nil
}

// remaining is the number of input/output units an atom still accounts
// for; consume peels n of those off the front.
func remaining[T any](a Atom[T]) int { return a.length() }

func consume[T any](a Atom[T], n int) Atom[T] {
	if a.Kind == KindInsert {
		a.Items = a.Items[n:]
		return a
	}
	a.N -= n
	return a
}

// cloneAtoms makes a shallow copy of each atom so Compose/Transform can
// consume them destructively without mutating the caller's Op.
func cloneAtoms[T any](atoms []Atom[T]) []Atom[T] {
	out := make([]Atom[T], len(atoms))
	for i, a := range atoms {
		if a.Kind == KindInsert {
			a.Items = append([]T(nil), a.Items...)
		}
		out[i] = a
	}
	return out
}

// Compose produces c such that c(input) == b(a(input)) for every input a
// accepts. Requires a.OutputSize() == b.InputSize().
func Compose[T any](a, b Op[T]) (Op[T], error) {
	if a.OutputSize() != b.InputSize() {
		return Op[T]{}, fmt.Errorf("ot: compose: %w: a produces %d items, b expects %d", ErrLengthMismatch, a.OutputSize(), b.InputSize())
	}

	as := cloneAtoms(a.Atoms)
	bs := cloneAtoms(b.Atoms)
	var out []Atom[T]
	i, j := 0, 0

	for i < len(as) || j < len(bs) {
		switch {
		case i < len(as) && as[i].Kind == KindDelete:
			// a deletes from its own input; b never sees these items.
			out = append(out, Delete[T](as[i].N))
			i++
			continue
		case j < len(bs) && bs[j].Kind == KindInsert:
			// b inserts directly into the composed output.
			out = append(out, Insert(bs[j].Items))
			j++
			continue
		}
		if i >= len(as) || j >= len(bs) {
			return Op[T]{}, fmt.Errorf("ot: compose: %w: ops end with unmatched atoms", ErrLengthMismatch)
		}
		aAtom, bAtom := as[i], bs[j]
		n := min(remaining(aAtom), remaining(bAtom))
		switch {
		case aAtom.Kind == KindRetain && bAtom.Kind == KindRetain:
			out = append(out, Retain[T](n))
		case aAtom.Kind == KindRetain && bAtom.Kind == KindDelete:
			out = append(out, Delete[T](n))
		case aAtom.Kind == KindInsert && bAtom.Kind == KindRetain:
			out = append(out, Insert(aAtom.Items[:n]))
		case aAtom.Kind == KindInsert && bAtom.Kind == KindDelete:
			// b deletes exactly what a just inserted: cancels out.
		default:
			return Op[T]{}, fmt.Errorf("ot: compose: unexpected atom pairing")
		}
		as[i] = consume(aAtom, n)
		bs[j] = consume(bAtom, n)
		if remaining(as[i]) == 0 {
			i++
		}
		if remaining(bs[j]) == 0 {
			j++
		}
	}
	return New(out...), nil
}

// Transform produces (a', b') such that b'(a(input)) == a'(b(input)) for
// every input both a and b accept. Requires
// a.InputSize() == b.InputSize().
//
// Tie-break: when both a and b insert at the same position, a's
// insertion is ordered first in the merged result. a' (run after b)
// therefore inserts a's content immediately, ahead of anything from b;
// b' (run after a) retains past a's insertion before proceeding. This
// convention is applied symmetrically: b' never ends up ahead of a's
// insertion.
func Transform[T any](a, b Op[T]) (Op[T], Op[T], error) {
	if a.InputSize() != b.InputSize() {
		return Op[T]{}, Op[T]{}, fmt.Errorf("ot: transform: %w: a expects %d items, b expects %d", ErrLengthMismatch, a.InputSize(), b.InputSize())
	}

	as := cloneAtoms(a.Atoms)
	bs := cloneAtoms(b.Atoms)
	var aOut, bOut []Atom[T]
	i, j := 0, 0

	for i < len(as) || j < len(bs) {
		// Ties (both sides insert at this position) resolve by checking
		// a first: a's insertion is always ordered ahead of b's, whether
		// or not b also wants to insert here.
		switch {
		case i < len(as) && as[i].Kind == KindInsert:
			aOut = append(aOut, Insert(as[i].Items))
			bOut = append(bOut, Retain[T](len(as[i].Items)))
			i++
			continue
		case j < len(bs) && bs[j].Kind == KindInsert:
			bOut = append(bOut, Insert(bs[j].Items))
			aOut = append(aOut, Retain[T](len(bs[j].Items)))
			j++
			continue
		}

		if i >= len(as) || j >= len(bs) {
			return Op[T]{}, Op[T]{}, fmt.Errorf("ot: transform: %w: ops end with unmatched atoms", ErrLengthMismatch)
		}
		aAtom, bAtom := as[i], bs[j]
		n := min(remaining(aAtom), remaining(bAtom))
		switch {
		case aAtom.Kind == KindRetain && bAtom.Kind == KindRetain:
			aOut = append(aOut, Retain[T](n))
			bOut = append(bOut, Retain[T](n))
		case aAtom.Kind == KindDelete && bAtom.Kind == KindRetain:
			aOut = append(aOut, Delete[T](n))
		case aAtom.Kind == KindRetain && bAtom.Kind == KindDelete:
			bOut = append(bOut, Delete[T](n))
		case aAtom.Kind == KindDelete && bAtom.Kind == KindDelete:
			// both delete the same span: neither needs to act again.
		default:
			return Op[T]{}, Op[T]{}, fmt.Errorf("ot: transform: unexpected atom pairing")
		}
		as[i] = consume(aAtom, n)
		bs[j] = consume(bAtom, n)
		if remaining(as[i]) == 0 {
			i++
		}
		if remaining(bs[j]) == 0 {
			j++
		}
	}
	return New(aOut...), New(bOut...), nil
}
