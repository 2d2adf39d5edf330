// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logoot implements the fractional-position list-ordering
// algorithm: stable insertion between any two list
// positions without client coordination. A Position orders a list
// element relative to its neighbors; PositionsBetween mints n new
// positions strictly between two existing ones.
package logoot

import (
	"fmt"
	"math/big"

	"github.com/AleutianAI/deltasync/ids"
)

// Base is 2^31, the radix each identifier's position component is drawn
// from. MaxPos is the largest value a position component may hold.
const Base = 1 << 31

const MaxPos = Base - 1

// Ident is one (position, clientId) pair in a Position, compared
// lexicographically: position first, clientId as tie-break.
type Ident struct {
	Pos      uint32
	ClientID ids.ClientID
}

// Position is a nonempty sequence of Idents giving a list element a
// fractional location. The first Ident's Pos may be
// zero; every subsequent Ident's Pos must be strictly positive. A valid
// position may still be a prefix of a longer one; Compare orders the
// shorter one first.
type Position []Ident

// CompareIdent orders two Idents: position first, clientId as tie-break.
func CompareIdent(a, b Ident) int {
	switch {
	case a.Pos < b.Pos:
		return -1
	case a.Pos > b.Pos:
		return 1
	case a.ClientID < b.ClientID:
		return -1
	case a.ClientID > b.ClientID:
		return 1
	default:
		return 0
	}
}

// Compare is a total order over Positions: lexicographic over Idents; if
// one Position is a prefix of the other, the shorter one is smaller.
func Compare(p, q Position) int {
	n := len(p)
	if len(q) < n {
		n = len(q)
	}
	for i := 0; i < n; i++ {
		if c := CompareIdent(p[i], q[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(q):
		return -1
	case len(p) > len(q):
		return 1
	default:
		return 0
	}
}

// ErrInvalidPosition is returned by Validate.
var ErrInvalidPosition = fmt.Errorf("logoot: invalid position")

// Validate checks the Position's invariants: it is
// non-empty, every Pos fits within [0, MaxPos], and only the first Ident
// may have Pos == 0.
func (p Position) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty position", ErrInvalidPosition)
	}
	for i, id := range p {
		if id.Pos > MaxPos {
			return fmt.Errorf("%w: identifier %d position %d exceeds max %d", ErrInvalidPosition, i, id.Pos, MaxPos)
		}
		if i > 0 && id.Pos == 0 {
			return fmt.Errorf("%w: identifier %d has a zero position component; only the first may be zero", ErrInvalidPosition, i)
		}
	}
	return nil
}

// First returns the single-identifier position (0, clientID), a
// reasonable starting position for a brand-new list.
func First(clientID ids.ClientID) Position {
	return Position{{Pos: 0, ClientID: clientID}}
}

var bigBase = big.NewInt(Base)

// asInt interprets p as a big-endian base-Base integer: the first
// identifier is the most significant digit.
func asInt(p Position) *big.Int {
	v := new(big.Int)
	for _, id := range p {
		v.Mul(v, bigBase)
		v.Add(v, big.NewInt(int64(id.Pos)))
	}
	return v
}

// requiredLength is the number of base-Base digits needed to represent a
// non-negative v.
func requiredLength(v *big.Int) int {
	if v.Sign() == 0 {
		return 1
	}
	n := 0
	rem := new(big.Int).Set(v)
	for rem.Sign() > 0 {
		rem.Div(rem, bigBase)
		n++
	}
	return n
}

// digits splits v into exactly length base-Base digits, most significant
// first. Callers must ensure length is sufficient (see requiredLength).
func digits(v *big.Int, length int) []uint32 {
	out := make([]uint32, length)
	rem := new(big.Int).Set(v)
	m := new(big.Int)
	for i := length - 1; i >= 0; i-- {
		rem.DivMod(rem, bigBase, m)
		out[i] = uint32(m.Int64())
	}
	return out
}

// fromInt rebuilds a Position of at least length digits out of v,
// growing the length (prepending more-significant digits) if v does not
// fit; the most-significant identifier may grow without bound. Newly
// grown leading digits inherit clientIDs[0], the client id
// already attached to the current most significant digit; every other
// digit keeps the clientID assigned to it by the caller, independent of
// how its Pos value changed.
func fromInt(v *big.Int, length int, clientIDs []ids.ClientID) Position {
	if need := requiredLength(v); need > length {
		length = need
	}
	d := digits(v, length)
	// Carry propagation in the base-Base decomposition can land a
	// non-leading digit on exactly zero (e.g. digits(Base, 2) == [1, 0]),
	// which would violate Position.Validate's "only the first identifier
	// may be zero" invariant. Bump any such digit up to 1: PositionsBetween
	// keeps step >= 2 so this never collides with the neighboring position
	// it mints from v +/- step.
	for i := 1; i < length; i++ {
		if d[i] == 0 {
			d[i] = 1
		}
	}
	extra := length - len(clientIDs)
	lead := clientIDs[0]
	out := make(Position, length)
	for i := 0; i < length; i++ {
		cid := lead
		if i >= extra {
			cid = clientIDs[i-extra]
		}
		out[i] = Ident{Pos: d[i], ClientID: cid}
	}
	return out
}

// AddToPos adds offset to p, interpreting p as a big-endian base-Base
// integer and propagating carries upward. Every
// digit keeps the clientId it already had in p; any digit the carry
// introduces beyond p's original length inherits p's leading clientId.
func AddToPos(p Position, offset *big.Int) Position {
	v := new(big.Int).Add(asInt(p), offset)
	return fromInt(v, len(p), clientIDsOf(p))
}

func clientIDsOf(p Position) []ids.ClientID {
	out := make([]ids.ClientID, len(p))
	for i, id := range p {
		out[i] = id.ClientID
	}
	return out
}

// extend pads p to length L with zero-position identifiers borrowing the
// clientId of p's own last identifier (the owning side). Returns the
// extended Position and its parallel clientId
// lineage, used later so every generated position's digit at this index
// keeps the same clientId regardless of what value ends up there.
func extend(p Position, l int) (Position, []ids.ClientID) {
	out := append(Position(nil), p...)
	lineage := clientIDsOf(p)
	if len(out) == 0 {
		return out, lineage
	}
	borrowed := out[len(out)-1].ClientID
	for len(out) < l {
		out = append(out, Ident{Pos: 0, ClientID: borrowed})
		lineage = append(lineage, borrowed)
	}
	return out, lineage
}

// PositionsBetween mints n positions strictly between p and q, strictly
// ordered. clientID is attached to any identifier position newly
// introduced while extending p/q's length to make enough room;
// identifier positions that came from p or q keep their
// original clientIds.
//
// The minted step is never smaller than 2: fromInt's base-Base digit
// decomposition can carry a non-leading digit to exactly zero, which it
// repairs by bumping that digit to 1. A step of at least 2 guarantees
// that repair can never make one minted position collide with the next.
func PositionsBetween(p, q Position, n int, clientID ids.ClientID) ([]Position, error) {
	if n < 1 {
		return nil, fmt.Errorf("logoot: n must be >= 1, got %d", n)
	}
	if Compare(p, q) >= 0 {
		return nil, fmt.Errorf("logoot: p must be strictly less than q")
	}

	l := len(p)
	if len(q) > l {
		l = len(q)
	}
	pExt, lineage := extend(p, l)
	qExt, _ := extend(q, l)

	nBig := big.NewInt(int64(n))
	// Require room for step >= 2, not just step >= 1: fromInt's zero-digit
	// repair (above) bumps an offending digit up by one, and a step of at
	// least 2 guarantees that bump can never cross into the neighboring
	// minted position.
	threshold := new(big.Int).Add(new(big.Int).Mul(nBig, big.NewInt(2)), big.NewInt(1))
	interval := new(big.Int).Sub(asInt(qExt), asInt(pExt))

	for interval.Cmp(threshold) < 0 {
		pExt = append(pExt, Ident{Pos: 0, ClientID: clientID})
		qExt = append(qExt, Ident{Pos: 0, ClientID: clientID})
		lineage = append(lineage, clientID)
		l++
		interval = new(big.Int).Sub(asInt(qExt), asInt(pExt))
	}

	step := new(big.Int).Sub(interval, big.NewInt(1))
	step.Div(step, nBig)
	if step.Cmp(big.NewInt(2)) < 0 {
		step = big.NewInt(2)
	}

	base := asInt(pExt)
	out := make([]Position, n)
	for i := 1; i <= n; i++ {
		off := new(big.Int).Mul(step, big.NewInt(int64(i)))
		v := new(big.Int).Add(base, off)
		out[i-1] = fromInt(v, l, lineage)
	}
	return out, nil
}
