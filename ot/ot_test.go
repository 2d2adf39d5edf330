// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ot

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCoalescesAndSatisfiesRORO(t *testing.T) {
	op := New(
		Retain[byte](2),
		Insert([]byte("a")),
		Insert([]byte("b")),
		Delete[byte](1),
		Delete[byte](2),
		Retain[byte](0),
		Retain[byte](3),
	)
	require.NoError(t, op.Validate())
	require.Len(t, op.Atoms, 4)
	assert.Equal(t, KindRetain, op.Atoms[0].Kind)
	assert.Equal(t, 2, op.Atoms[0].N)
	// within one block, Delete is emitted before the merged Insert.
	assert.Equal(t, KindDelete, op.Atoms[1].Kind)
	assert.Equal(t, 3, op.Atoms[1].N)
	assert.Equal(t, KindInsert, op.Atoms[2].Kind)
	assert.Equal(t, []byte("ab"), op.Atoms[2].Items)
	// the zero-length Retain is dropped, the trailing Retain survives.
	assert.Equal(t, KindRetain, op.Atoms[3].Kind)
	assert.Equal(t, 3, op.Atoms[3].N)
}

func TestApplyRejectsLengthMismatch(t *testing.T) {
	op := New(Retain[byte](3))
	_, err := Apply(op, []byte("ab"))
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func randomOp(n int, r *rand.Rand) ([]byte, Op[byte]) {
	input := make([]byte, n)
	for i := range input {
		input[i] = byte('a' + r.Intn(26))
	}
	var atoms []Atom[byte]
	pos := 0
	for pos < n {
		switch r.Intn(3) {
		case 0:
			k := 1 + r.Intn(n-pos)
			atoms = append(atoms, Retain[byte](k))
			pos += k
		case 1:
			k := 1 + r.Intn(n-pos)
			atoms = append(atoms, Delete[byte](k))
			pos += k
		case 2:
			items := make([]byte, 1+r.Intn(3))
			for i := range items {
				items[i] = byte('A' + r.Intn(26))
			}
			atoms = append(atoms, Insert(items))
		}
	}
	return input, New(atoms...)
}

func TestInverseLaw(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		input, op := randomOp(1+r.Intn(12), r)
		output, err := Apply(op, input)
		require.NoError(t, err)
		inv, err := Inverse(op, input)
		require.NoError(t, err)
		back, err := Apply(inv, output)
		require.NoError(t, err)
		assert.Equal(t, input, back)
	}
}

func TestComposeLaw(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		input, a := randomOp(1+r.Intn(10), r)
		mid, err := Apply(a, input)
		require.NoError(t, err)
		_, b := randomOp(len(mid), r)

		want, err := Apply(b, mid)
		require.NoError(t, err)

		c, err := Compose(a, b)
		require.NoError(t, err)
		got, err := Apply(c, input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestTransformLaw(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		input, a := randomOp(1+r.Intn(10), r)
		_, b := randomOp(len(input), r)

		aPrime, bPrime, err := Transform(a, b)
		require.NoError(t, err)

		viaA, err := Apply(a, input)
		require.NoError(t, err)
		left, err := Apply(bPrime, viaA)
		require.NoError(t, err)

		viaB, err := Apply(b, input)
		require.NoError(t, err)
		right, err := Apply(aPrime, viaB)
		require.NoError(t, err)

		assert.Equal(t, left, right)
	}
}

func TestTransformInsertTieBreakOrdersAFirst(t *testing.T) {
	a := New(Insert([]byte("A")), Retain[byte](2))
	b := New(Insert([]byte("B")), Retain[byte](2))

	_, bPrime, err := Transform(a, b)
	require.NoError(t, err)

	input := []byte("xy")
	viaA, err := Apply(a, input)
	require.NoError(t, err)
	left, err := Apply(bPrime, viaA)
	require.NoError(t, err)

	assert.Equal(t, []byte("ABxy"), left)
}
