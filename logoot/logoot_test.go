// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logoot

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/deltasync/ids"
)

func TestCompareIsTotalOrder(t *testing.T) {
	p := Position{{Pos: 0, ClientID: 1}, {Pos: 5, ClientID: 2}}
	q := Position{{Pos: 0, ClientID: 1}, {Pos: 5, ClientID: 2}, {Pos: 1, ClientID: 3}}
	assert.Equal(t, 0, Compare(p, p))
	assert.Negative(t, Compare(p, q)) // shorter, matching prefix, is smaller
	assert.Positive(t, Compare(q, p))
}

func TestPositionsBetweenInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		p := First(ids.ClientID(1))
		gap := 1 + r.Intn(5000)
		q := AddToPos(p, big.NewInt(int64(gap)))

		n := 1 + r.Intn(200)
		results, err := PositionsBetween(p, q, n, ids.ClientID(99))
		require.NoError(t, err)
		require.Len(t, results, n)

		assert.Negative(t, Compare(p, results[0]))
		for i := 0; i < len(results); i++ {
			require.NoError(t, results[i].Validate())
			if i > 0 {
				assert.Negative(t, Compare(results[i-1], results[i]))
			}
		}
		assert.Negative(t, Compare(results[n-1], q))
	}
}

func TestPositionsBetweenDifferentLengths(t *testing.T) {
	p := Position{{Pos: 0, ClientID: 1}}
	q := Position{{Pos: 0, ClientID: 1}, {Pos: 5, ClientID: 2}}

	results, err := PositionsBetween(p, q, 3, ids.ClientID(42))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Negative(t, Compare(p, results[0]))
	assert.Negative(t, Compare(results[0], results[1]))
	assert.Negative(t, Compare(results[1], results[2]))
	assert.Negative(t, Compare(results[2], q))
}

func TestPositionsBetweenRejectsNonStrictBounds(t *testing.T) {
	p := First(ids.ClientID(1))
	_, err := PositionsBetween(p, p, 1, ids.ClientID(2))
	assert.Error(t, err)
}

func TestPositionsBetweenCarryDoesNotProduceInvalidNonLeadingZero(t *testing.T) {
	// Regression: base-Base carry propagation used to land a non-leading
	// digit on exactly zero (digits(Base, 2) == [1, 0]), producing an
	// Ident{Pos: 0} past the first position and failing Validate.
	p := Position{{Pos: 0, ClientID: 1}, {Pos: 2147483647, ClientID: 1}}
	q := Position{{Pos: 1, ClientID: 2}, {Pos: 5, ClientID: 2}}

	results, err := PositionsBetween(p, q, 5, ids.ClientID(999))
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Negative(t, Compare(p, results[0]))
	for i, r := range results {
		require.NoErrorf(t, r.Validate(), "results[%d] = %+v", i, r)
		if i > 0 {
			assert.Negative(t, Compare(results[i-1], results[i]))
		}
	}
	assert.Negative(t, Compare(results[4], q))
}

func TestPositionsBetweenExhaustsRoomByExtendingLength(t *testing.T) {
	// Adjacent integer positions leave zero room at the current length;
	// PositionsBetween must extend length to make room for many inserts.
	p := Position{{Pos: 5, ClientID: 1}}
	q := Position{{Pos: 6, ClientID: 2}}

	results, err := PositionsBetween(p, q, 500, ids.ClientID(77))
	require.NoError(t, err)
	require.Len(t, results, 500)
	assert.Negative(t, Compare(p, results[0]))
	assert.Negative(t, Compare(results[499], q))
	for i := 1; i < len(results); i++ {
		assert.Negative(t, Compare(results[i-1], results[i]))
	}
}
