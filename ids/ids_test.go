// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type room struct{}

func TestGuidRoundTripsThroughStringCaseInsensitively(t *testing.T) {
	g := Guid{ClientID: 42, ClientDeltaID: 7, WithinDeltaID: 255}
	s := g.String()
	assert.Equal(t, "guid-2a-7-ff", s)

	parsed, err := ParseGuid(strings.ToUpper(s))
	require.NoError(t, err)
	assert.Equal(t, g, parsed)
}

func TestIdRoundTripsThroughString(t *testing.T) {
	id := NewId[room](Guid{ClientID: 1, ClientDeltaID: 2, WithinDeltaID: 3})
	s := id.String()
	assert.True(t, strings.HasPrefix(s, "id-"))

	parsed, err := ParseId[room](strings.ToUpper(s))
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestRefStringNamesTargetIdOnly(t *testing.T) {
	id := NewId[room](Guid{ClientID: 9, ClientDeltaID: 0, WithinDeltaID: 1})
	ref := Unresolved(id)
	s := ref.String()
	require.NoError(t, func() error { _, err := ParseRef[room](s); return err }())

	parsed, err := ParseRef[room](strings.ToUpper(s))
	require.NoError(t, err)
	assert.Equal(t, id, parsed.ID)
	assert.False(t, parsed.Resolved)
}

func TestParseRejectsWrongTagOrShape(t *testing.T) {
	_, err := ParseGuid("id-1-2-3")
	assert.Error(t, err)

	_, err = ParseGuid("guid-1-2")
	assert.Error(t, err)

	_, err = ParseGuid("guid-zz-2-3")
	assert.Error(t, err)
}

// TestCompareGuidMatchesStringOrder verifies that compare(a,b) agrees
// with case-insensitive comparison of the canonical string forms.
func TestCompareGuidMatchesStringOrder(t *testing.T) {
	samples := []Guid{
		{ClientID: 1, ClientDeltaID: 0, WithinDeltaID: 0},
		{ClientID: 1, ClientDeltaID: 1, WithinDeltaID: 0},
		{ClientID: 2, ClientDeltaID: 0, WithinDeltaID: 0},
		{ClientID: 0, ClientDeltaID: 255, WithinDeltaID: 16},
		{ClientID: 9999999, ClientDeltaID: 1, WithinDeltaID: 2},
	}
	for _, a := range samples {
		for _, b := range samples {
			got := sign(CompareGuid(a, b))
			want := sign(strings.Compare(strings.ToLower(a.String()), strings.ToLower(b.String())))
			assert.Equal(t, want, got, "mismatch comparing %s vs %s", a, b)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestDeltaIDLessIsStrictOrder(t *testing.T) {
	a := DeltaID{ClientID: 1, ClientDeltaID: 0}
	b := DeltaID{ClientID: 1, ClientDeltaID: 1}
	c := DeltaID{ClientID: 2, ClientDeltaID: 0}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, b.Less(a))
}
