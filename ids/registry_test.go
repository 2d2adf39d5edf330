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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryUpdateAndGet(t *testing.T) {
	r := NewRegistry()
	id := Guid{ClientID: 1, ClientDeltaID: 0, WithinDeltaID: 0}
	rev := Guid{ClientID: 1, ClientDeltaID: 0, WithinDeltaID: 1}

	r.Update(id, RegistryEntry{Value: "ada", Revision: rev})

	e, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, "ada", e.Value)
	assert.Equal(t, rev, e.Revision)

	_, ok = r.Get(Guid{ClientID: 9})
	assert.False(t, ok)
}

func TestRegistryGetAtRequiresExactRevision(t *testing.T) {
	r := NewRegistry()
	id := Guid{ClientID: 1, ClientDeltaID: 0, WithinDeltaID: 0}
	rev1 := Guid{ClientID: 1, ClientDeltaID: 0, WithinDeltaID: 1}
	rev2 := Guid{ClientID: 1, ClientDeltaID: 1, WithinDeltaID: 1}

	r.Update(id, RegistryEntry{Value: "v1", Revision: rev1})

	_, ok := r.GetAt(id, rev1)
	assert.True(t, ok)

	// Overwriting moves the id to a new revision; the old one no longer
	// dereferences.
	r.Update(id, RegistryEntry{Value: "v2", Revision: rev2})
	_, ok = r.GetAt(id, rev1)
	assert.False(t, ok)
	e, ok := r.GetAt(id, rev2)
	require.True(t, ok)
	assert.Equal(t, "v2", e.Value)
}

func TestDerefRequiresResolvedRef(t *testing.T) {
	r := NewRegistry()
	id := NewId[room](Guid{ClientID: 1, ClientDeltaID: 0, WithinDeltaID: 0})
	rev := Guid{ClientID: 1, ClientDeltaID: 0, WithinDeltaID: 1}
	r.Update(id.Guid, RegistryEntry{Value: room{}, Revision: rev})

	_, ok := Deref(r, Unresolved(id))
	assert.False(t, ok, "unresolved refs must not dereference")

	got, ok := Deref(r, Resolve(id, rev))
	require.True(t, ok)
	assert.Equal(t, room{}, got)

	wrongRev := Guid{ClientID: 2, ClientDeltaID: 0, WithinDeltaID: 0}
	_, ok = Deref(r, Resolve(id, wrongRev))
	assert.False(t, ok, "a ref resolved at a stale revision must not dereference")
}

func TestRegistryCloneIsIndependent(t *testing.T) {
	r := NewRegistry()
	id := Guid{ClientID: 1}
	r.Update(id, RegistryEntry{Value: 1})

	c := r.Clone()
	c.Update(id, RegistryEntry{Value: 2})
	c.Update(Guid{ClientID: 2}, RegistryEntry{Value: 3})

	e, _ := r.Get(id)
	assert.Equal(t, 1, e.Value)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 2, c.Len())
}
