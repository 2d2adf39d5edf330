// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/AleutianAI/deltasync/delta"
	"github.com/AleutianAI/deltasync/demo"
	"github.com/AleutianAI/deltasync/ids"
	"github.com/AleutianAI/deltasync/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu      sync.Mutex
	updates []protocol.Update[demo.Address]
}

func (r *recordingObserver) Observe(u protocol.Update[demo.Address]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recordingObserver) snapshot() []protocol.Update[demo.Address] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Update[demo.Address], len(r.updates))
	copy(out, r.updates)
	return out
}

func newTestStore() *Store[demo.Address] {
	model := demo.Address{Name: "Main St", Number: 1}
	return New(model, NoopReferenceAdder[demo.Address], demo.HashModelID, Metrics{})
}

func TestObserveDeliversFullFirst(t *testing.T) {
	s := newTestStore()
	obs := &recordingObserver{}

	s.Observe(obs)

	updates := obs.snapshot()
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Full)
	assert.Equal(t, demo.Address{Name: "Main St", Number: 1}, updates[0].Full.Model)
	assert.Equal(t, s.ModelID(), updates[0].Full.ModelID)
}

func TestApplyDeltaNotifiesWithIncremental(t *testing.T) {
	s := newTestStore()
	obs := &recordingObserver{}
	s.Observe(obs)

	baseID := s.ModelID()
	env := InboundEnvelope[demo.Address]{
		Delta: demo.SetNumber{Value: 7},
		ID:    ids.DeltaID{ClientID: 42, ClientDeltaID: 0},
	}
	s.ApplyDelta(env, delta.Context{Moment: 1000})

	updates := obs.snapshot()
	require.Len(t, updates, 2)
	inc := updates[1].Incremental
	require.NotNil(t, inc)
	assert.Equal(t, baseID, inc.BaseModelID)
	assert.Equal(t, s.ModelID(), inc.UpdatedModelID)
	require.Len(t, inc.Deltas, 1)
	assert.Equal(t, ids.DeltaID{ClientID: 42, ClientDeltaID: 0}, inc.Deltas[0].ID)

	assert.Equal(t, demo.Address{Name: "Main St", Number: 7}, s.Model())
}

func TestModelIDMatchesHashInvariant(t *testing.T) {
	s := newTestStore()
	s.ApplyDelta(InboundEnvelope[demo.Address]{
		Delta: demo.SetName{Value: "Oak St"},
		ID:    ids.DeltaID{ClientID: 1, ClientDeltaID: 0},
	}, delta.Context{Moment: 5})

	assert.Equal(t, demo.HashModelID(s.Model()), s.ModelID())
}

func TestCounterStoreIncreasesStrictlyWithoutHash(t *testing.T) {
	s := New(demo.Address{Name: "Main St", Number: 1}, NoopReferenceAdder[demo.Address], nil, Metrics{})
	first := s.ModelID()
	s.ApplyDelta(InboundEnvelope[demo.Address]{
		Delta: demo.SetNumber{Value: 2},
		ID:    ids.DeltaID{ClientID: 1, ClientDeltaID: 0},
	}, delta.Context{Moment: 1})
	second := s.ModelID()
	s.ApplyDelta(InboundEnvelope[demo.Address]{
		Delta: demo.SetNumber{Value: 3},
		ID:    ids.DeltaID{ClientID: 1, ClientDeltaID: 1},
	}, delta.Context{Moment: 2})
	third := s.ModelID()

	assert.Less(t, uint64(first), uint64(second))
	assert.Less(t, uint64(second), uint64(third))
}

// board is a registry-carrying model for exercising
// RegistryReferenceAdder: deltas register notes and the registry rides
// along inside the model value.
type board struct {
	notes []string
	reg   *ids.Registry
}

func (b board) ModelRegistry() *ids.Registry { return b.reg }

func (b board) WithModelRegistry(r *ids.Registry) board {
	b.reg = r
	return b
}

type note struct {
	ID   ids.Id[note]
	Text string
}

var noteCodec = delta.CodecFunc[note](func(n note) ([]byte, error) {
	return json.Marshal(n)
})

type addNote struct {
	text string
}

func (d addNote) Run(in *delta.Interpreter, model board) board {
	n := delta.Put(in, func(id ids.Id[note]) note {
		return note{ID: id, Text: d.text}
	}, noteCodec)
	model.notes = append(append([]string(nil), model.notes...), n.Text)
	return model
}

func TestRegistryReferenceAdderRegistersPutValues(t *testing.T) {
	initial := ids.NewRegistry()
	s := New(board{reg: initial}, RegistryReferenceAdder[board](), nil, Metrics{})

	s.ApplyDelta(InboundEnvelope[board]{
		Delta: addNote{text: "hello"},
		ID:    ids.DeltaID{ClientID: 3, ClientDeltaID: 0},
	}, delta.Context{Moment: 1})

	m := s.Model()
	assert.Equal(t, []string{"hello"}, m.notes)
	require.Equal(t, 1, m.reg.Len())

	// Put consumes two within-delta ids: the value's id, then its
	// revision.
	id := ids.Guid{ClientID: 3, ClientDeltaID: 0, WithinDeltaID: 0}
	rev := ids.Guid{ClientID: 3, ClientDeltaID: 0, WithinDeltaID: 1}
	got, ok := ids.Deref(m.reg, ids.Resolve(ids.NewId[note](id), rev))
	require.True(t, ok)
	assert.Equal(t, "hello", got.Text)

	// The pre-application registry is untouched: the adder clones.
	assert.Equal(t, 0, initial.Len())
}

func TestUnobserveStopsDelivery(t *testing.T) {
	s := newTestStore()
	obs := &recordingObserver{}
	s.Observe(obs)
	s.Unobserve(obs)

	s.ApplyDelta(InboundEnvelope[demo.Address]{
		Delta: demo.SetNumber{Value: 99},
		ID:    ids.DeltaID{ClientID: 1, ClientDeltaID: 0},
	}, delta.Context{Moment: 1})

	assert.Len(t, obs.snapshot(), 1) // only the initial Full
}

// TestApplicationsAreTotallyOrdered exercises concurrent ApplyDelta
// calls and checks every observer saw the same order of base model ids
// chained end-to-end: observers see a total order of applications.
func TestApplicationsAreTotallyOrdered(t *testing.T) {
	s := newTestStore()
	obs := &recordingObserver{}
	s.Observe(obs)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.ApplyDelta(InboundEnvelope[demo.Address]{
				Delta: demo.SetNumber{Value: i},
				ID:    ids.DeltaID{ClientID: ids.ClientID(i), ClientDeltaID: 0},
			}, delta.Context{Moment: int64(i)})
		}(i)
	}
	wg.Wait()

	updates := obs.snapshot()
	require.Len(t, updates, n+1)
	for i := 2; i < len(updates); i++ {
		prev := updates[i-1].Incremental
		cur := updates[i].Incremental
		require.NotNil(t, prev)
		require.NotNil(t, cur)
		assert.Equal(t, prev.UpdatedModelID, cur.BaseModelID, "update %d does not chain from update %d", i, i-1)
	}
}
