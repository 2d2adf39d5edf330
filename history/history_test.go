// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/deltasync/demo"
	"github.com/AleutianAI/deltasync/ids"
	"github.com/AleutianAI/deltasync/protocol"
)

func newTestRecorder(t *testing.T) *Recorder[demo.Address] {
	t.Helper()
	r, err := NewRecorder[demo.Address](Config{InMemory: true, QueueSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func encodedSetName(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := demo.DeltaCodec{}.EncodeDelta(demo.SetName{Value: name})
	require.NoError(t, err)
	return raw
}

func TestRecorderIgnoresFullUpdates(t *testing.T) {
	r := newTestRecorder(t)
	r.Observe(protocol.Update[demo.Address]{
		Full: &protocol.Full[demo.Address]{Model: demo.Address{Name: "a"}},
	})

	require.Eventually(t, func() bool {
		recs, err := r.Replay()
		return err == nil && len(recs) == 0
	}, time.Second, time.Millisecond)
}

func TestRecorderAppendsAndReplaysInOrder(t *testing.T) {
	r := newTestRecorder(t)

	for i, name := range []string{"ada", "bea", "cleo"} {
		id := ids.DeltaID{ClientID: 1, ClientDeltaID: ids.ClientDeltaID(i)}
		r.Observe(protocol.Update[demo.Address]{
			Incremental: &protocol.Incremental[demo.Address]{
				Deltas: []protocol.DeltaEnvelope[demo.Address]{{
					ID:      id,
					Encoded: encodedSetName(t, name),
				}},
			},
		})
	}

	var recs []RecordedEnvelope
	require.Eventually(t, func() bool {
		var err error
		recs, err = r.Replay()
		require.NoError(t, err)
		return len(recs) == 3
	}, time.Second, time.Millisecond)

	for i, want := range []string{"ada", "bea", "cleo"} {
		d, err := DecodeWith(recs[i], demo.DeltaCodec{})
		require.NoError(t, err)
		assert.Equal(t, ids.ClientDeltaID(i), d.ID.ClientDeltaID)
		assert.Equal(t, demo.SetName{Value: want}, d.Delta)
	}
}

func TestRecorderResumesSequenceAfterRestart(t *testing.T) {
	// InMemory badger instances are independent per Open call, so this
	// exercises lastSeq's scan against an already-populated db rather
	// than an actual process restart.
	r := newTestRecorder(t)
	r.Observe(protocol.Update[demo.Address]{
		Incremental: &protocol.Incremental[demo.Address]{
			Deltas: []protocol.DeltaEnvelope[demo.Address]{{
				ID:      ids.DeltaID{ClientID: 1, ClientDeltaID: 0},
				Encoded: encodedSetName(t, "ada"),
			}},
		},
	})
	require.Eventually(t, func() bool {
		recs, err := r.Replay()
		return err == nil && len(recs) == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, uint64(1), r.seq.Load())

	seq, err := r.lastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestDecodeEntryRejectsCorruption(t *testing.T) {
	data := encodeEntry(ids.DeltaID{ClientID: 1, ClientDeltaID: 2}, []byte(`{"type":"setName"}`))
	data[len(data)-1] ^= 0xFF
	_, _, err := decodeEntry(data)
	assert.ErrorIs(t, err, ErrCorrupted)
}
