// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history is an optional, non-authoritative audit log: every
// delta the store actually applies is appended to a local BadgerDB for
// offline inspection or replay. It is not part of the reconciliation
// protocol itself; dropping or losing this log never affects a
// client's ability to reconcile against the store, only an operator's
// ability to inspect what happened after the fact.
package history

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/deltasync/ids"
	"github.com/AleutianAI/deltasync/pkg/logging"
	"github.com/AleutianAI/deltasync/protocol"
	"github.com/AleutianAI/deltasync/wire"
)

// ErrCorrupted is returned by Replay when a stored entry's checksum does
// not match its payload.
var ErrCorrupted = errors.New("history: entry corrupted (CRC mismatch)")

// Config configures a Recorder.
type Config struct {
	// Path is the directory BadgerDB uses for its files. Ignored if
	// InMemory is true.
	Path string

	// InMemory runs BadgerDB without touching disk, for tests.
	InMemory bool

	// QueueSize bounds how many applied deltas may be waiting to be
	// written before Observe starts dropping them. Default: 256.
	QueueSize int

	// Logger receives a Warn on every dropped or failed write. Default:
	// slog.Default().
	Logger *slog.Logger
}

type entry struct {
	seq     uint64
	id      ids.DeltaID
	encoded []byte
}

// Recorder is a store.Observer that appends every applied delta
// envelope to BadgerDB. Writes happen on a background goroutine so that
// Observe, called under the store's lock, never blocks on disk I/O;
// a write that cannot be queued or that fails is logged at Warn and
// otherwise ignored, per the package's non-authoritative contract.
type Recorder[A any] struct {
	db     *badger.DB
	logger *slog.Logger

	seq    atomic.Uint64
	queue  chan entry
	done   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewRecorder opens (or creates) the BadgerDB at cfg.Path and starts the
// background writer.
func NewRecorder[A any](cfg Config) (*Recorder[A], error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("component", string(logging.ComponentHistory)))

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("history: open badger: %w", err)
	}

	r := &Recorder[A]{
		db:     db,
		logger: logger,
		queue:  make(chan entry, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	if seq, err := r.lastSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: scanning last sequence: %w", err)
	} else {
		r.seq.Store(seq)
	}

	r.wg.Add(1)
	go r.run()
	return r, nil
}

// Observe implements store.Observer. Full updates are a snapshot, not a
// delta, and are not recorded; each delta inside an Incremental update
// is queued for the background writer.
func (r *Recorder[A]) Observe(update protocol.Update[A]) {
	if update.Incremental == nil {
		return
	}
	for _, env := range update.Incremental.Deltas {
		seq := r.seq.Add(1)
		e := entry{seq: seq, id: env.ID, encoded: env.Encoded}
		select {
		case r.queue <- e:
		default:
			r.logger.Warn("history queue full, dropping entry",
				slog.Uint64("seq", seq), logging.DeltaAttr(env.ID))
		}
	}
}

func (r *Recorder[A]) run() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.queue:
			if err := r.write(e); err != nil {
				r.logger.Warn("history write failed",
					slog.Uint64("seq", e.seq), slog.String("error", err.Error()))
			}
		case <-r.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case e := <-r.queue:
					if err := r.write(e); err != nil {
						r.logger.Warn("history write failed",
							slog.Uint64("seq", e.seq), slog.String("error", err.Error()))
					}
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder[A]) write(e entry) error {
	data := encodeEntry(e.id, e.encoded)
	key := seqKey(e.seq)
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// encodeEntry lays out [4-byte CRC32][8-byte ClientID][8-byte
// ClientDeltaID][delta JSON], mirroring the checksummed envelope shape
// used elsewhere in the pack's write-ahead logs, with JSON standing in
// for gob since this delta's wire codec is already JSON.
func encodeEntry(id ids.DeltaID, encoded []byte) []byte {
	body := make([]byte, 16+len(encoded))
	binary.BigEndian.PutUint64(body[0:8], uint64(id.ClientID))
	binary.BigEndian.PutUint64(body[8:16], uint64(id.ClientDeltaID))
	copy(body[16:], encoded)

	crc := crc32.ChecksumIEEE(body)
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], crc)
	copy(out[4:], body)
	return out
}

func decodeEntry(data []byte) (ids.DeltaID, []byte, error) {
	if len(data) < 4+16 {
		return ids.DeltaID{}, nil, fmt.Errorf("%w: entry too short", ErrCorrupted)
	}
	storedCRC := binary.BigEndian.Uint32(data[:4])
	body := data[4:]
	if crc32.ChecksumIEEE(body) != storedCRC {
		return ids.DeltaID{}, nil, ErrCorrupted
	}
	id := ids.DeltaID{
		ClientID:      ids.ClientID(binary.BigEndian.Uint64(body[0:8])),
		ClientDeltaID: ids.ClientDeltaID(binary.BigEndian.Uint64(body[8:16])),
	}
	encoded := append([]byte(nil), body[16:]...)
	return id, encoded, nil
}

const keyPrefix = "delta:"

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func (r *Recorder[A]) lastSeq() (uint64, error) {
	var max uint64
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append([]byte(keyPrefix), 0xFF)
		it.Seek(seekKey)
		if it.ValidForPrefix([]byte(keyPrefix)) {
			key := it.Item().Key()
			var seq uint64
			if _, err := fmt.Sscanf(string(key[len(keyPrefix):]), "%020d", &seq); err == nil {
				max = seq
			}
		}
		return nil
	})
	return max, err
}

// RecordedEnvelope is a decoded audit-log entry before its delta payload
// has been interpreted by a DeltaCodec; Replay returns these so callers
// that only want the id stream need not supply one.
type RecordedEnvelope struct {
	Seq     uint64
	ID      ids.DeltaID
	Encoded []byte
}

// Replay returns every recorded envelope in application order, for
// offline inspection or, with a matching wire.DeltaCodec, reconstruction
// of the full delta stream outside of the live store.
func (r *Recorder[A]) Replay() ([]RecordedEnvelope, error) {
	var out []RecordedEnvelope
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		prefix := []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				id, encoded, err := decodeEntry(val)
				if err != nil {
					return err
				}
				var seq uint64
				fmt.Sscanf(string(item.Key()[len(prefix):]), "%020d", &seq)
				out = append(out, RecordedEnvelope{Seq: seq, ID: id, Encoded: encoded})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// DecodeWith parses rec.Encoded with codec, for callers that want the
// concrete delta.Delta[A] rather than its raw JSON form.
func DecodeWith[A any](rec RecordedEnvelope, codec wire.DeltaCodec[A]) (protocol.DeltaEnvelope[A], error) {
	d, err := codec.DecodeDelta(rec.Encoded)
	if err != nil {
		return protocol.DeltaEnvelope[A]{}, fmt.Errorf("history: decoding entry %d: %w", rec.Seq, err)
	}
	return protocol.DeltaEnvelope[A]{Delta: d, ID: rec.ID, Encoded: rec.Encoded}, nil
}

// Close stops the background writer, draining anything still queued,
// and closes the underlying BadgerDB.
func (r *Recorder[A]) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	close(r.done)
	r.wg.Wait()
	return r.db.Close()
}
