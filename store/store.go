// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store implements the authoritative server-side model: the
// single in-memory copy of the domain value every client reconciles
// against, the model-id assignment strategy, and observer fan-out.
//
// # Description
//
// Store serializes every mutation behind one exclusive lock. Applying a
// delta means, under that lock: run the delta's effectful program to get
// the new model and the values it registered, fold those registrations
// into the model via a reference adder, compute the new model id, swap
// the state in, and notify every observer with the resulting
// Incremental update, all before the lock is released, so observers
// always see a total order of applications and an observer's callback
// can only ever be behind, never ahead, of the store's own state.
//
// # Thread Safety
//
// Store is safe for concurrent use. Observe/Unobserve/ApplyDelta all
// take the same mutex. A Store never calls back into a dispatcher's
// lock while already holding its own in a way that could deadlock,
// because Observer.Observe is required to be non-blocking.
package store

import (
	"sync"

	"github.com/AleutianAI/deltasync/delta"
	"github.com/AleutianAI/deltasync/ids"
	"github.com/AleutianAI/deltasync/protocol"
)

// ReferenceAdder folds a delta's newly registered values into the model.
// Two stock strategies cover the common cases: NoopReferenceAdder for
// models with no registry, RegistryReferenceAdder for models embedding
// one. The choice is fixed for the lifetime of the store.
type ReferenceAdder[A any] func(model A, refs []delta.AddedRef) A

// NoopReferenceAdder is the reference-adder strategy for model types
// that carry no id registry of their own. A delta that Puts against a
// model using this strategy silently loses the registration; rejecting
// such deltas at decode time is a decision for the wire/codec layer,
// not this package.
func NoopReferenceAdder[A any](model A, _ []delta.AddedRef) A {
	return model
}

// RegistryHolder is implemented by model types that embed an
// ids.Registry field, so RegistryReferenceAdder can fork and update it
// without knowing anything else about the model's shape.
type RegistryHolder[A any] interface {
	ModelRegistry() *ids.Registry
	WithModelRegistry(*ids.Registry) A
}

// RegistryReferenceAdder is the reference-adder strategy for model
// types carrying their own id registry: every value the delta
// registered is written into a clone of the model's registry, and the
// model is rebuilt around the clone. Cloning keeps the previous model
// value (still referenced by observers and by the client's
// server-confirmed snapshot) unchanged.
func RegistryReferenceAdder[A RegistryHolder[A]]() ReferenceAdder[A] {
	return func(model A, refs []delta.AddedRef) A {
		if len(refs) == 0 {
			return model
		}
		reg := model.ModelRegistry()
		if reg == nil {
			reg = ids.NewRegistry()
		} else {
			reg = reg.Clone()
		}
		for _, ref := range refs {
			reg.Update(ref.ID, ids.RegistryEntry{
				Value:    ref.Value,
				Revision: ref.Revision,
				Encode:   ref.Encode,
			})
		}
		return model.WithModelRegistry(reg)
	}
}

// HashFunc computes a model id directly from the model, giving clients a
// way to verify the server's claimed model id against their own locally
// reconciled copy after every incremental update.
type HashFunc[A any] func(model A) ids.ModelID

// Observer receives every Update the store emits, starting with the Full
// update delivered synchronously by Observe. Observe must be
// non-blocking: it is called with the store's lock held. A
// dispatch.Dispatcher folds the update into its pending message under
// its own lock; history.Recorder hands it to a buffered queue.
type Observer[A any] interface {
	Observe(update protocol.Update[A])
}

// InboundEnvelope is a delta with an id and its serialized form, before
// a context has been attached.
type InboundEnvelope[A any] struct {
	Delta   delta.Delta[A]
	ID      ids.DeltaID
	Encoded []byte
}

// Metrics is the subset of Prometheus collectors the store updates.
// Supplying nil metrics (the zero value's fields) disables instrumentation.
type Metrics struct {
	DeltasApplied Counter
	ObserverCount Gauge
}

// Counter and Gauge are the prometheus.Counter/prometheus.Gauge method
// subsets the store needs, so this package does not import
// prometheus directly; callers wire in a prometheus.Counter and a
// prometheus.Gauge from cmd/deltasync-server (see that package's
// metrics.go).
type Counter interface{ Inc() }
type Gauge interface {
	Inc()
	Dec()
}

// Store is the authoritative, in-memory server-side model. Nothing here
// persists durably; see the history package for an optional,
// non-authoritative audit log.
type Store[A any] struct {
	mu       sync.Mutex
	model    A
	modelID  ids.ModelID
	counter  uint64
	hash     HashFunc[A]
	refAdder ReferenceAdder[A]
	metrics  Metrics

	observers map[Observer[A]]struct{}
}

// New creates a Store seeded with model. If hash is non-nil, every
// applied delta's model id is computed by hashing the resulting model;
// otherwise model ids are assigned from a strictly increasing counter
// (acceptable only for single-client deployments, since a counter gives
// clients nothing to verify against).
func New[A any](model A, refAdder ReferenceAdder[A], hash HashFunc[A], metrics Metrics) *Store[A] {
	s := &Store[A]{
		model:     model,
		refAdder:  refAdder,
		hash:      hash,
		metrics:   metrics,
		observers: make(map[Observer[A]]struct{}),
	}
	s.counter = 1
	if hash != nil {
		s.modelID = hash(model)
	} else {
		s.modelID = ids.ModelID(s.counter)
	}
	return s
}

// ApplyDelta runs delta under the store's exclusive lock, folds in its
// added refs, assigns a new model id, swaps the authoritative state, and
// notifies every observer. Delta execution has no failure mode;
// malformed commits must be rejected by the caller before reaching
// ApplyDelta.
func (s *Store[A]) ApplyDelta(env InboundEnvelope[A], context delta.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	baseModelID := s.modelID

	result := delta.Run(env.Delta, s.model, context, env.ID)
	newModel := s.refAdder(result.Data, result.AddedRefs)
	newModelID := s.nextModelID(newModel)

	s.model = newModel
	s.modelID = newModelID

	if s.metrics.DeltasApplied != nil {
		s.metrics.DeltasApplied.Inc()
	}

	update := protocol.Update[A]{
		Incremental: &protocol.Incremental[A]{
			BaseModelID:    baseModelID,
			UpdatedModelID: newModelID,
			Deltas: []protocol.DeltaEnvelope[A]{{
				Delta:   env.Delta,
				ID:      env.ID,
				Encoded: env.Encoded,
				Context: context,
			}},
		},
	}
	for o := range s.observers {
		o.Observe(update)
	}
}

func (s *Store[A]) nextModelID(model A) ids.ModelID {
	if s.hash != nil {
		return s.hash(model)
	}
	s.counter++
	return ids.ModelID(s.counter)
}

// Observe registers o and immediately delivers a Full update with the
// store's current model and model id, establishing the invariant that
// every observer's first delivery is a Full update.
func (s *Store[A]) Observe(o Observer[A]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observers[o] = struct{}{}
	if s.metrics.ObserverCount != nil {
		s.metrics.ObserverCount.Inc()
	}
	o.Observe(protocol.Update[A]{
		Full: &protocol.Full[A]{Model: s.model, ModelID: s.modelID},
	})
}

// Unobserve removes o from the observer set. Go has no weak collection
// in the language, so unobservation is explicit; connection handlers
// must call Unobserve on close.
func (s *Store[A]) Unobserve(o Observer[A]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.observers[o]; ok {
		delete(s.observers, o)
		if s.metrics.ObserverCount != nil {
			s.metrics.ObserverCount.Dec()
		}
	}
}

// ModelID returns the store's current model id.
func (s *Store[A]) ModelID() ids.ModelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelID
}

// Model returns a copy of the store's current model value.
func (s *Store[A]) Model() A {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}
