// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wire implements the protocol's JSON envelopes:
// the client's commit message, and the server's full/incremental update
// messages. Encoding a model or a delta requires a per-type codec
// (ModelCodec / DeltaCodec); the core is otherwise format-agnostic.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/deltasync/delta"
	"github.com/AleutianAI/deltasync/ids"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrEmptyUpdate is returned by EncodeOutbound/DecodeOutbound when an
// Update carries neither Full nor Incremental; only inbound commit
// messages may be legitimately empty (the keepalive `{}`).
var ErrEmptyUpdate = errors.New("wire: update has neither full nor incremental payload")

// ErrMalformedDeltaEntry is returned when an incremental update's delta
// entry has neither a local nor a remote payload.
var ErrMalformedDeltaEntry = errors.New("wire: delta entry has neither local nor remote payload")

// ModelCodec describes how to serialize and parse a model of type A.
type ModelCodec[A any] interface {
	EncodeModel(m A) ([]byte, error)
	DecodeModel(raw []byte) (A, error)
}

// JSONModelCodec is the default ModelCodec for any model type whose Go
// json tags already describe its wire shape.
type JSONModelCodec[A any] struct{}

func (JSONModelCodec[A]) EncodeModel(m A) ([]byte, error) { return json.Marshal(m) }

func (JSONModelCodec[A]) DecodeModel(raw []byte) (A, error) {
	var m A
	err := json.Unmarshal(raw, &m)
	return m, err
}

// DeltaCodec describes how to serialize and parse a delta.Delta[A].
// Because delta.Delta[A] is an interface, there is no default
// implementation the way there is for ModelCodec; domain code supplies
// a tagged-union codec (see demo.DeltaCodec for the reference shape).
type DeltaCodec[A any] interface {
	EncodeDelta(d delta.Delta[A]) ([]byte, error)
	DecodeDelta(raw []byte) (delta.Delta[A], error)
}

// --- wire shapes ---

type wireFull struct {
	ClientID ids.ClientID    `json:"clientId"`
	Model    json.RawMessage `json:"model" validate:"required"`
	ModelID  ids.ModelID     `json:"id"`
}

type wireLocal struct {
	ID      ids.DeltaID   `json:"id"`
	Context delta.Context `json:"context"`
}

type wireRemote struct {
	Delta   json.RawMessage `json:"delta" validate:"required"`
	ID      ids.DeltaID     `json:"id"`
	Context delta.Context   `json:"context"`
}

type wireDeltaEntry struct {
	Local  *wireLocal  `json:"local,omitempty"`
	Remote *wireRemote `json:"remote,omitempty"`
}

type wireIncremental struct {
	BaseModelID    ids.ModelID      `json:"baseModelId"`
	UpdatedModelID ids.ModelID      `json:"updatedModelId"`
	Deltas         []wireDeltaEntry `json:"deltas"`
}

type wireOutbound struct {
	Full        *wireFull        `json:"full,omitempty"`
	Incremental *wireIncremental `json:"inc,omitempty"`
}

type wireCommit struct {
	Delta json.RawMessage `json:"delta" validate:"required"`
	ID    ids.DeltaID     `json:"id"`
}

type wireInbound struct {
	Commit *wireCommit `json:"commit,omitempty"`
}

// Commit is the decoded form of a client's `{"commit": ...}` message.
// Encoded holds the delta's own raw JSON (not the enclosing `{"commit":
// ...}` frame), the form the history package's audit log and a future
// remote re-encoding both want rather than the full inbound envelope.
type Commit[A any] struct {
	Delta   delta.Delta[A]
	ID      ids.DeltaID
	Encoded []byte
}

func wrapDecodeErr(context string, err error) error {
	return fmt.Errorf("wire: %s: %w", context, err)
}
