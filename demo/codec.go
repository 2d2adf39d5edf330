// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package demo

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/deltasync/delta"
)

// ErrUnknownDeltaType is returned by DeltaCodec.DecodeDelta when the
// wire tag does not name one of this package's delta kinds.
type ErrUnknownDeltaType struct {
	Type string
}

func (e *ErrUnknownDeltaType) Error() string {
	return fmt.Sprintf("demo: unknown delta type %q", e.Type)
}

type taggedDelta struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// DeltaCodec implements the per-type JSON encode/decode contract the
// protocol requires of every participating delta type, as a tagged
// union over this package's three delta kinds.
type DeltaCodec struct{}

func (DeltaCodec) EncodeDelta(d delta.Delta[Address]) ([]byte, error) {
	switch v := d.(type) {
	case SetNumber:
		return marshalTagged("setNumber", v)
	case SetName:
		return marshalTagged("setName", v)
	case Capitalise:
		return marshalTagged("capitalise", v)
	default:
		return nil, fmt.Errorf("demo: cannot encode delta of type %T", d)
	}
}

func (DeltaCodec) DecodeDelta(raw []byte) (delta.Delta[Address], error) {
	var t taggedDelta
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("demo: decoding tagged delta: %w", err)
	}
	switch t.Type {
	case "setNumber":
		var d SetNumber
		if err := json.Unmarshal(t.Value, &d); err != nil {
			return nil, fmt.Errorf("demo: decoding setNumber: %w", err)
		}
		return d, nil
	case "setName":
		var d SetName
		if err := json.Unmarshal(t.Value, &d); err != nil {
			return nil, fmt.Errorf("demo: decoding setName: %w", err)
		}
		return d, nil
	case "capitalise":
		return Capitalise{}, nil
	default:
		return nil, &ErrUnknownDeltaType{Type: t.Type}
	}
}

func marshalTagged(kind string, v any) ([]byte, error) {
	value, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedDelta{Type: kind, Value: value})
}
