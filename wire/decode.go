// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wire

import (
	"encoding/json"

	"github.com/AleutianAI/deltasync/ids"
	"github.com/AleutianAI/deltasync/protocol"
)

// IsKeepalive reports whether raw is the empty-object keepalive frame.
func IsKeepalive(raw []byte) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return len(m) == 0
}

// DecodeCommit parses a client's `{"commit": ...}` message. It returns
// (nil, nil) for the keepalive frame `{}`, which callers must treat as a
// no-op rather than an error.
func DecodeCommit[A any](raw []byte, deltaCodec DeltaCodec[A]) (*Commit[A], error) {
	var msg wireInbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, wrapDecodeErr("decoding inbound message", err)
	}
	if msg.Commit == nil {
		return nil, nil
	}
	if err := validate.Struct(msg.Commit); err != nil {
		return nil, wrapDecodeErr("validating commit", err)
	}
	d, err := deltaCodec.DecodeDelta(msg.Commit.Delta)
	if err != nil {
		return nil, wrapDecodeErr("decoding commit delta", err)
	}
	return &Commit[A]{Delta: d, ID: msg.Commit.ID, Encoded: []byte(msg.Commit.Delta)}, nil
}

// DecodeOutbound parses a server-to-client message into a protocol.Update.
// Local delta entries decode with a nil Delta: the server elides the
// payload for the client's own deltas, and the client reconciliation
// state machine fills it in from its own pending-delta queue (see
// clientsync.ApplyIncremental).
func DecodeOutbound[A any](raw []byte, modelCodec ModelCodec[A], deltaCodec DeltaCodec[A]) (protocol.Update[A], ids.ClientID, error) {
	var msg wireOutbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return protocol.Update[A]{}, 0, wrapDecodeErr("decoding outbound message", err)
	}

	switch {
	case msg.Full != nil:
		if err := validate.Struct(msg.Full); err != nil {
			return protocol.Update[A]{}, 0, wrapDecodeErr("validating full update", err)
		}
		model, err := modelCodec.DecodeModel(msg.Full.Model)
		if err != nil {
			return protocol.Update[A]{}, 0, wrapDecodeErr("decoding full model", err)
		}
		return protocol.Update[A]{Full: &protocol.Full[A]{
			Model:   model,
			ModelID: msg.Full.ModelID,
		}}, msg.Full.ClientID, nil

	case msg.Incremental != nil:
		deltas := make([]protocol.DeltaEnvelope[A], 0, len(msg.Incremental.Deltas))
		for _, entry := range msg.Incremental.Deltas {
			switch {
			case entry.Local != nil:
				deltas = append(deltas, protocol.DeltaEnvelope[A]{
					ID:      entry.Local.ID,
					Context: entry.Local.Context,
				})
			case entry.Remote != nil:
				if err := validate.Struct(entry.Remote); err != nil {
					return protocol.Update[A]{}, 0, wrapDecodeErr("validating remote delta", err)
				}
				d, err := deltaCodec.DecodeDelta(entry.Remote.Delta)
				if err != nil {
					return protocol.Update[A]{}, 0, wrapDecodeErr("decoding remote delta", err)
				}
				deltas = append(deltas, protocol.DeltaEnvelope[A]{
					Delta:   d,
					ID:      entry.Remote.ID,
					Context: entry.Remote.Context,
				})
			default:
				return protocol.Update[A]{}, 0, ErrMalformedDeltaEntry
			}
		}
		return protocol.Update[A]{Incremental: &protocol.Incremental[A]{
			BaseModelID:    msg.Incremental.BaseModelID,
			UpdatedModelID: msg.Incremental.UpdatedModelID,
			Deltas:         deltas,
		}}, 0, nil

	default:
		return protocol.Update[A]{}, 0, ErrEmptyUpdate
	}
}
