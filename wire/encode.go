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
	"fmt"

	"github.com/AleutianAI/deltasync/ids"
	"github.com/AleutianAI/deltasync/protocol"
)

// EncodeOutbound renders u as a server-to-client JSON message, eliding
// the payload of any delta whose ClientID matches selfID (the receiving
// connection already holds its own deltas and only needs the id and the
// server-assigned context back).
func EncodeOutbound[A any](u protocol.Update[A], selfID ids.ClientID, modelCodec ModelCodec[A], deltaCodec DeltaCodec[A]) ([]byte, error) {
	switch {
	case u.Full != nil:
		modelRaw, err := modelCodec.EncodeModel(u.Full.Model)
		if err != nil {
			return nil, fmt.Errorf("wire: encoding full model: %w", err)
		}
		return json.Marshal(wireOutbound{Full: &wireFull{
			ClientID: selfID,
			Model:    modelRaw,
			ModelID:  u.Full.ModelID,
		}})

	case u.Incremental != nil:
		entries := make([]wireDeltaEntry, 0, len(u.Incremental.Deltas))
		for _, env := range u.Incremental.Deltas {
			if env.ID.ClientID == selfID {
				entries = append(entries, wireDeltaEntry{Local: &wireLocal{
					ID:      env.ID,
					Context: env.Context,
				}})
				continue
			}
			raw, err := deltaCodec.EncodeDelta(env.Delta)
			if err != nil {
				return nil, fmt.Errorf("wire: encoding remote delta %s: %w", env.ID, err)
			}
			entries = append(entries, wireDeltaEntry{Remote: &wireRemote{
				Delta:   raw,
				ID:      env.ID,
				Context: env.Context,
			}})
		}
		return json.Marshal(wireOutbound{Incremental: &wireIncremental{
			BaseModelID:    u.Incremental.BaseModelID,
			UpdatedModelID: u.Incremental.UpdatedModelID,
			Deltas:         entries,
		}})

	default:
		return nil, ErrEmptyUpdate
	}
}

// EncodeCommit renders a client's locally-minted delta as the
// `{"commit": ...}` message.
func EncodeCommit[A any](c Commit[A], deltaCodec DeltaCodec[A]) ([]byte, error) {
	raw, err := deltaCodec.EncodeDelta(c.Delta)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding commit delta: %w", err)
	}
	return json.Marshal(wireInbound{Commit: &wireCommit{Delta: raw, ID: c.ID}})
}
