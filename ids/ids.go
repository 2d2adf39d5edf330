// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ids implements the identifier model shared by the server store
// and every client: client ids, per-client delta counters, within-delta
// counters, the composite Guid they form, and the phantom-typed Id/Ref
// wrappers used to tag a Guid with the type of thing it names.
//
// # Description
//
// A connection is given a ClientID the first time the server sends it a
// full update. Every delta that connection mints gets the next
// ClientDeltaID in sequence; the pair (ClientID, ClientDeltaID) is a
// DeltaID, globally unique across the system. Within a single delta's
// execution, a WithinDeltaID counter starts at zero and increments each
// time the delta mints a new identifier; (DeltaID, WithinDeltaID) is a
// Guid, the finest-grained identifier the system produces.
package ids

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ClientID is the opaque identifier the server assigns a connection on
// its first full update. Two connections from the same user get distinct
// ClientIDs.
type ClientID uint64

// ClientDeltaID is a per-client monotone counter, starting at zero.
type ClientDeltaID uint64

// WithinDeltaID is reset to zero at the start of each delta execution and
// incremented each time the delta mints an identifier.
type WithinDeltaID uint64

// idWrapper is the wire shape `{"id": N}` shared by ClientID, ClientDeltaID,
// WithinDeltaID and ModelID.
type idWrapper struct {
	ID uint64 `json:"id"`
}

func (c ClientID) MarshalJSON() ([]byte, error) {
	return json.Marshal(idWrapper{ID: uint64(c)})
}

func (c *ClientID) UnmarshalJSON(b []byte) error {
	var w idWrapper
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("ids: decoding ClientID: %w", err)
	}
	*c = ClientID(w.ID)
	return nil
}

func (c ClientDeltaID) MarshalJSON() ([]byte, error) {
	return json.Marshal(idWrapper{ID: uint64(c)})
}

func (c *ClientDeltaID) UnmarshalJSON(b []byte) error {
	var w idWrapper
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("ids: decoding ClientDeltaID: %w", err)
	}
	*c = ClientDeltaID(w.ID)
	return nil
}

func (w WithinDeltaID) MarshalJSON() ([]byte, error) {
	return json.Marshal(idWrapper{ID: uint64(w)})
}

func (w *WithinDeltaID) UnmarshalJSON(b []byte) error {
	var ww idWrapper
	if err := json.Unmarshal(b, &ww); err != nil {
		return fmt.Errorf("ids: decoding WithinDeltaID: %w", err)
	}
	*w = WithinDeltaID(ww.ID)
	return nil
}

// DeltaID is (ClientID, ClientDeltaID): a globally unique delta identity.
type DeltaID struct {
	ClientID      ClientID      `json:"clientId"`
	ClientDeltaID ClientDeltaID `json:"clientDeltaId"`
}

func (d DeltaID) String() string {
	return fmt.Sprintf("delta-%x-%x", uint64(d.ClientID), uint64(d.ClientDeltaID))
}

// Less gives the strict generation order used to order a client's pending
// delta queue: smaller ClientDeltaID was minted first (ClientID is
// constant for a single client's own pending queue, but Less is defined
// for the general case so ordering between guids from different clients
// is still a total order, consistent with ClientID as the primary key).
func (d DeltaID) Less(o DeltaID) bool {
	if d.ClientID != o.ClientID {
		return d.ClientID < o.ClientID
	}
	return d.ClientDeltaID < o.ClientDeltaID
}

// Guid is (ClientID, ClientDeltaID, WithinDeltaID): the finest-grained
// identifier the interpreter mints.
type Guid struct {
	ClientID      ClientID      `json:"clientId"`
	ClientDeltaID ClientDeltaID `json:"clientDeltaId"`
	WithinDeltaID WithinDeltaID `json:"withinDeltaId"`
}

// DeltaID returns the delta identity that minted this Guid.
func (g Guid) DeltaID() DeltaID {
	return DeltaID{ClientID: g.ClientID, ClientDeltaID: g.ClientDeltaID}
}

// String renders the canonical lowercase `guid-<hex>-<hex>-<hex>` form.
func (g Guid) String() string {
	return fmt.Sprintf("guid-%x-%x-%x", uint64(g.ClientID), uint64(g.ClientDeltaID), uint64(g.WithinDeltaID))
}

// ParseGuid parses a `guid-<hex>-<hex>-<hex>` string, case-insensitively.
func ParseGuid(s string) (Guid, error) {
	parts, err := splitTagged(s, "guid")
	if err != nil {
		return Guid{}, err
	}
	return Guid{
		ClientID:      ClientID(parts[0]),
		ClientDeltaID: ClientDeltaID(parts[1]),
		WithinDeltaID: WithinDeltaID(parts[2]),
	}, nil
}

// splitTagged parses `<tag>-<hex>-<hex>-<hex>` case-insensitively and
// returns the three decoded components.
func splitTagged(s, tag string) ([3]uint64, error) {
	var out [3]uint64
	lower := strings.ToLower(s)
	prefix := tag + "-"
	if !strings.HasPrefix(lower, prefix) {
		return out, fmt.Errorf("ids: %q is not a %s identifier", s, tag)
	}
	rest := lower[len(prefix):]
	fields := strings.Split(rest, "-")
	if len(fields) != 3 {
		return out, fmt.Errorf("ids: %q does not have three hex components", s)
	}
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 16, 64)
		if err != nil {
			return out, fmt.Errorf("ids: invalid hex component %q in %q: %w", f, s, err)
		}
		out[i] = v
	}
	return out, nil
}

// Id is a Guid tagged with a phantom type A, distinguishing e.g. an
// Id[Room] from an Id[Message] at compile time even though both are
// backed by the same Guid shape.
type Id[A any] struct {
	Guid Guid `json:"guid"`
}

// NewId wraps a Guid as an Id[A].
func NewId[A any](g Guid) Id[A] { return Id[A]{Guid: g} }

func (i Id[A]) String() string {
	g := i.Guid
	return fmt.Sprintf("id-%x-%x-%x", uint64(g.ClientID), uint64(g.ClientDeltaID), uint64(g.WithinDeltaID))
}

// ParseId parses an `id-<hex>-<hex>-<hex>` string.
func ParseId[A any](s string) (Id[A], error) {
	parts, err := splitTagged(s, "id")
	if err != nil {
		return Id[A]{}, err
	}
	return Id[A]{Guid: Guid{
		ClientID:      ClientID(parts[0]),
		ClientDeltaID: ClientDeltaID(parts[1]),
		WithinDeltaID: WithinDeltaID(parts[2]),
	}}, nil
}

// Ref is either unresolved (an Id[A] only) or resolved (an Id[A] plus the
// revision Guid under which it was last written to the registry). A
// resolved Ref may be dereferenced against the registry at its exact
// revision; an unresolved one may not.
type Ref[A any] struct {
	ID       Id[A] `json:"id"`
	Revision Guid  `json:"revision,omitempty"`
	Resolved bool  `json:"resolved"`
}

// Unresolved builds a Ref that does not yet carry a revision.
func Unresolved[A any](id Id[A]) Ref[A] {
	return Ref[A]{ID: id}
}

// Resolve attaches a revision to a Ref, making it dereferenceable.
func Resolve[A any](id Id[A], revision Guid) Ref[A] {
	return Ref[A]{ID: id, Revision: revision, Resolved: true}
}

// String renders the canonical `ref-<hex>-<hex>-<hex>` form. The string
// form names the target Id only; a resolved Ref's revision is
// carried out-of-band by the JSON object form (see MarshalJSON), since a
// three-component hex string has no room for a second Guid.
func (r Ref[A]) String() string {
	g := r.ID.Guid
	return fmt.Sprintf("ref-%x-%x-%x", uint64(g.ClientID), uint64(g.ClientDeltaID), uint64(g.WithinDeltaID))
}

// ParseRef parses a `ref-<hex>-<hex>-<hex>` string into an unresolved Ref.
func ParseRef[A any](s string) (Ref[A], error) {
	parts, err := splitTagged(s, "ref")
	if err != nil {
		return Ref[A]{}, err
	}
	id := Id[A]{Guid: Guid{
		ClientID:      ClientID(parts[0]),
		ClientDeltaID: ClientDeltaID(parts[1]),
		WithinDeltaID: WithinDeltaID(parts[2]),
	}}
	return Unresolved(id), nil
}

// CompareGuid is a total order over Guids consistent with the canonical
// string form: CompareGuid(a, b) == sign(strings.Compare(a.String(),
// b.String())) by construction, since it is defined directly in terms of
// the (already-lowercase) string forms rather than the numeric fields.
func CompareGuid(a, b Guid) int {
	return strings.Compare(a.String(), b.String())
}

// ModelID is a likely-unique identifier for a model snapshot, computed
// either by hashing the model (see store.HashFunc) or by incrementing a
// counter when no hash is configured.
type ModelID uint64

func (m ModelID) MarshalJSON() ([]byte, error) {
	return json.Marshal(idWrapper{ID: uint64(m)})
}

func (m *ModelID) UnmarshalJSON(b []byte) error {
	var w idWrapper
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("ids: decoding ModelID: %w", err)
	}
	*m = ModelID(w.ID)
	return nil
}
