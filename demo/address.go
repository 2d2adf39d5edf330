// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package demo implements the small "street address" domain model used
// by this repo's own package tests and example binaries. It carries no
// id registry, so it uses store.NoopReferenceAdder.
package demo

import (
	"encoding/json"
	"hash/crc32"
	"unicode"

	"github.com/AleutianAI/deltasync/delta"
	"github.com/AleutianAI/deltasync/ids"
)

// Address is the demo model: a street name and number.
type Address struct {
	Name   string `json:"name"`
	Number int    `json:"number"`
}

// HashModelID computes a model id by CRC32-checksumming the model's
// canonical JSON encoding (IEEE polynomial). Production models with a
// higher collision budget would use a wider mixing hash instead.
func HashModelID(model Address) ids.ModelID {
	b, err := json.Marshal(model)
	if err != nil {
		// Address always marshals; a failure here means the type
		// changed shape incompatibly with its own json tags.
		panic(err)
	}
	return ids.ModelID(crc32.ChecksumIEEE(b))
}

// SetNumber sets the house number.
type SetNumber struct {
	Value int `json:"value"`
}

func (d SetNumber) Run(_ *delta.Interpreter, model Address) Address {
	model.Number = d.Value
	return model
}

// SetName sets the street name.
type SetName struct {
	Value string `json:"value"`
}

func (d SetName) Run(_ *delta.Interpreter, model Address) Address {
	model.Name = d.Value
	return model
}

// Capitalise upper-cases the first rune of the street name.
type Capitalise struct{}

func (Capitalise) Run(_ *delta.Interpreter, model Address) Address {
	if model.Name == "" {
		return model
	}
	runes := []rune(model.Name)
	runes[0] = unicode.ToUpper(runes[0])
	model.Name = string(runes)
	return model
}
