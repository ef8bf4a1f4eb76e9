// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package resource defines the identifiers shared by the broker, the
// detectors and the worker channel.
package resource

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/zeebo/blake3"
)

// ID is the canonical dedup key of a media resource. Identical addresses
// always produce identical IDs.
type ID string

// String returns the ID as a string.
func (id ID) String() string {
	return string(id)
}

// Validate returns an error if the ID is empty.
func (id ID) Validate() error {
	if id == "" {
		return errors.NotValidf("empty resource id")
	}
	return nil
}

// IDFromAddress derives the ID of the resource found at the given address.
// The result is the hex encoded blake3-256 digest of the address.
func IDFromAddress(address string) ID {
	sum := blake3.Sum256([]byte(address))
	return ID(hex.EncodeToString(sum[:]))
}

// ContextHandle is an opaque reference to a viewer context.
type ContextHandle string

// NewContextHandle returns a new unique context handle.
func NewContextHandle() ContextHandle {
	return ContextHandle(uuid.NewString())
}

// String returns the handle as a string.
func (h ContextHandle) String() string {
	return string(h)
}

// Validate returns an error if the handle is empty.
func (h ContextHandle) Validate() error {
	if h == "" {
		return errors.NotValidf("empty context handle")
	}
	return nil
}
