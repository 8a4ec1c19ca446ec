// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the authenticated request identity through context.
package auth

import "context"

type identityKey struct{}

// Identity is the technician/device pair established when a bearer token is
// validated.
type Identity struct {
	TechnicianID string
	DeviceID     string
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by the auth middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
