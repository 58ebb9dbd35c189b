// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package idgen generates short correlation tokens used to key
// connections and watchers (wsId, watcherId).
package idgen

import (
	"crypto/rand"
	"math/big"
)

const (
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	length   = 7
)

// New generates a random 7-character base36 token.
func New() (string, error) {
	base := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// MustNew generates a token and panics on entropy failure. Only used
// where the caller has no sane error path (e.g. package-level state).
func MustNew() string {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}
