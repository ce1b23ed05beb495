// Package idempotency reads the client-chosen key that makes order
// placement safe to retry.
package idempotency

import (
	"errors"
	"net/http"
	"strings"
	"unicode"
)

const (
	Header = "Idempotency-Key"
	MaxLen = 128
)

var ErrInvalidKey = errors.New("idempotency key must be at most 128 printable characters")

// Key returns the trimmed header value. An absent header yields "" and no
// error.
func Key(r *http.Request) (string, error) {
	k := strings.TrimSpace(r.Header.Get(Header))
	if len(k) > MaxLen {
		return "", ErrInvalidKey
	}
	for _, c := range k {
		if !unicode.IsPrint(c) {
			return "", ErrInvalidKey
		}
	}
	return k, nil
}
