// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// FIRNumberRE is the grammar every issued FIR number satisfies:
// FIR-{8 lowercase hex}-{YYYYMMDDhhmmss UTC}.
var FIRNumberRE = regexp.MustCompile(`^FIR-[0-9a-f]{8}-\d{14}$`)

// NewFIRNumber issues a fresh FIR number. Uniqueness is probabilistic here;
// the store's primary key is the authority, and allocation retries on a
// collision.
func NewFIRNumber(now time.Time) string {
	var buf [4]byte
	// crypto/rand.Read only fails if the platform entropy source is broken,
	// in which case the process has bigger problems.
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("FIR-%s-%s", hex.EncodeToString(buf[:]), now.UTC().Format("20060102150405"))
}

// ValidFIRNumber reports whether s matches the FIR number grammar.
func ValidFIRNumber(s string) bool {
	return FIRNumberRE.MatchString(s)
}
