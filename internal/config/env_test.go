// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"testing"
	"time"
)

func TestParseString(t *testing.T) {
	t.Setenv("FIRD_TEST_STR", "hello")
	if got := ParseString("FIRD_TEST_STR", "fallback"); got != "hello" {
		t.Errorf("ParseString = %q, want hello", got)
	}
	if got := ParseString("FIRD_TEST_STR_MISSING", "fallback"); got != "fallback" {
		t.Errorf("ParseString = %q, want fallback", got)
	}
	t.Setenv("FIRD_TEST_STR_EMPTY", "")
	if got := ParseString("FIRD_TEST_STR_EMPTY", "fallback"); got != "fallback" {
		t.Errorf("ParseString empty = %q, want fallback", got)
	}
}

func TestParseInt(t *testing.T) {
	t.Setenv("FIRD_TEST_INT", "42")
	if got := ParseInt("FIRD_TEST_INT", 7); got != 42 {
		t.Errorf("ParseInt = %d, want 42", got)
	}
	t.Setenv("FIRD_TEST_INT_BAD", "forty-two")
	if got := ParseInt("FIRD_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("ParseInt bad input = %d, want 7", got)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"5s", 5 * time.Second},
		{"2m", 2 * time.Minute},
		{"90", 90 * time.Second}, // bare integer means seconds
		{"garbage", 3 * time.Second},
		{"", 3 * time.Second},
	}
	for _, tt := range tests {
		t.Setenv("FIRD_TEST_DUR", tt.value)
		if got := ParseDuration("FIRD_TEST_DUR", 3*time.Second); got != tt.want {
			t.Errorf("ParseDuration(%q) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true}, {"1", true}, {"yes", true},
		{"false", false}, {"0", false}, {"no", false},
		{"maybe", true}, // falls back to default
	}
	for _, tt := range tests {
		t.Setenv("FIRD_TEST_BOOL", tt.value)
		if got := ParseBool("FIRD_TEST_BOOL", true); got != tt.want {
			t.Errorf("ParseBool(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseStringSlice(t *testing.T) {
	t.Setenv("FIRD_TEST_SLICE", "a, b ,, c")
	got := ParseStringSlice("FIRD_TEST_SLICE", nil)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("ParseStringSlice = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ParseStringSlice[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSensitiveKey(t *testing.T) {
	for key, want := range map[string]bool{
		"API_KEY":        true,
		"MYSQL_PASSWORD": true,
		"SECRETS_URL":    true,
		"AUTH_TOKEN":     true,
		"LISTEN_ADDR":    false,
		"DATA_DIR":       false,
	} {
		if got := sensitiveKey(key); got != want {
			t.Errorf("sensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}
