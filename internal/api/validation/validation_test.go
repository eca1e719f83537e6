// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/fird/internal/fir/errs"
)

func TestTextBounds(t *testing.T) {
	_, err := Text("too short")
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))

	_, err = Text(strings.Repeat("a", MaxTextLen+1))
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))

	got, err := Text("My wallet was stolen near Main Square.")
	require.NoError(t, err)
	assert.Equal(t, "My wallet was stolen near Main Square.", got)
}

func TestTextNormalisesBeforeCounting(t *testing.T) {
	// Decomposed é (e + combining acute) is two runes; NFC folds it to one.
	decomposed := strings.Repeat("e\u0301", 6) // 12 runes raw, 6 after NFC
	_, err := Text(decomposed)
	assert.Error(t, err, "6 normalised runes is under the minimum")
}

func TestDenyList(t *testing.T) {
	bad := []string{
		"a complaint with <script>alert(1)</script> inside it",
		"click javascript:doEvil() for details please",
		"an image tag with onerror=steal() attached to it",
		"embedded <IFRAME src=x> element in the middle",
		"an <object data=x> element hiding here somewhere",
		"dynamic eval(payload) in the complaint body text",
		"css expression(alert(1)) smuggled into the text",
	}
	for _, s := range bad {
		_, err := Text(s)
		assert.Truef(t, errs.IsKind(err, errs.KindInvalidInput), "%q should be rejected", s)
		if err != nil {
			assert.NotContains(t, err.Error(), "<script", "rejected input must not be echoed")
			assert.NotContains(t, err.Error(), "eval(")
		}
	}
}

func TestUserInputOptional(t *testing.T) {
	got, err := UserInput("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = UserInput(strings.Repeat("x", MaxUserInputLen+1))
	assert.Error(t, err)

	_, err = UserInput("please mention the <script> tag")
	assert.Error(t, err)
}

func TestSessionIDFormat(t *testing.T) {
	assert.Error(t, SessionID("not-a-uuid"))
	assert.Error(t, SessionID("123E4567-E89B-42D3-A456-426614174000")) // uppercase
	assert.NoError(t, SessionID("123e4567-e89b-42d3-a456-426614174000"))
}

func TestFIRNumberFormat(t *testing.T) {
	assert.NoError(t, FIRNumber("FIR-0123abcd-20260301090000"))
	assert.Error(t, FIRNumber("FIR-0123ABCD-20260301090000"))
	assert.Error(t, FIRNumber("FIR-0123abcd-2026030109000"))
	assert.Error(t, FIRNumber(""))
}

func TestUpload(t *testing.T) {
	assert.NoError(t, Upload(1024, "audio/wav"))
	assert.NoError(t, Upload(1024, "Audio/WAV; rate=44100"))
	assert.Error(t, Upload(MaxUploadBytes+1, "audio/wav"))
	assert.Error(t, Upload(1024, "application/pdf"))
	assert.Error(t, Upload(1024, "text/html"))
}

func TestPagination(t *testing.T) {
	limit, offset, err := Pagination("", "")
	require.NoError(t, err)
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, offset)

	limit, offset, err = Pagination("100", "40")
	require.NoError(t, err)
	assert.Equal(t, 100, limit)
	assert.Equal(t, 40, offset)

	_, _, err = Pagination("0", "")
	assert.Error(t, err)
	_, _, err = Pagination("101", "")
	assert.Error(t, err)
	_, _, err = Pagination("10", "-1")
	assert.Error(t, err)
	_, _, err = Pagination("abc", "")
	assert.Error(t, err)
}

func TestStructTags(t *testing.T) {
	type dto struct {
		SessionID string `validate:"required,uuid4"`
		FIRNumber string `validate:"omitempty,fir_number"`
		UserInput string `validate:"omitempty,safe_text"`
	}

	assert.NoError(t, Struct(dto{SessionID: "123e4567-e89b-42d3-a456-426614174000"}))
	assert.Error(t, Struct(dto{SessionID: "nope"}))
	assert.Error(t, Struct(dto{
		SessionID: "123e4567-e89b-42d3-a456-426614174000",
		FIRNumber: "FIR-XYZ",
	}))
	assert.Error(t, Struct(dto{
		SessionID: "123e4567-e89b-42d3-a456-426614174000",
		UserInput: "<script>x</script>",
	}))
}
