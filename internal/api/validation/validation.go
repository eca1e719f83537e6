// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package validation holds the payload rules for the HTTP surface: length
// bounds, format checks and the XSS deny-list. Every user-supplied string is
// NFC-normalised before any bound is applied so multi-codepoint sequences
// cannot slip under a limit.
package validation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/model"
)

// Bounds for the /process and /validate payloads.
const (
	MinTextLen      = 10
	MaxTextLen      = 50_000
	MaxUserInputLen = 10_000
	MaxUploadBytes  = 25 << 20 // 25 MB
)

// AllowedMIMETypes is the upload whitelist, keyed by declared content type.
var AllowedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"audio/wav":  true,
	"audio/mpeg": true,
}

// denyList covers the injection patterns rejected outright. Matching is
// case-insensitive on the normalised input.
var denyList = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
	regexp.MustCompile(`(?i)<iframe`),
	regexp.MustCompile(`(?i)<object`),
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)expression\(`),
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registered as field validators so DTO tags can use them directly.
	must(v.RegisterValidation("fir_number", func(fl validator.FieldLevel) bool {
		return model.ValidFIRNumber(fl.Field().String())
	}))
	must(v.RegisterValidation("safe_text", func(fl validator.FieldLevel) bool {
		return !matchesDenyList(norm.NFC.String(fl.Field().String()))
	}))
	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Struct runs validator/v10 over a DTO and converts failures to InvalidInput.
// The offending value never appears in the message, only the field and rule.
func Struct(dto any) error {
	err := validate.Struct(dto)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if ok := asValidationErrors(err, &fieldErrs); ok && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errs.Ef(errs.KindInvalidInput, "field %s failed rule %s", fe.Field(), fe.Tag())
	}
	return errs.Wrap(errs.KindInvalidInput, err, "payload validation")
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

func matchesDenyList(s string) bool {
	for _, re := range denyList {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Text checks a complaint text: NFC-normalised length within [10, 50000] and
// clean of deny-listed patterns. Returns the normalised text.
func Text(s string) (string, error) {
	s = norm.NFC.String(s)
	n := len([]rune(s))
	if n < MinTextLen || n > MaxTextLen {
		return "", errs.Ef(errs.KindInvalidInput, "text length %d outside [%d, %d]", n, MinTextLen, MaxTextLen)
	}
	if matchesDenyList(s) {
		return "", errs.E(errs.KindInvalidInput, "text contains a disallowed pattern")
	}
	return s, nil
}

// UserInput checks an optional correction field. Empty is valid.
func UserInput(s string) (string, error) {
	s = norm.NFC.String(s)
	if n := len([]rune(s)); n > MaxUserInputLen {
		return "", errs.Ef(errs.KindInvalidInput, "user_input length %d exceeds %d", n, MaxUserInputLen)
	}
	if matchesDenyList(s) {
		return "", errs.E(errs.KindInvalidInput, "user_input contains a disallowed pattern")
	}
	return s, nil
}

// SessionID checks the canonical UUIDv4 form.
func SessionID(s string) error {
	if !model.ValidSessionID(s) {
		return errs.E(errs.KindInvalidInput, "session_id is not a canonical UUIDv4")
	}
	return nil
}

// FIRNumber checks the FIR-{8 hex}-{14 digits} grammar.
func FIRNumber(s string) error {
	if !model.ValidFIRNumber(s) {
		return errs.E(errs.KindInvalidInput, "fir_number does not match the FIR number format")
	}
	return nil
}

// Upload checks a multipart upload's size and declared MIME type. The MIME
// check strips parameters ("audio/wav; rate=44100" passes as audio/wav).
func Upload(size int64, contentType string) error {
	if size > MaxUploadBytes {
		return errs.Ef(errs.KindInvalidInput, "upload of %d bytes exceeds the %d byte limit", size, MaxUploadBytes)
	}
	mime := contentType
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = mime[:idx]
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	if !AllowedMIMETypes[mime] {
		return errs.Ef(errs.KindInvalidInput, "content type %q is not accepted", mime)
	}
	return nil
}

// Pagination checks the /list_firs query parameters and applies defaults
// (limit 20, offset 0) for absent values.
func Pagination(limitStr, offsetStr string) (limit, offset int, err error) {
	limit, offset = 20, 0
	var convErr error
	if limitStr != "" {
		if limit, convErr = strconv.Atoi(limitStr); convErr != nil {
			return 0, 0, errs.E(errs.KindInvalidInput, "limit is not an integer")
		}
	}
	if offsetStr != "" {
		if offset, convErr = strconv.Atoi(offsetStr); convErr != nil {
			return 0, 0, errs.E(errs.KindInvalidInput, "offset is not an integer")
		}
	}
	if limit < 1 || limit > 100 {
		return 0, 0, errs.Ef(errs.KindInvalidInput, "limit %d outside [1, 100]", limit)
	}
	if offset < 0 {
		return 0, 0, errs.Ef(errs.KindInvalidInput, "offset %d is negative", offset)
	}
	return limit, offset, nil
}
