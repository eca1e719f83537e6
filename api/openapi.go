// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api carries the embedded OpenAPI document for the FIR daemon.
package api

import _ "embed"

// OpenAPISpec is the OpenAPI 3 description of the public HTTP surface.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
