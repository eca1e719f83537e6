// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	apidoc "github.com/ManuGH/fird/api"
	"github.com/ManuGH/fird/internal/api/middleware"
	"github.com/ManuGH/fird/internal/fir/errs"
)

var (
	openapiOnce sync.Once
	openapiDoc  *openapi3.T
	openapiJSON []byte
	openapiErr  error
)

// loadOpenAPI parses and validates the embedded document once.
func loadOpenAPI() (*openapi3.T, []byte, error) {
	openapiOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(apidoc.OpenAPISpec)
		if err != nil {
			openapiErr = err
			return
		}
		if err := doc.Validate(loader.Context); err != nil {
			openapiErr = err
			return
		}
		body, err := json.Marshal(doc)
		if err != nil {
			openapiErr = err
			return
		}
		openapiDoc = doc
		openapiJSON = body
	})
	return openapiDoc, openapiJSON, openapiErr
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	_, body, err := loadOpenAPI()
	if err != nil {
		middleware.JSONError(w, r, errs.Wrap(errs.KindInternal, err, "loading openapi document"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

const docsPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>fird API</title>
  <style>
    body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
    code { background: #f2f2f2; padding: 0.1rem 0.3rem; border-radius: 3px; }
  </style>
</head>
<body>
  <h1>fird — FIR generation pipeline</h1>
  <p>Interactive five-stage pipeline turning a complaint into a numbered FIR.
     Authenticate with <code>X-API-Key</code> or a bearer token.</p>
  <p>The machine-readable description is at <a href="/openapi.json"><code>/openapi.json</code></a>.</p>
  <h2>Workflow</h2>
  <ol>
    <li><code>POST /process</code> — submit text, audio or image</li>
    <li><code>POST /validate</code> — approve or reject each stage</li>
    <li><code>POST /regenerate/{session_id}</code> — redo the current stage</li>
    <li><code>POST /authenticate</code> — finalise the drafted FIR</li>
  </ol>
</body>
</html>
`

func (s *Server) handleDocs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(docsPage))
}
