// Package testutil holds helpers shared by the integration suite: a
// PostgreSQL container, an HTTP client and an OpenAPI response checker.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// unchecked lists paths served outside the documented JSON API.
var unchecked = map[string]bool{
	"/healthz":          true,
	"/readyz":           true,
	"/api/openapi.yaml": true,
	"/docs":             true,
}

// OpenAPIValidator checks responses against the API document and records
// which documented operations the suite exercised.
type OpenAPIValidator struct {
	doc    *openapi3.T
	router routers.Router

	mu  sync.Mutex
	hit map[string]bool
}

// LoadOpenAPIValidator loads the document at specPath, which is relative to
// the test working directory or absolute.
func LoadOpenAPIValidator(specPath string) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI document %s: %w", specPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate OpenAPI document: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("create OpenAPI router: %w", err)
	}

	return &OpenAPIValidator{doc: doc, router: router, hit: make(map[string]bool)}, nil
}

// ValidateResponse reports a test error when resp does not match the
// documented response for req. The response body is restored afterwards.
func (v *OpenAPIValidator) ValidateResponse(t *testing.T, req *http.Request, resp *http.Response) {
	t.Helper()

	if unchecked[req.URL.Path] {
		return
	}

	// The router matches on the path alone, without the test server host.
	routeReq, err := http.NewRequest(req.Method, req.URL.Path, nil)
	if err != nil {
		t.Errorf("build route request: %v", err)
		return
	}
	route, pathParams, err := v.router.FindRoute(routeReq)
	if err != nil {
		t.Errorf("OpenAPI: %s %s is not documented: %v", req.Method, req.URL.Path, err)
		return
	}
	v.record(req.Method, route.Path)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Errorf("read response body: %v", err)
		return
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	}

	if err := openapi3filter.ValidateResponse(context.Background(), input); err != nil {
		t.Errorf("OpenAPI: %s %s returned %d not matching the document:\n%s\nbody: %s",
			req.Method, req.URL.Path, resp.StatusCode, truncate(err.Error(), 500), truncate(strings.TrimSpace(string(body)), 200))
	}
}

func (v *OpenAPIValidator) record(method, path string) {
	v.mu.Lock()
	v.hit[method+" "+path] = true
	v.mu.Unlock()
}

// Uncovered returns the documented operations no validated response
// touched, sorted as "METHOD /path".
func (v *OpenAPIValidator) Uncovered() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var missing []string
	for path, item := range v.doc.Paths.Map() {
		for method := range item.Operations() {
			key := method + " " + path
			if !v.hit[key] {
				missing = append(missing, key)
			}
		}
	}
	sort.Strings(missing)
	return missing
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
