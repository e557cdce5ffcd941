// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package schema bridges JSON Schema validation into the connectors library.
// Validation is the only gate between external bytes and handler code, so
// every connector config, action input, and webhook payload passes through
// here before anything else touches it.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Issue describes one validation failure.
type Issue struct {
	// Path locates the failing element within the document
	Path string `json:"path"`

	// Message is the human-readable failure description
	Message string `json:"message"`
}

// Result is the outcome of validating a document.
type Result struct {
	// OK reports whether the document passed validation
	OK bool

	// Value is the validated document (present when OK)
	Value any

	// Issues lists the failures (present when not OK)
	Issues []Issue
}

// JoinIssues renders the issue list as a single message, one issue per
// semicolon-separated segment.
func JoinIssues(issues []Issue) string {
	msg := ""
	for i, issue := range issues {
		if i > 0 {
			msg += "; "
		}
		if issue.Path != "" {
			msg += issue.Path + ": "
		}
		msg += issue.Message
	}
	return msg
}

// Schema is a compiled JSON Schema plus the raw document it was compiled
// from. The raw document is kept so field introspection can walk properties
// that gojsonschema does not expose after compilation.
type Schema struct {
	compiled *gojsonschema.Schema
	raw      map[string]any
}

// Compile builds a Schema from a schema document.
func Compile(doc map[string]any) (*Schema, error) {
	if doc == nil {
		return nil, fmt.Errorf("schema document is required")
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &Schema{compiled: compiled, raw: doc}, nil
}

// CompileBytes builds a Schema from raw JSON bytes.
func CompileBytes(data []byte) (*Schema, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing schema JSON: %w", err)
	}
	return Compile(doc)
}

// MustCompile is Compile for package-level schema literals; it panics on a
// malformed document.
func MustCompile(doc map[string]any) *Schema {
	s, err := Compile(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Raw returns the schema document the Schema was compiled from. Callers must
// not mutate it.
func (s *Schema) Raw() map[string]any {
	if s == nil {
		return nil
	}
	return s.raw
}

// Validate checks input against the schema. A nil Schema accepts everything,
// which lets optional schemas (action output, metadata) stay unset.
func (s *Schema) Validate(input any) Result {
	if s == nil {
		return Result{OK: true, Value: input}
	}

	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return Result{Issues: []Issue{{Message: fmt.Sprintf("document could not be validated: %v", err)}}}
	}
	if !result.Valid() {
		issues := make([]Issue, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			issues = append(issues, Issue{
				Path:    resultErr.Field(),
				Message: resultErr.Description(),
			})
		}
		return Result{Issues: issues}
	}
	return Result{OK: true, Value: input}
}
