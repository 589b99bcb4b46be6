// Package llm wraps the text-generation collaborator used for feature
// extraction, per-message accuracy checks, and persona replies.
//
// Model output is untrusted: callers go through ExtractJSON/DecodeOr, which
// tolerate commentary and code fences around the JSON object and hand back a
// caller-supplied fallback when nothing usable is found.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrDisabled is returned by Disabled and by clients without credentials.
	ErrDisabled = errors.New("llm: generator disabled")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("llm: empty response")

	// ErrNoJSON is returned when a response holds no {...} object.
	ErrNoJSON = errors.New("llm: no JSON object in response")
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Disabled always fails with ErrDisabled, so every caller takes its fallback.
type Disabled struct{}

// Generate implements Generator.
func (Disabled) Generate(context.Context, string) (string, error) { return "", ErrDisabled }

// ExtractJSON returns the outermost {...} substring of text: from the first
// '{' to the last '}'.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// DecodeOr decodes the JSON object embedded in text into a T. On any failure
// it returns fallback and ok=false; the fallback is returned untouched, never
// partially overwritten.
func DecodeOr[T any](text string, fallback T) (v T, ok bool) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return fallback, false
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fallback, false
	}
	return out, true
}
