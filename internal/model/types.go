package model

import (
	"context"
	"errors"
)

// #region errors

var (
	// ErrUnavailable wraps the last transport error once retries are exhausted.
	ErrUnavailable = errors.New("model unavailable")
	// ErrBadResponse marks a reply that is missing the generated text.
	ErrBadResponse = errors.New("model bad response")
	// ErrNoRoute is returned when no backend accepts the requested model.
	ErrNoRoute = errors.New("no backend for model")
)

// #endregion

// #region response-format

// ResponseFormat hints the backend about the expected output shape.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// #endregion

// #region request

// Request is a single generation call.
type Request struct {
	Prompt         string
	Model          string
	Temperature    float32
	MaxTokens      int
	ResponseFormat ResponseFormat
	Tag            string // caller label for logs, e.g. "light/2"
}

// #endregion

// #region generator

// Generator produces text for a prompt. Implementations must honor ctx.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// #endregion
