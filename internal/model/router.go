package model

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// #region config

// RouterConfig holds rate limiting and retry settings shared by all backends.
type RouterConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	Backoff           time.Duration // first backoff; doubles per attempt
}

// DefaultRouterConfig returns defaults, overridable by MODEL_RPS,
// MODEL_BURST, MODEL_MAX_RETRIES and MODEL_BACKOFF_MS.
func DefaultRouterConfig() RouterConfig {
	cfg := RouterConfig{
		RequestsPerSecond: 5,
		Burst:             5,
		MaxRetries:        2,
		Backoff:           500 * time.Millisecond,
	}
	if v := os.Getenv("MODEL_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("MODEL_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Burst = n
		}
	}
	if v := os.Getenv("MODEL_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("MODEL_BACKOFF_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.Backoff = time.Duration(ms) * time.Millisecond
		}
	}
	return cfg
}

// #endregion

// #region route

// Route binds a model-name prefix to a backend. An empty prefix matches any model.
type Route struct {
	Name      string
	Prefix    string
	Generator Generator
}

type boundRoute struct {
	Route
	limiter *rate.Limiter
}

// #endregion

// #region router

// Router dispatches requests to the first matching backend, applying a
// per-backend rate limit and bounded retries on transient failures.
type Router struct {
	routes []boundRoute
	config RouterConfig
}

// NewRouter creates a router. Routes are matched in order.
func NewRouter(config RouterConfig, routes ...Route) *Router {
	bound := make([]boundRoute, 0, len(routes))
	for _, r := range routes {
		if r.Generator == nil {
			continue
		}
		lim := rate.NewLimiter(rate.Inf, 0)
		if config.RequestsPerSecond > 0 {
			lim = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), max(config.Burst, 1))
		}
		bound = append(bound, boundRoute{Route: r, limiter: lim})
	}
	return &Router{routes: bound, config: config}
}

// #endregion

// #region generate

// Generate implements Generator.
func (r *Router) Generate(ctx context.Context, req Request) (string, error) {
	route, ok := r.match(req.Model)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoRoute, req.Model)
	}

	backoff := r.config.Backoff
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := route.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}

		text, err := route.Generator.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		lastErr = err
		if !retryable(err) {
			return "", err
		}

		if attempt < r.config.MaxRetries {
			log.Printf("[MODEL] %s %s attempt %d failed: %v", route.Name, req.Tag, attempt+1, err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, route.Name, lastErr)
}

func (r *Router) match(modelName string) (boundRoute, bool) {
	for _, rt := range r.routes {
		if rt.Prefix == "" || strings.HasPrefix(modelName, rt.Prefix) {
			return rt, true
		}
	}
	return boundRoute{}, false
}

// #endregion

// #region retryable

// retryable reports whether err is worth another attempt.
// Malformed replies and client-side gRPC errors are not.
func retryable(err error) bool {
	if errors.Is(err, ErrBadResponse) {
		return false
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied,
		codes.Unauthenticated, codes.Unimplemented, codes.FailedPrecondition:
		return false
	}
	return true
}

// #endregion
