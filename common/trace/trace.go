// Package trace stamps scheduler ticks and chat turns with correlation IDs
// so all of one cycle's log lines can be read together.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

type ctxKey struct{}

// GenerateID mints a fresh correlation ID.
func GenerateID() string {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; a clock-based
		// ID keeps correlation working regardless.
		return fmt.Sprintf("kkr-%d", time.Now().UnixNano())
	}
	return "kkr-" + hex.EncodeToString(buf[:])
}

// WithTraceID returns a child context carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Ensure returns ctx carrying a trace ID, minting one when absent. Entry
// points call this so downstream log lines always correlate, whether or not
// the caller set an ID.
func Ensure(ctx context.Context) context.Context {
	if FromContext(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, GenerateID())
}

// FromContext returns the trace ID carried by ctx, or "" when there is none.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
