// Package correlation mints and propagates the identifier that ties every
// log entry and error of one user action together.
package correlation

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const (
	alphabet     = "0123456789abcdefghijklmnopqrstuvwxyz"
	randomSuffix = 5
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

var idContextKey = contextKey{}

// now is replaced in tests.
var now = time.Now

// NewID returns a fresh correlation id: the current unix time in
// milliseconds in base 36, followed by five random base-36 characters.
// Ids are URL-safe and sort roughly by creation time. They are not
// suitable as secrets.
func NewID() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(now().UnixMilli(), 36))
	for range randomSuffix {
		b.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return b.String()
}

// Ensure returns id unchanged, or a fresh id when id is empty.
func Ensure(id string) string {
	if id != "" {
		return id
	}
	return NewID()
}

// WithID stores id in ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idContextKey, id)
}

// FromContext returns the id stored in ctx, or "" if there is none.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(idContextKey).(string)
	return id
}
