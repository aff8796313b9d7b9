// Package privacylog keeps key material and caller identifiers out of relay
// logs. Wrap the process handler once at startup.
package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

type action uint8

const (
	keep action = iota
	redact
	fingerprint
)

// Identities and client addresses are correlated by fingerprint only. A new
// salt per process makes fingerprints unlinkable across restarts.
var (
	salt = newSalt()

	fingerprintKeys = map[string]struct{}{
		"identity":      {},
		"owner":         {},
		"client_ip":     {},
		"remote_ip":     {},
		"remote_addr":   {},
		"credential_id": {},
		"device_name":   {},
	}
	secretKeyParts = []string{
		"private", "mnemonic", "passphrase", "password", "secret",
		"seed", "keypair", "token", "authorization",
	}
)

type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(Sanitize(a))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SanitizingHandler{next: h.next.WithAttrs(sanitizeAll(attrs))}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

// Sanitize rewrites one attribute. Groups are walked recursively.
func Sanitize(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	switch classify(key) {
	case redact:
		return slog.String(key, redactedValue)
	case fingerprint:
		if !strings.HasSuffix(key, "_fp") {
			key += "_fp"
		}
		return slog.String(key, Fingerprint(a.Value.String()))
	}
	if a.Value.Kind() == slog.KindGroup {
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(sanitizeAll(a.Value.Group())...)}
	}
	return a
}

// Fingerprint is stable for the life of the process.
func Fingerprint(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(salt + "|" + value))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func classify(key string) action {
	lower := strings.ToLower(key)
	if _, ok := fingerprintKeys[strings.TrimSuffix(lower, "_fp")]; ok {
		return fingerprint
	}
	for _, part := range secretKeyParts {
		if strings.Contains(lower, part) {
			return redact
		}
	}
	return keep
}

func sanitizeAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = Sanitize(a)
	}
	return out
}

func newSalt() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("privacylog: read random salt: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
