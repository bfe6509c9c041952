package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/packfinderz-stock/api/responses"
	pkgerrors "github.com/angelmondragon/packfinderz-stock/pkg/errors"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	pkgredis "github.com/angelmondragon/packfinderz-stock/pkg/redis"
)

const (
	IdempotencyKeyHeader   = "Idempotency-Key"
	IdempotentReplayHeader = "Idempotent-Replayed"

	writeKeyTTL      = 24 * time.Hour
	transitionKeyTTL = 7 * 24 * time.Hour
	// pendingKeyTTL bounds how long a crashed request blocks its key.
	pendingKeyTTL = 30 * time.Second
)

type keyState string

const (
	keyPending  keyState = "pending"
	keyComplete keyState = "complete"
)

// keyPolicy says which writes honour Idempotency-Key and for how long.
type keyPolicy struct {
	method   string
	match    func(path string) bool
	ttl      time.Duration
	required bool
}

// Reserve and stock writes require a key. Confirm and release are naturally
// idempotent and only replay when the caller sends one.
var keyPolicies = []keyPolicy{
	{method: http.MethodPost, match: pathIs("/api/v1/reservations"), ttl: writeKeyTTL, required: true},
	{method: http.MethodPost, match: pathBetween("/api/v1/stock-items/", "/adjust"), ttl: writeKeyTTL, required: true},
	{method: http.MethodPost, match: pathIs("/api/v1/stock-items/import"), ttl: writeKeyTTL, required: true},
	{method: http.MethodPost, match: pathBetween("/api/v1/reservations/orders/", "/confirm"), ttl: transitionKeyTTL},
	{method: http.MethodPost, match: pathBetween("/api/v1/reservations/", "/release"), ttl: transitionKeyTTL},
}

// keyEntry is what lives under an idempotency key. A pending entry marks a
// request still executing; a complete entry holds the response to replay.
type keyEntry struct {
	State       keyState `json:"state"`
	Fingerprint string   `json:"fingerprint"`
	Status      int      `json:"status,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	Body        []byte   `json:"body,omitempty"`
}

// Idempotency makes keyed writes safe to retry. The first request claims the
// key, later ones with the same body get the recorded response, and a
// different body under the same key is rejected. 5xx responses release the
// key so the client can retry.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			policy, ok := policyFor(r.Method, requestPath(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if clientKey == "" {
				if policy.required {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyKeyHeader+" header required"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			fingerprint := fingerprintBody(body)
			key := store.IdempotencyKey(keyScope(r), clientKey)

			claimed, err := store.SetNX(ctx, key, encodeEntry(keyEntry{State: keyPending, Fingerprint: fingerprint}), pendingKeyTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayExisting(ctx, logg, w, store, key, fingerprint)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.statusCode()
			if status >= http.StatusInternalServerError {
				if err := store.Del(ctx, key); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
				return
			}
			entry := keyEntry{
				State:       keyComplete,
				Fingerprint: fingerprint,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			}
			if err := store.Set(ctx, key, encodeEntry(entry), policy.ttl); err != nil && logg != nil {
				logg.Error(ctx, "record idempotent response", err)
			}
		})
	}
}

func replayExisting(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store pkgredis.IdempotencyStore, key, fingerprint string) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The pending claim lapsed between SETNX and GET.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency key"))
		return
	}
	var entry keyEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency entry"))
		return
	}

	switch {
	case entry.Fingerprint != fingerprint:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request body"))
	case entry.State != keyComplete:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is still in progress"))
	default:
		if entry.ContentType != "" {
			w.Header().Set("Content-Type", entry.ContentType)
		}
		w.Header().Set(IdempotentReplayHeader, "true")
		w.WriteHeader(entry.Status)
		_, _ = w.Write(entry.Body)
	}
}

// keyScope namespaces client keys per actor and endpoint so two callers
// cannot collide on the same key.
func keyScope(r *http.Request) string {
	actor := ActorFromContext(r.Context())
	return strings.Join([]string{string(actor.Type), actor.ID, r.Method, r.URL.Path}, "|")
}

func encodeEntry(entry keyEntry) string {
	payload, _ := json.Marshal(entry)
	return string(payload)
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(bytes.TrimSpace(body))
	return hex.EncodeToString(sum[:])
}

// requestPath is matched instead of the chi route pattern because subrouter
// middleware runs before the final pattern is known.
func requestPath(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	if p := strings.TrimSuffix(r.URL.Path, "/"); p != "" {
		return p
	}
	return r.URL.Path
}

func policyFor(method, path string) (keyPolicy, bool) {
	if path == "" {
		return keyPolicy{}, false
	}
	for _, policy := range keyPolicies {
		if policy.method == method && policy.match(path) {
			return policy, true
		}
	}
	return keyPolicy{}, false
}

func pathIs(want string) func(string) bool {
	return func(path string) bool { return path == want }
}

func pathBetween(prefix, suffix string) func(string) bool {
	return func(path string) bool {
		return len(path) > len(prefix)+len(suffix) && strings.HasPrefix(path, prefix) && strings.HasSuffix(path, suffix)
	}
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
