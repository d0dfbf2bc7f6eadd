// Package idempotency implements the per-(tenant, actor, method, path, key)
// reservation store backing at-most-once mutating request semantics.
package idempotency

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/store"
)

// State is a reservation's lifecycle state.
type State string

const (
	StatePending  State = "pending"
	StateResponse State = "response"
	StateMismatch State = "mismatch"
)

var migrations = []store.Migration{
	{Name: "001_idempotency_schema", SQL: `
		CREATE TABLE reservations (
			tenant_id     TEXT NOT NULL,
			actor         TEXT NOT NULL,
			method        TEXT NOT NULL,
			path          TEXT NOT NULL,
			idem_key      TEXT NOT NULL,
			request_hash  TEXT NOT NULL,
			state         TEXT NOT NULL,
			status_code   INTEGER,
			content_type  TEXT,
			headers_json  TEXT,
			body          BLOB,
			created_at    TEXT NOT NULL,
			PRIMARY KEY (tenant_id, actor, method, path, idem_key)
		);
	`},
}

// RequestHash computes SHA-256(method|path|raw_query|raw_body), hex-encoded.
func RequestHash(method, path, rawQuery string, rawBody []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write([]byte(rawQuery))
	h.Write([]byte{'|'})
	h.Write(rawBody)
	return hex.EncodeToString(h.Sum(nil))
}

// Reservation is a persisted slot for one idempotency key.
type Reservation struct {
	TenantID    string `db:"tenant_id"`
	Actor       string `db:"actor"`
	Method      string `db:"method"`
	Path        string `db:"path"`
	IdemKey     string `db:"idem_key"`
	RequestHash string `db:"request_hash"`
	State       State  `db:"state"`
	StatusCode  sql.NullInt64  `db:"status_code"`
	ContentType sql.NullString `db:"content_type"`
	HeadersJSON sql.NullString `db:"headers_json"`
	Body        []byte         `db:"body"`
}

// Store manages idempotency reservations.
type Store struct {
	db    *sqlx.DB
	clock func() time.Time
	cache *RedisCache
}

// Open opens the idempotency database at path.
func Open(path string) (*Store, error) {
	db, err := store.Open(path, "idempotency", migrations)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, clock: time.Now}, nil
}

// WithRedisCache attaches an optional read-through replay cache. A nil
// cache (the zero value of this option) leaves the store sqlite-only.
func (s *Store) WithRedisCache(cache *RedisCache) *Store {
	s.cache = cache
	return s
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Outcome reports how a Reserve call should be handled by the middleware.
type Outcome string

const (
	OutcomeClaimed  Outcome = "claimed"   // caller owns the slot, proceed to handler
	OutcomeReplay   Outcome = "replay"    // cached response available
	OutcomeMismatch Outcome = "mismatch"  // same key, different payload
	OutcomeInProgress Outcome = "in_progress" // concurrent pending reservation
)

// Reserve attempts to claim (or replay) a reservation slot.
func (s *Store) Reserve(ctx context.Context, tenantID, actor, method, path, key, requestHash string) (Outcome, *Reservation, error) {
	if s.cache != nil {
		if cached, hit, err := s.cache.get(ctx, tenantID, actor, method, path, key); err == nil && hit {
			if cached.RequestHash != requestHash {
				return OutcomeMismatch, &Reservation{RequestHash: cached.RequestHash}, nil
			}
			var headersJSON sql.NullString
			if len(cached.Headers) > 0 {
				if b, err := json.Marshal(cached.Headers); err == nil {
					headersJSON = sql.NullString{String: string(b), Valid: true}
				}
			}
			return OutcomeReplay, &Reservation{
				RequestHash: cached.RequestHash,
				StatusCode:  sql.NullInt64{Int64: int64(cached.StatusCode), Valid: true},
				ContentType: sql.NullString{String: cached.ContentType, Valid: true},
				HeadersJSON: headersJSON,
				Body:        cached.Body,
			}, nil
		}
	}

	var existing Reservation
	err := s.db.GetContext(ctx, &existing, `
		SELECT * FROM reservations WHERE tenant_id = ? AND actor = ? AND method = ? AND path = ? AND idem_key = ?
	`, tenantID, actor, method, path, key)

	if errors.Is(err, sql.ErrNoRows) {
		_, insErr := s.db.ExecContext(ctx, `
			INSERT INTO reservations (tenant_id, actor, method, path, idem_key, request_hash, state, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, tenantID, actor, method, path, key, requestHash, StatePending, s.clock().UTC())
		if insErr != nil {
			return "", nil, apierrors.Wrap(apierrors.Internal, "reserve idempotency slot", insErr)
		}
		return OutcomeClaimed, nil, nil
	}
	if err != nil {
		return "", nil, apierrors.Wrap(apierrors.Internal, "read idempotency reservation", err)
	}

	if existing.RequestHash != requestHash {
		return OutcomeMismatch, &existing, nil
	}
	switch existing.State {
	case StateResponse:
		return OutcomeReplay, &existing, nil
	case StatePending:
		return OutcomeInProgress, &existing, nil
	default:
		return OutcomeInProgress, &existing, nil
	}
}

// Commit stores the handler's response bytes against a claimed slot.
func (s *Store) Commit(ctx context.Context, tenantID, actor, method, path, key string, statusCode int, contentType string, headersJSON string, body []byte) error {
	var requestHash string
	if err := s.db.GetContext(ctx, &requestHash, `
		SELECT request_hash FROM reservations
		WHERE tenant_id = ? AND actor = ? AND method = ? AND path = ? AND idem_key = ?
	`, tenantID, actor, method, path, key); err != nil {
		return apierrors.Wrap(apierrors.Internal, "read idempotency request hash", err)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE reservations
		SET state = ?, status_code = ?, content_type = ?, headers_json = ?, body = ?
		WHERE tenant_id = ? AND actor = ? AND method = ? AND path = ? AND idem_key = ?
	`, StateResponse, statusCode, contentType, headersJSON, body, tenantID, actor, method, path, key)
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "commit idempotency response", err)
	}

	if s.cache != nil {
		var headers map[string][]string
		if headersJSON != "" {
			_ = json.Unmarshal([]byte(headersJSON), &headers)
		}
		_ = s.cache.set(ctx, tenantID, actor, method, path, key, cachedReplay{
			RequestHash: requestHash,
			StatusCode:  statusCode,
			ContentType: contentType,
			Headers:     headers,
			Body:        body,
		})
	}
	return nil
}

// Clear deletes a reservation slot, used when the handler fails (status
// >= 300 or panic) so a retry with corrected payload is accepted.
func (s *Store) Clear(ctx context.Context, tenantID, actor, method, path, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM reservations WHERE tenant_id = ? AND actor = ? AND method = ? AND path = ? AND idem_key = ?
	`, tenantID, actor, method, path, key)
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "clear idempotency reservation", err)
	}
	return nil
}
