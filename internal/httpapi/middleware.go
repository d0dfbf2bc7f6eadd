package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/credential"
	"github.com/agenthub/aicp/internal/idempotency"
	"github.com/agenthub/aicp/internal/tracing"
)

// RequestID assigns (or propagates) X-Request-ID and always echoes it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// Logger emits one structured log line per request, mirroring the
// teacher's middleware.Logger.
func Logger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request handled")
	}
}

// Tracing starts one span per request and closes it once the chain returns.
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.Tracer().Start(c.Request.Context(), c.Request.Method+" "+c.FullPath())
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RateLimit enforces a per-owner token-bucket limit. It runs before
// authentication resolution, keyed by remote address as a fallback.
func (d *Deps) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if owner := c.GetHeader("X-API-Key"); owner != "" {
			key = owner
		}
		if !d.rateLimit.Allow(key) {
			d.fail(c, apierrors.Newf(apierrors.InvalidArgument, "rate limit exceeded"))
			return
		}
		c.Next()
	}
}

// fail writes the stable error envelope and aborts the chain, honoring
// the process enforcement mode.
func (d *Deps) fail(c *gin.Context, err error) {
	if d.mode == "warn" {
		c.Writer.Header().Set("Warning", err.Error())
		d.Logger.WithError(err).Warn("warn-mode violation")
		return
	}
	status, envelope := apierrors.ToEnvelope(err)
	c.AbortWithStatusJSON(status, envelope)
}

// AuthResolution implements the priority chain: API key, then bearer
// token, then delegation token. Public routes pass through on failure.
func (d *Deps) AuthResolution() gin.HandlerFunc {
	return func(c *gin.Context) {
		class := Classify(c.Request.Method, c.FullPath())

		state, err := d.resolveAuth(c)
		if err != nil {
			if class != ClassPublic {
				d.fail(c, err)
				return
			}
		}
		if state == nil {
			state = &AuthState{}
		}
		c.Set(authStateKey, state)

		if class == ClassAdminScoped && !state.IsAdmin {
			d.fail(c, apierrors.New(apierrors.AuthAdminRequired, "admin scope required"))
			return
		}
		if class != ClassPublic && state.Owner == "" {
			d.fail(c, apierrors.New(apierrors.AuthRequired, "authentication required"))
			return
		}
		c.Next()
	}
}

func (d *Deps) resolveAuth(c *gin.Context) (*AuthState, error) {
	if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
		owner, ok := d.ownerAPIKeys[apiKey]
		if !ok {
			return nil, apierrors.New(apierrors.AuthInvalid, "unrecognized API key")
		}
		return &AuthState{Owner: owner, Method: AuthMethodAPIKey, EffectiveScopes: []string{"*"}, IsAdmin: true}, nil
	}

	if bearer := c.GetHeader("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
		token := strings.TrimPrefix(bearer, "Bearer ")
		return d.verifyBearer(token)
	}

	if delToken := c.GetHeader("X-Delegation-Token"); delToken != "" {
		return d.verifyDelegationHeader(c.Request.Context(), delToken)
	}

	return nil, apierrors.New(apierrors.AuthRequired, "no credential presented")
}

func (d *Deps) verifyDelegationHeader(ctx context.Context, wire string) (*AuthState, error) {
	result, err := d.Tokens.Verify(ctx, wire)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, apierrors.Newf(apierrors.AuthInvalid, "delegation token invalid: %s", result.Reason)
	}
	return &AuthState{
		Owner:           result.Token.SubjectAgentID,
		Method:          AuthMethodDelegation,
		EffectiveScopes: credential.SplitScopes(result.Token.DelegatedScopes),
	}, nil
}

// TenantCheck enforces that X-Tenant-ID falls within the owner's allowed
// tenant set. Unknown owners are constrained to the "default" tenant.
func (d *Deps) TenantCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		class := Classify(c.Request.Method, c.FullPath())
		if class != ClassTenantScoped {
			c.Next()
			return
		}

		state, _ := c.Get(authStateKey)
		auth, _ := state.(*AuthState)
		tenant := c.GetHeader("X-Tenant-ID")
		if tenant == "" {
			tenant = "default"
		}
		auth.TenantID = tenant

		allowed, ok := d.ownerTenants[auth.Owner]
		if !ok {
			if tenant != "default" {
				d.fail(c, apierrors.New(apierrors.TenantForbidden, "tenant not permitted for owner"))
				return
			}
			c.Next()
			return
		}
		permitted := false
		for _, t := range allowed {
			if t == "*" || t == tenant {
				permitted = true
				break
			}
		}
		if !permitted {
			d.fail(c, apierrors.New(apierrors.TenantForbidden, "tenant not permitted for owner"))
			return
		}
		c.Next()
	}
}

var idempotentMethods = map[string]bool{"POST": true, "PUT": true, "PATCH": true, "DELETE": true}

// Idempotency enforces at-most-once semantics for mutating /v1/* routes.
func (d *Deps) Idempotency() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if !idempotentMethods[c.Request.Method] || !strings.HasPrefix(path, "/v1/") || d.idempotencyOptOut[path] {
			c.Next()
			return
		}

		key := c.GetHeader("Idempotency-Key")
		if key == "" {
			d.fail(c, apierrors.New(apierrors.IdempotencyMissingKey, "Idempotency-Key header required"))
			return
		}

		bodyBytes, _ := io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		state, _ := c.Get(authStateKey)
		auth, _ := state.(*AuthState)
		reqHash := idempotency.RequestHash(c.Request.Method, path, c.Request.URL.RawQuery, bodyBytes)

		outcome, existing, err := d.Idempotent.Reserve(c.Request.Context(), auth.TenantID, auth.Owner, c.Request.Method, path, key, reqHash)
		if err != nil {
			d.fail(c, err)
			return
		}

		switch outcome {
		case idempotency.OutcomeMismatch:
			d.Metrics.RecordIdempotencyConflict(path, "key_reused_with_different_payload")
			d.fail(c, apierrors.New(apierrors.IdempotencyKeyReused, "idempotency key reused with a different request body"))
			return
		case idempotency.OutcomeInProgress:
			d.Metrics.RecordIdempotencyConflict(path, "in_progress")
			d.fail(c, apierrors.New(apierrors.IdempotencyInProgress, "a request with this idempotency key is already in progress"))
			return
		case idempotency.OutcomeReplay:
			d.Metrics.RecordIdempotencyReplay(path)
			if existing.HeadersJSON.Valid && existing.HeadersJSON.String != "" {
				var headers map[string][]string
				if err := json.Unmarshal([]byte(existing.HeadersJSON.String), &headers); err == nil {
					for k, vs := range headers {
						for _, v := range vs {
							c.Writer.Header().Add(k, v)
						}
					}
				}
			}
			if c.Writer.Header().Get("Content-Type") == "" {
				c.Writer.Header().Set("Content-Type", existing.ContentType.String)
			}
			c.Writer.Header().Set("X-AgentHub-Idempotent-Replay", "true")
			c.Writer.WriteHeader(int(existing.StatusCode.Int64))
			c.Writer.Write(existing.Body)
			c.Abort()
			return
		}

		recorder := &responseRecorder{ResponseWriter: c.Writer, body: &bytes.Buffer{}, status: http.StatusOK}
		c.Writer = recorder

		defer func() {
			if r := recover(); r != nil {
				_ = d.Idempotent.Clear(c.Request.Context(), auth.TenantID, auth.Owner, c.Request.Method, path, key)
				panic(r)
			}
		}()

		c.Next()

		if recorder.status >= 300 {
			_ = d.Idempotent.Clear(c.Request.Context(), auth.TenantID, auth.Owner, c.Request.Method, path, key)
			return
		}
		replayHeaders := map[string][]string{}
		for k, v := range recorder.Header() {
			if http.CanonicalHeaderKey(k) == "Content-Length" {
				continue
			}
			replayHeaders[k] = v
		}
		headersJSON, _ := json.Marshal(replayHeaders)

		_ = d.Idempotent.Commit(c.Request.Context(), auth.TenantID, auth.Owner, c.Request.Method, path, key,
			recorder.status, recorder.Header().Get("Content-Type"), string(headersJSON), recorder.body.Bytes())
	}
}

// responseRecorder buffers the handler's response so it can be cached and
// re-written exactly once, per spec §4.1's response-buffering requirement.
type responseRecorder struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Timeout fails requests that exceed the configured duration with 504.
func (d *Deps) Timeout() gin.HandlerFunc {
	timeout := time.Duration(d.Config.GetInt("request.timeout_seconds")) * time.Second
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		go func() {
			c.Next()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, apierrors.Envelope{
				Detail: apierrors.Detail{Code: apierrors.Internal, Message: "request timed out"},
			})
		}
	}
}
