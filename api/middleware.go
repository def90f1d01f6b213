package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/interfaces"
	"github.com/pnocera/accounts/pkg/security"
	"github.com/pnocera/accounts/pkg/types"
	"github.com/pnocera/accounts/pkg/usecases"
)

const (
	requestIDKey = "request_id"
	claimsKey    = "claims"
)

// requestIDMiddleware adds a unique request ID to each request
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), types.ContextKeyRequestID, requestID))
		c.Next()
	}
}

// loggingMiddleware provides request logging
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"latency_ms":  time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
			"request_id":  c.GetString(requestIDKey),
		}
		if claims := claimsFrom(c); claims != nil {
			fields["username"] = claims.Subject
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			s.logger.Warn("HTTP Request", fields)
		default:
			s.logger.Info("HTTP Request", fields)
		}
	}
}

// metricsMiddleware collects request metrics
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// RateLimiter keeps one token bucket per client IP
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	logger   interfaces.Logger
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter; rps 0 disables limiting
func NewRateLimiter(rps float64, burst int, logger interfaces.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
		logger:   logger,
	}
}

// getLimiter returns a rate limiter for the given key
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Middleware rejects requests over the limit with 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP()
		if !rl.getLimiter(key).Allow() {
			rl.logger.Warn("Rate limit exceeded", map[string]interface{}{
				"key":    key,
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			})
			abortWithError(c, apperrors.NewRateLimitedError("too many requests"))
			return
		}
		c.Next()
	}
}

// Cleanup removes limiters idle for longer than maxIdle
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// StartCleanup sweeps idle limiters every interval until done is closed
func (rl *RateLimiter) StartCleanup(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Cleanup(10 * interval)
		case <-done:
			return
		}
	}
}

// preOTP requires a valid, unrevoked bearer token
func (s *Server) preOTP() gin.HandlerFunc {
	return s.guard(false)
}

// authenticated additionally requires a validated second factor
func (s *Server) authenticated() gin.HandlerFunc {
	return s.guard(true)
}

func (s *Server) guard(requireOTP bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.config.AuthBypassed() {
			claims, err := s.systemClaims(c.Request.Context())
			if err != nil {
				abortWithError(c, err)
				return
			}
			setClaims(c, claims)
			c.Next()
			return
		}

		token := extractTokenFromHeader(c.GetHeader("Authorization"))
		if token == "" {
			abortWithError(c, apperrors.NewUnauthorizedError("missing bearer token"))
			return
		}

		claims, err := s.tokens.Parse(token)
		if err != nil {
			abortWithError(c, err)
			return
		}

		revoked, err := s.revocation.IsRevoked(c.Request.Context(), claims.ID)
		if err != nil {
			abortWithError(c, apperrors.NewServiceUnavailableError("revocation", err))
			return
		}
		if revoked {
			abortWithError(c, apperrors.NewAppError(types.ErrorTypeUnauthorized, apperrors.ErrCodeTokenRevoked, "token has been revoked"))
			return
		}

		if requireOTP {
			if !claims.User.OTPEnabled {
				abortWithError(c, apperrors.NewForbiddenError(apperrors.ErrCodeOTPRequired, "2FA must be enabled"))
				return
			}
			if !claims.User.OTPValidated {
				abortWithError(c, apperrors.NewForbiddenError(apperrors.ErrCodeVerifiedOTPRequired, "2FA code must be validated"))
				return
			}
		}

		setClaims(c, claims)
		c.Next()
	}
}

// systemClaims impersonates the system user when auth is bypassed
func (s *Server) systemClaims(ctx context.Context) (*security.Claims, error) {
	resp, err := usecases.Send[usecases.GetUserRequest, usecases.UserResponse](ctx, s.mediator, usecases.GetUser,
		&usecases.GetUserRequest{Username: s.config.API.SystemUser})
	if err != nil {
		return nil, err
	}

	user := resp.User
	return &security.Claims{
		User: security.SessionUser{
			ID:           user.ID,
			Name:         user.Name,
			Email:        user.Email,
			Username:     user.Username,
			Active:       user.Active,
			OTPEnabled:   true,
			OTPVerified:  true,
			OTPValidated: true,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.Username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.config.API.Auth.Token.Expiration)),
		},
	}, nil
}

func setClaims(c *gin.Context, claims *security.Claims) {
	c.Set(claimsKey, claims)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), types.ContextKeyClaims, claims))
}

func claimsFrom(c *gin.Context) *security.Claims {
	value, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*security.Claims)
	return claims
}

func extractTokenFromHeader(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
