package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"

	appctx "github.com/mike-walpole/d2g/pkg/context"
	"github.com/mike-walpole/d2g/pkg/tracing"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRoles = "X-User-Roles"
)

type UserClaims struct {
	Sub         string `json:"sub"`
	Email       string `json:"email"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	Groups []string `json:"groups"`
}

// Roles merges realm roles and group names. Group paths lose their leading slash.
func (c UserClaims) Roles() []string {
	roles := append([]string{}, c.RealmAccess.Roles...)
	for _, group := range c.Groups {
		roles = append(roles, strings.TrimPrefix(group, "/"))
	}
	return roles
}

// ClaimsVerifier turns a raw bearer token into verified claims
type ClaimsVerifier interface {
	VerifyClaims(ctx context.Context, rawToken string) (UserClaims, error)
}

type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer. An empty clientID skips the audience check,
// which access tokens with a generic audience need.
func NewOIDCVerifier(ctx context.Context, issuer string, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider %s: %w", issuer, err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{
			ClientID:          clientID,
			SkipClientIDCheck: clientID == "",
		}),
	}, nil
}

func (v *OIDCVerifier) VerifyClaims(ctx context.Context, rawToken string) (UserClaims, error) {
	var claims UserClaims

	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return claims, err
	}
	if err := idToken.Claims(&claims); err != nil {
		return claims, fmt.Errorf("cannot parse claims: %w", err)
	}
	return claims, nil
}

// Authentication requires a valid bearer token and stores the caller on the context
func Authentication(logger ectologger.Logger, verifier ClaimsVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracing.StartSpan(c.Request().Context(), "middleware.Authentication")
			defer span.End()

			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				logger.WithContext(ctx).Warn("request is missing bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer")
			}

			verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			claims, err := verifier.VerifyClaims(verifyCtx, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("token is invalid")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx = appctx.SetUserID(ctx, claims.Sub)
			ctx = appctx.SetUserEmail(ctx, claims.Email)
			ctx = appctx.SetRoles(ctx, claims.Roles())

			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// DevAuthentication trusts identity headers. Only for local runs with auth disabled.
func DevAuthentication(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()

			userID := req.Header.Get(HeaderUserID)
			if userID == "" {
				logger.WithContext(ctx).Warn("request is missing user id header")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing user id")
			}

			roles := []string{}
			for _, role := range strings.Split(req.Header.Get(HeaderUserRoles), ",") {
				if role = strings.TrimSpace(role); role != "" {
					roles = append(roles, role)
				}
			}

			ctx = appctx.SetUserID(ctx, userID)
			ctx = appctx.SetUserEmail(ctx, req.Header.Get(HeaderUserEmail))
			ctx = appctx.SetRoles(ctx, roles)

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}

// RequireRole rejects callers without role with a 403
func RequireRole(logger ectologger.Logger, role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if !ectolinq.Contains(appctx.GetRoles(ctx), role) {
				logger.WithContext(ctx).WithFields(map[string]any{
					"user_id": appctx.GetUserID(ctx),
					"role":    role,
				}).Warn("caller lacks required role")
				return echo.NewHTTPError(http.StatusForbidden, "admin access required")
			}
			return next(c)
		}
	}
}
