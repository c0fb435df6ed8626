package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in access tokens.
const (
	RoleOperator = "operator"
	RoleCustomer = "customer"
)

const principalKey = "principal"

var errInvalidToken = errors.New("invalid token")

// Claims are the access token claims issued by the identity platform.
type Claims struct {
	Role      string `json:"role"`
	AccountID string `json:"account_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject   string
	Role      string
	AccountID uuid.UUID
}

// IsOperator reports whether the caller acts for the back office.
func (p Principal) IsOperator() bool { return p.Role == RoleOperator }

// Actor is the identity written to audit rows.
func (p Principal) Actor() string { return p.Role + ":" + p.Subject }

// CanAccess reports whether the caller may act on resources of accountID.
func (p Principal) CanAccess(accountID uuid.UUID) bool {
	return p.IsOperator() || (p.AccountID != uuid.Nil && p.AccountID == accountID)
}

// SignToken issues an HS256 access token for p.
func SignToken(secret []byte, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if p.AccountID != uuid.Nil {
		claims.AccountID = p.AccountID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates an access token and returns its principal.
func ParseToken(secret []byte, tokenStr string) (Principal, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return Principal{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Principal{}, errInvalidToken
	}
	p := Principal{Subject: claims.Subject, Role: claims.Role}
	switch p.Role {
	case RoleOperator:
	case RoleCustomer:
		id, err := uuid.Parse(claims.AccountID)
		if err != nil {
			return Principal{}, errInvalidToken
		}
		p.AccountID = id
	default:
		return Principal{}, errInvalidToken
	}
	return p, nil
}

// JWTAuth returns a middleware that validates bearer access tokens.
func JWTAuth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		p, err := ParseToken(secret, strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return fiber.NewError(http.StatusUnauthorized, "token has expired")
			}
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		c.Locals(principalKey, p)
		c.Locals("user_id", p.Subject)
		return c.Next()
	}
}

// RequireOperator rejects callers without the operator role.
func RequireOperator() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !PrincipalFrom(c).IsOperator() {
			return fiber.NewError(http.StatusForbidden, "operator role required")
		}
		return c.Next()
	}
}

// PrincipalFrom returns the caller set by JWTAuth, or the zero value.
func PrincipalFrom(c *fiber.Ctx) Principal {
	p, _ := c.Locals(principalKey).(Principal)
	return p
}
