package admin

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Role defines the access level of a caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleReadOnly Role = "readonly"
)

// Auth modes.
const (
	AuthAPIKey = "api-key"
	AuthJWT    = "jwt"
	AuthNone   = "none"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // AuthAPIKey, AuthJWT or AuthNone
	APIKey    string
	JWTSecret []byte
}

// Claims are the JWT claims accepted in jwt mode.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

var errMissingRole = errors.New("token has no valid role claim")

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// NewAuthMiddleware returns a Fiber middleware that validates the
// Authorization header and stores the caller's role in c.Locals("role").
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Mode == AuthNone {
			c.Locals("role", RoleAdmin)
			return c.Next()
		}

		path := c.Path()
		if isProbe(path) {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		switch cfg.Mode {
		case AuthJWT:
			role, err := parseToken(token, cfg.JWTSecret)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Str("method", c.Method()).
					Msg("unauthorized request: invalid token")
				return problemResponse(c, fiber.StatusUnauthorized,
					"invalid_token", "Unauthorized", "Invalid bearer token")
			}
			c.Locals("role", role)
			return c.Next()
		default:
			if cfg.APIKey != "" && token == cfg.APIKey {
				c.Locals("role", RoleAdmin)
				return c.Next()
			}
			logger.Warn().Str("path", path).Str("method", c.Method()).
				Msg("unauthorized request: invalid API key")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_api_key", "Unauthorized", "Invalid API key")
		}
	}
}

func parseToken(raw string, secret []byte) (Role, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if _, ok := roleLevel[claims.Role]; !ok {
		return "", errMissingRole
	}
	return claims.Role, nil
}

// SignToken issues an HS256 token carrying role. Used by operators' tooling
// and tests.
func SignToken(secret []byte, role Role, claims jwt.RegisteredClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: role, RegisteredClaims: claims}).SignedString(secret)
}

var roleLevel = map[Role]int{
	RoleReadOnly: 1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// requireRole returns a middleware that enforces a minimum role level.
func requireRole(minRole Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(Role)
		if roleLevel[role] < roleLevel[minRole] {
			return problemResponse(c, fiber.StatusForbidden,
				"insufficient_role", "Forbidden",
				"Insufficient permissions for this operation")
		}
		return c.Next()
	}
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
