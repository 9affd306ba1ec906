package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

// Roles carried in the token.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleTutor   = "tutor"
	RoleStudent = "student"
)

// StaffRoles may manage students, schedules and lessons.
var StaffRoles = []string{RoleAdmin, RoleManager, RoleTutor}

// Claims are issued by the external auth service. For tutors UserID is the
// tutor id used on students.
type Claims struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

var (
	errMissingHeader = errors.New("Missing authorization header")
	errHeaderFormat  = errors.New("Invalid authorization header format")
	errInvalidToken  = errors.New("Invalid token")
	errInvalidClaims = errors.New("Invalid token claims")
)

func parseBearer(c *fiber.Ctx, secret string) (*Claims, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, errMissingHeader
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return nil, errHeaderFormat
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, errInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !knownRole(claims.Role) {
		return nil, errInvalidClaims
	}
	return claims, nil
}

// JWTMiddleware validates bearer tokens signed with secret (HS256 only).
func JWTMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := parseBearer(c, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		c.Locals("claims", claims)
		return c.Next()
	}
}

func knownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleTutor, RoleStudent:
		return true
	}
	return false
}

// RequireRole middleware checks if user has required role
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := GetClaims(c)
		if claims == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing user claims",
			})
		}
		if !hasRole(claims, roles...) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Insufficient permissions",
			})
		}
		return c.Next()
	}
}

// SweepAuth admits cron callers presenting the shared X-Sweep-Token and
// otherwise requires an admin bearer token.
func SweepAuth(secret, sweepToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if presented := c.Get("X-Sweep-Token"); presented != "" {
			if sweepToken != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(sweepToken)) == 1 {
				return c.Next()
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid sweep token",
			})
		}

		claims, err := parseBearer(c, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if !hasRole(claims, RoleAdmin) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Insufficient permissions",
			})
		}
		c.Locals("claims", claims)
		return c.Next()
	}
}

// GetClaims returns the verified claims, or nil outside authenticated routes.
func GetClaims(c *fiber.Ctx) *Claims {
	claims, _ := c.Locals("claims").(*Claims)
	return claims
}

func hasRole(claims *Claims, roles ...string) bool {
	if claims == nil {
		return false
	}
	for _, role := range roles {
		if claims.Role == role {
			return true
		}
	}
	return false
}

func IsStaff(claims *Claims) bool {
	return hasRole(claims, StaffRoles...)
}
