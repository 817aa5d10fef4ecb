package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Claims struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role,omitempty"`
	OrgID       uuid.UUID `json:"org_id"`
	jwt.RegisteredClaims
}

// DeviceClaims authenticate an enrolled agent.
type DeviceClaims struct {
	DeviceID uuid.UUID `json:"device_id"`
	OrgID    uuid.UUID `json:"org_id"`
	jwt.RegisteredClaims
}

func GenerateTokens(username, secret, displayName, role string, orgID uuid.UUID) (string, string, error) {
	// Access token (15 min)
	accessClaims := &Claims{
		Username:    username,
		DisplayName: displayName,
		Role:        role,
		OrgID:       orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString([]byte(secret))
	if err != nil {
		return "", "", err
	}

	// Refresh token (7 days)
	refreshClaims := &Claims{
		Username:    username,
		DisplayName: displayName,
		Role:        role,
		OrgID:       orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(7 * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString([]byte(secret))
	if err != nil {
		return "", "", err
	}

	return access, refresh, nil
}

// GenerateDeviceToken mints a long-lived token for an enrolled agent.
func GenerateDeviceToken(deviceID, orgID uuid.UUID, secret string) (string, error) {
	claims := &DeviceClaims{
		DeviceID: deviceID,
		OrgID:    orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(365 * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	auth := c.Get("Authorization")
	if auth == "" {
		// WebSocket clients cannot always set headers; allow a query fallback.
		if t := c.Query("token"); t != "" {
			return t, true
		}
		return "", false
	}
	tokenStr := strings.TrimPrefix(auth, "Bearer ")
	if tokenStr == auth {
		return "", false
	}
	return tokenStr, true
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}

func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr, ok := bearerToken(c)
		if !ok {
			return unauthorized(c, "Missing or malformed authorization header")
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals("username", claims.Username)
		c.Locals("display_name", claims.DisplayName)
		c.Locals("role", claims.Role)
		c.Locals("org_id", claims.OrgID)
		return c.Next()
	}
}

// AgentProtected authenticates device tokens minted at enrollment.
func AgentProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr, ok := bearerToken(c)
		if !ok {
			return unauthorized(c, "Missing or malformed authorization header")
		}

		claims := &DeviceClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return unauthorized(c, "Invalid or expired device token")
		}

		c.Locals("device_id", claims.DeviceID)
		c.Locals("org_id", claims.OrgID)
		return c.Next()
	}
}

// OrgID extracts the tenant scope set by JWTProtected/AgentProtected.
func OrgID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals("org_id").(uuid.UUID)
	return id
}

// DeviceID extracts the device scope set by AgentProtected.
func DeviceID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals("device_id").(uuid.UUID)
	return id
}
