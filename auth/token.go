package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/tcriess/lightspeed-sync/config"
	"github.com/tcriess/lightspeed-sync/types"
)

var (
	ErrMissingToken    = errors.New("no token supplied")
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token expired")
	ErrRoomMismatch    = errors.New("token not valid for this room")
	ErrMalformedTarget = errors.New("malformed target identifier")
)

// tokenClaims are the JWT claims of a room token.
type tokenClaims struct {
	UserId string     `json:"user_id"`
	RoomId string     `json:"room_id"`
	Role   types.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies stateless signed room credentials. A token
// binds a user id, a room id and a role for a fixed validity window; there is
// no revocation before expiry, that is a documented property of the stateless
// design.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

func NewAuthenticator(cfg config.AuthConfig) (*Authenticator, error) {
	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("no token secret configured")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Authenticator{secret: []byte(cfg.TokenSecret), ttl: ttl}, nil
}

// Issue creates a signed token for the given identity. The role is trusted as
// supplied, authorizing it against the room is the caller's job.
func (a *Authenticator) Issue(userId, roomId string, role types.Role) (string, time.Time, error) {
	expiry := time.Now().Add(a.ttl)
	claims := tokenClaims{
		UserId: userId,
		RoomId: roomId,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("could not sign token: %w", err)
	}
	return signed, expiry, nil
}

// Verify checks the signature and expiry of a token and returns the identity
// it carries.
func (a *Authenticator) Verify(tokenStr string) (*types.Identity, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	claims := tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		var validationError *jwt.ValidationError
		if errors.As(err, &validationError) && validationError.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.UserId == "" || claims.RoomId == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return &types.Identity{UserId: claims.UserId, RoomId: claims.RoomId, Role: claims.Role}, nil
}

// AuthorizeForTarget verifies the token and additionally checks that it is
// bound to the room the target identifier belongs to.
func (a *Authenticator) AuthorizeForTarget(tokenStr, target string) (*types.Identity, error) {
	identity, err := a.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	roomId, err := RoomIdFromTarget(target)
	if err != nil {
		return nil, err
	}
	if roomId != identity.RoomId {
		return nil, ErrRoomMismatch
	}
	return identity, nil
}

// RoomIdFromTarget extracts the room id from a document identifier of the form
// room:<roomId>:<suffix>.
func RoomIdFromTarget(target string) (string, error) {
	parts := strings.SplitN(target, ":", 3)
	if len(parts) != 3 || parts[0] != "room" || parts[1] == "" {
		return "", ErrMalformedTarget
	}
	return parts[1], nil
}
