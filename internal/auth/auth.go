package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoToken      = errors.New("no bearer token in request")
	ErrNoUserID     = errors.New("no user id claim in token")
)

// Verifier validates HMAC-signed bearer tokens issued by the auth service.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token string and returns its claims.
func (v *Verifier) Verify(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractBearerToken pulls the credential from an upgrade request, checking in
// order: the Sec-WebSocket-Protocol auth slot ("bearer, <token>" - the only
// place a browser WebSocket client can carry an auth payload), the
// Authorization header, and finally the token query parameter.
func ExtractBearerToken(r *http.Request) (string, error) {
	if proto := r.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		parts := strings.Split(proto, ",")
		for i := 0; i < len(parts)-1; i++ {
			if strings.TrimSpace(parts[i]) == "bearer" {
				if token := strings.TrimSpace(parts[i+1]); token != "" {
					return token, nil
				}
			}
		}
	}

	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		if token := strings.TrimPrefix(authHeader, "Bearer "); token != "" {
			return token, nil
		}
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	return "", ErrNoToken
}

// ExtractUserID resolves the user identifier from one of the claim shapes
// issued across the platform, first non-empty wins:
//
//	{ "userId": "..." }
//	{ "sub": "..." }
//	{ "_id": "..." }
//	{ "user": { "_id": "..." } }
func ExtractUserID(claims jwt.MapClaims) (string, error) {
	if id := stringClaim(claims, "userId"); id != "" {
		return id, nil
	}
	if id := stringClaim(claims, "sub"); id != "" {
		return id, nil
	}
	if id := stringClaim(claims, "_id"); id != "" {
		return id, nil
	}
	if user, ok := claims["user"].(map[string]interface{}); ok {
		if id, ok := user["_id"].(string); ok && id != "" {
			return id, nil
		}
	}
	return "", ErrNoUserID
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if value, ok := claims[key].(string); ok {
		return value
	}
	return ""
}
