package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Issuer is set on every operator token.
const Issuer = "dhworkers"

// Claims identify the operator calling the status API.
type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// Issue signs an HS256 token for operator valid for ttl from now.
func Issue(key []byte, operator string, ttl time.Duration, now time.Time) (string, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return "", errors.New("operator is required")
	}
	if len(key) == 0 {
		return "", errors.New("signing key is empty")
	}
	claims := &Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// JWT returns an Echo middleware that validates the Authorization header
// token, with or without a "Bearer " prefix, using key.
func JWT(key []byte) echo.MiddlewareFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := strings.TrimSpace(c.Request().Header.Get(echo.HeaderAuthorization))
			token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			claims := &Claims{}
			tkn, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			})
			switch {
			case errors.Is(err, jwt.ErrTokenSignatureInvalid):
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token signature")
			case errors.Is(err, jwt.ErrTokenExpired):
				return echo.NewHTTPError(http.StatusUnauthorized, "token expired")
			case err != nil:
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			case !tkn.Valid:
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set("operator", claims.Operator)
			return next(c)
		}
	}
}
