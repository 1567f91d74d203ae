package authn

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

// MinSecretLen is the shortest HMAC key NewIssuer accepts.
const MinSecretLen = 32

var ErrInvalidToken = errors.New("invalid or expired token")

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, issuer string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < MinSecretLen {
		return nil, xerrors.Newf("jwt secret must be at least %d bytes (got %d)", MinSecretLen, len(secret))
	}
	if ttl <= 0 {
		return nil, xerrors.New("jwt ttl must be positive")
	}
	return &Issuer{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for userID valid for the issuer's TTL.
func (i *Issuer) Issue(userID uuid.UUID, role string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, xerrors.Wrap(err, "sign token")
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer and expiry and returns the
// principal the token names. Every failure wraps ErrInvalidToken.
func (i *Issuer) Verify(raw string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Principal{}, xerrors.Wrap(errors.Join(ErrInvalidToken, err), "verify token")
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, xerrors.Wrap(errors.Join(ErrInvalidToken, err), "token subject")
	}
	return Principal{UserID: id, Role: claims.Role}, nil
}
