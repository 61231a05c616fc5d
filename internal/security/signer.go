package security

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"authsvc/internal/clock"
)

var (
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrNotYetValid      = errors.New("token not yet valid")
	ErrMalformed        = errors.New("malformed token")
)

var signingMethods = map[string]jwt.SigningMethod{
	jwt.SigningMethodHS256.Alg(): jwt.SigningMethodHS256,
	jwt.SigningMethodHS384.Alg(): jwt.SigningMethodHS384,
	jwt.SigningMethodHS512.Alg(): jwt.SigningMethodHS512,
}

func SupportedAlgorithm(alg string) bool {
	_, ok := signingMethods[alg]
	return ok
}

// Signer signs payloads with the primary secret and verifies with the
// primary secret first, then the previous one while a rotation is in
// progress.
type Signer struct {
	method   jwt.SigningMethod
	primary  []byte
	previous []byte
	clock    clock.Clock
}

func NewSigner(algorithm, secret, previousSecret string, clk clock.Clock) (*Signer, error) {
	method, ok := signingMethods[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	if clk == nil {
		clk = clock.System()
	}
	s := &Signer{
		method:  method,
		primary: []byte(secret),
		clock:   clk,
	}
	if previousSecret != "" {
		s.previous = []byte(previousSecret)
	}
	return s, nil
}

func (s *Signer) Algorithm() string {
	return s.method.Alg()
}

func (s *Signer) Sign(payload jwt.MapClaims) (string, error) {
	signed, err := jwt.NewWithClaims(s.method, payload).SignedString(s.primary)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// Verify returns the payload of a token signed with either secret.
// Expiry and not-before are checked against the signer's clock.
func (s *Signer) Verify(token string) (jwt.MapClaims, error) {
	payload, err := s.verifyWith(token, s.primary)
	if errors.Is(err, ErrInvalidSignature) && s.previous != nil {
		return s.verifyWith(token, s.previous)
	}
	return payload, err
}

func (s *Signer) verifyWith(token string, secret []byte) (jwt.MapClaims, error) {
	payload := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, payload,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, classify(err)
	}
	if err := s.checkWindow(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// checkWindow compares whole seconds: a token is expired only once now is
// past exp, and not yet valid while now is before nbf.
func (s *Signer) checkWindow(payload jwt.MapClaims) error {
	now := s.clock.Now().Unix()

	exp, err := payload.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("%w: missing or invalid exp", ErrMalformed)
	}
	if now > exp.Unix() {
		return ErrExpired
	}

	nbf, err := payload.GetNotBefore()
	if err != nil {
		return fmt.Errorf("%w: invalid nbf", ErrMalformed)
	}
	if nbf != nil && now < nbf.Unix() {
		return ErrNotYetValid
	}
	return nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
