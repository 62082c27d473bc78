package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// TokenUsecase выпускает и проверяет токены доступа к релею. Subject токена -
// id участника.
type TokenUsecase interface {
	Issue(peerID uuid.UUID, ttl time.Duration) (string, error)
	Parse(token string) (uuid.UUID, error)
}

type tokenUsecase struct {
	jwtSecret []byte
}

func NewTokenUsecase(jwtSecret []byte) TokenUsecase {
	return &tokenUsecase{jwtSecret: jwtSecret}
}

func (uc *tokenUsecase) Issue(peerID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := &jwt.RegisteredClaims{
		Subject:   peerID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

func (uc *tokenUsecase) Parse(raw string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(
		raw,
		&jwt.RegisteredClaims{},
		func(token *jwt.Token) (any, error) {
			return uc.jwtSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	peerID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject: %w", ErrInvalidToken, err)
	}

	return peerID, nil
}
