package services

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/clinovia/labpipe/internal/core"
	"github.com/clinovia/labpipe/internal/models"
)

var ErrInvalidToken = errors.New("invalid upload token")

// TokenService validates quick-upload bearer tokens. A token is
// "<token_id>.<secret>"; the stored record keeps a bcrypt hash of the
// secret and a usage counter bumped on every accepted request.
type TokenService struct {
	db core.DbClient
}

func NewTokenService(db core.DbClient) *TokenService {
	return &TokenService{db: db}
}

func (s *TokenService) Validate(ctx context.Context, token string) (*models.UploadToken, error) {
	id, secret, ok := strings.Cut(token, ".")
	if !ok || id == "" || secret == "" {
		return nil, ErrInvalidToken
	}

	rec, err := s.db.GetUploadToken(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrInvalidToken
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.TokenHash), []byte(secret)) != nil {
		return nil, ErrInvalidToken
	}

	if err := s.db.IncrementUploadTokenUsage(ctx, rec.ID); err != nil {
		return nil, err
	}
	rec.UsageCount++
	return rec, nil
}
