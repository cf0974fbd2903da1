package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kkkkikiki/fomo/internal/model"
)

// TokenRepository handles verification token operations
type TokenRepository struct{}

// NewTokenRepository creates a new token repository
func NewTokenRepository() *TokenRepository {
	return &TokenRepository{}
}

// InsertToken stores a verification token hash
func (r *TokenRepository) InsertToken(ctx context.Context, db DBExecutor, token *model.VerificationToken) error {
	query := `
		INSERT INTO verification_tokens (token_hash, claim_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`

	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, query, token.TokenHash, token.ClaimID, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert verification token: %w", err)
	}
	return nil
}

// GetToken looks a token up by its hash
func (r *TokenRepository) GetToken(ctx context.Context, db DBExecutor, tokenHash string) (*model.VerificationToken, error) {
	query := `
		SELECT token_hash, claim_id, expires_at, consumed_at, created_at
		FROM verification_tokens
		WHERE token_hash = $1
	`
	return r.getToken(ctx, db, query, tokenHash)
}

// GetTokenForUpdate looks a token up by its hash and locks its row
func (r *TokenRepository) GetTokenForUpdate(ctx context.Context, db DBExecutor, tokenHash string) (*model.VerificationToken, error) {
	query := `
		SELECT token_hash, claim_id, expires_at, consumed_at, created_at
		FROM verification_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`
	return r.getToken(ctx, db, query, tokenHash)
}

func (r *TokenRepository) getToken(ctx context.Context, db DBExecutor, query, tokenHash string) (*model.VerificationToken, error) {
	var token model.VerificationToken
	if err := db.GetContext(ctx, &token, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get verification token: %w", err)
	}
	return &token, nil
}

// ConsumeToken marks a token as used. ErrConflict means it was already used.
func (r *TokenRepository) ConsumeToken(ctx context.Context, db DBExecutor, tokenHash string, at time.Time) error {
	query := `
		UPDATE verification_tokens
		SET consumed_at = $2
		WHERE token_hash = $1 AND consumed_at IS NULL
	`

	result, err := db.ExecContext(ctx, query, tokenHash, at)
	if err != nil {
		return fmt.Errorf("failed to consume verification token: %w", err)
	}
	return expectOneRow(result)
}

// DeleteStaleTokens removes tokens consumed or expired before cutoff
func (r *TokenRepository) DeleteStaleTokens(ctx context.Context, db DBExecutor, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM verification_tokens
		WHERE (consumed_at IS NOT NULL AND consumed_at < $1)
			OR (consumed_at IS NULL AND expires_at < $1)
	`

	result, err := db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}
