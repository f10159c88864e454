package db

import (
	"context"
	"errors"
	"time"

	"otp-validator/pkg/models"
)

var (
	ErrTokenNotFound     = errors.New("token binding not found")
	ErrTokenBoundToOther = errors.New("token is bound to another user")
)

// Store is the persistence used by the gateway.
type Store interface {
	BindToken(ctx context.Context, binding *models.TokenBinding) error
	GetTokenBinding(ctx context.Context, identity string) (*models.TokenBinding, error)
	ListTokensForUser(ctx context.Context, username string) ([]models.TokenBinding, error)
	UnbindToken(ctx context.Context, identity string) error

	SaveVerification(ctx context.Context, record *models.VerificationRecord) error
	ListVerifications(ctx context.Context, identity string, limit int) ([]models.VerificationRecord, error)

	HasSeenNonce(nonce string) (bool, error)
	SaveNonce(nonce string) error
	CleanupOldNonces(olderThan time.Time) error

	Ping(ctx context.Context) error
	Close() error
}

// NewDatabase creates the default Store implementation at dbPath.
func NewDatabase(dbPath string) (Store, error) {
	return NewGatewayDB(dbPath)
}

// Ensure GatewayDB implements Store interface
var _ Store = (*GatewayDB)(nil)
