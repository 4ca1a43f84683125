package session

//go:generate mockgen -source=acquirer.go -destination=acquirer_mock_test.go -package=session

import (
	"context"

	"github.com/alexjbarnes/reddit-broker/internal/models"
)

// Acquirer obtains raw tokens from the authorization server. It is
// satisfied by *reddit.Client and *reddit.Retrying.
type Acquirer interface {
	ExchangeCode(ctx context.Context, code string) (*models.RawToken, error)
	Refresh(ctx context.Context, refreshToken string) (*models.RawToken, error)
	Anonymous(ctx context.Context) (*models.RawToken, error)
}
