package plaid

import (
	"context"

	"github.com/Veraticus/subscription-copilot/internal/service"
)

// Linker is the Plaid surface used by the HTTP boundary: the Link handshake
// plus the transaction fetch that feeds the grouper.
type Linker interface {
	service.TransactionFetcher
	CreateLinkToken(ctx context.Context, userID string) (string, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (accessToken, itemID string, err error)
	WithAccessToken(accessToken string) Linker
}
