// Package plaid provides a client for interacting with the Plaid API.
package plaid

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

// DefaultLookback is how far back a fetch reaches when no range is given.
const DefaultLookback = 90 * 24 * time.Hour

// Config holds Plaid API configuration.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
	AccessToken string
	ClientName  string
	Countries   []string
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if err := c.validateCredentials(); err != nil {
		return err
	}
	if c.AccessToken == "" {
		return fmt.Errorf("plaid access token is required")
	}
	return nil
}

func (c *Config) validateCredentials() error {
	if c.ClientID == "" {
		return fmt.Errorf("plaid client ID is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("plaid secret is required")
	}
	if c.Environment == "" {
		return fmt.Errorf("plaid environment is required")
	}
	if c.Environment != "sandbox" && c.Environment != "production" {
		return fmt.Errorf("invalid Plaid environment: must be sandbox or production")
	}
	return nil
}

// Client implements service.TransactionFetcher on top of Plaid.
type Client struct {
	client      *plaid.APIClient
	logger      *slog.Logger
	retryOpts   *service.RetryOptions
	accessToken string
	environment string
	clientName  string
	countries   []plaid.CountryCode
}

// NewClient creates a new Plaid client. The access token may be empty while
// the Link flow has not completed yet.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validateCredentials(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)

	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	countries := make([]plaid.CountryCode, 0, len(cfg.Countries))
	for _, code := range cfg.Countries {
		countries = append(countries, plaid.CountryCode(strings.ToUpper(code)))
	}
	if len(countries) == 0 {
		countries = []plaid.CountryCode{plaid.COUNTRYCODE_US}
	}

	clientName := cfg.ClientName
	if clientName == "" {
		clientName = "Subscription Copilot"
	}

	return &Client{
		client:      plaid.NewAPIClient(configuration),
		accessToken: cfg.AccessToken,
		environment: cfg.Environment,
		clientName:  clientName,
		countries:   countries,
		logger:      slog.Default().With("component", "plaid"),
		retryOpts: &service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// WithAccessToken returns a copy of the client bound to another item.
func (c *Client) WithAccessToken(accessToken string) Linker {
	clone := *c
	clone.accessToken = accessToken
	return &clone
}

// GetTransactions fetches transactions from Plaid within the specified date range.
func (c *Client) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.RawTransaction, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	if startDate.After(endDate) {
		return nil, fmt.Errorf("start date must be before end date")
	}
	if c.accessToken == "" {
		return nil, fmt.Errorf("plaid: %w", common.ErrNotAuthenticated)
	}

	c.logger.Info("Fetching transactions from Plaid",
		"start_date", startDate.Format("2006-01-02"),
		"end_date", endDate.Format("2006-01-02"))

	var allTransactions []plaid.Transaction
	offset := int32(0)
	const pageSize = int32(500) // Plaid's max page size

	for {
		var page []plaid.Transaction

		retryErr := common.WithRetry(ctx, func() error {
			request := plaid.NewTransactionsGetRequest(
				c.accessToken,
				startDate.Format("2006-01-02"),
				endDate.Format("2006-01-02"),
			)
			request.SetOptions(plaid.TransactionsGetRequestOptions{
				Count:  plaid.PtrInt32(pageSize),
				Offset: plaid.PtrInt32(offset),
			})

			resp, _, err := c.client.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
			if err != nil {
				return c.classifyError(err, "failed to fetch transactions")
			}

			page = resp.GetTransactions()
			c.logger.Debug("Fetched transaction batch",
				"count", len(page),
				"offset", offset,
				"total", resp.GetTotalTransactions())
			return nil
		}, *c.retryOpts)
		if retryErr != nil {
			return nil, retryErr
		}

		allTransactions = append(allTransactions, page...)
		if len(page) < int(pageSize) {
			break
		}
		offset += pageSize
	}

	c.logger.Info("Fetched all transactions", "count", len(allTransactions))

	transactions := make([]model.RawTransaction, 0, len(allTransactions))
	for _, pt := range allTransactions {
		tx, err := mapPlaidTransaction(pt)
		if err != nil {
			c.logger.Warn("Skipping transaction", "id", pt.GetTransactionId(), "error", err)
			continue
		}
		transactions = append(transactions, tx)
	}
	return transactions, nil
}

// classifyError turns Plaid API errors into retryable or permanent errors.
func (c *Client) classifyError(err error, action string) error {
	plaidError := extractPlaidError(err)
	if plaidError == nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	switch plaidError.ErrorCode {
	case "RATE_LIMIT_EXCEEDED":
		c.logger.Warn("Rate limit hit, will retry", "error", plaidError.ErrorMessage)
		return &common.RetryableError{Err: fmt.Errorf("%w: %s", common.ErrRateLimit, plaidError.ErrorMessage), Retryable: true}
	case "ITEM_LOGIN_REQUIRED", "INVALID_ACCESS_TOKEN":
		return fmt.Errorf("plaid %s: %w", plaidError.ErrorCode, common.ErrSessionExpired)
	}
	return &common.RetryableError{
		Err:       fmt.Errorf("plaid API error: %s - %s", plaidError.ErrorCode, plaidError.ErrorMessage),
		Retryable: plaidError.ErrorType == "API_ERROR",
	}
}

// mapPlaidTransaction converts a Plaid transaction to a raw ledger entry.
// Plaid reports outflows as positive amounts, so the sign is flipped.
func mapPlaidTransaction(pt plaid.Transaction) (model.RawTransaction, error) {
	date, err := time.Parse("2006-01-02", pt.GetDate())
	if err != nil {
		return model.RawTransaction{}, fmt.Errorf("invalid date %q: %w", pt.GetDate(), err)
	}

	merchantName := pt.GetMerchantName()
	if merchantName == "" {
		merchantName = pt.GetName()
	}

	currency := pt.GetIsoCurrencyCode()
	if currency == "" {
		currency = pt.GetUnofficialCurrencyCode()
	}

	return model.RawTransaction{
		ID:               pt.GetTransactionId(),
		BookingDate:      date,
		Amount:           decimal.NewFromFloat(pt.GetAmount()).Neg(),
		Currency:         currency,
		CounterpartyName: cleanMerchantName(merchantName),
		CounterpartyMemo: pt.GetName(),
		AccountID:        pt.GetAccountId(),
	}, nil
}

var corporateSuffixes = []string{
	" Llc", " Inc", " Corp", " Corporation", " Company", " Co", " Ltd", " Limited", " Gmbh",
}

// cleanMerchantName standardizes merchant names by removing trailing
// transaction IDs and corporate suffixes.
func cleanMerchantName(name string) string {
	parts := strings.Fields(cases.Title(language.English).String(strings.ToLower(name)))

	// "MERCHANT 123456789": a long numeric tail is a transaction ID
	if len(parts) > 1 {
		last := parts[len(parts)-1]
		if len(last) > 5 && isAllDigits(last) {
			parts = parts[:len(parts)-1]
		}
	}
	name = strings.Join(parts, " ")

	changed := true
	for changed {
		changed = false
		for _, suffix := range corporateSuffixes {
			if strings.HasSuffix(name, suffix) {
				name = strings.TrimSuffix(name, suffix)
				changed = true
			}
		}
	}
	return strings.TrimSpace(name)
}

// isAllDigits checks if a string contains only digits.
func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// extractPlaidError attempts to extract a Plaid error from a generic error.
func extractPlaidError(err error) *plaid.PlaidError {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return nil
	}
	return &plaidErr
}

// CreateLinkToken creates a Link token for Plaid Link initialization.
func (c *Client) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		userID = "subs-user-" + time.Now().Format("20060102150405")
	}
	request := plaid.NewLinkTokenCreateRequest(
		c.clientName,
		"en",
		c.countries,
		plaid.LinkTokenCreateRequestUser{ClientUserId: userID},
	)
	request.SetProducts([]plaid.Products{plaid.PRODUCTS_TRANSACTIONS})

	resp, _, err := c.client.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*request).Execute()
	if err != nil {
		if plaidError := extractPlaidError(err); plaidError != nil {
			return "", fmt.Errorf("plaid API error: %s - %s", plaidError.ErrorCode, plaidError.ErrorMessage)
		}
		return "", fmt.Errorf("failed to create link token: %w", err)
	}
	return resp.GetLinkToken(), nil
}

// ExchangePublicToken exchanges a public token from Link for an access token.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	if publicToken == "" {
		return "", "", common.NewUserError("public token is required", nil)
	}
	request := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	resp, _, err := c.client.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*request).Execute()
	if err != nil {
		if plaidError := extractPlaidError(err); plaidError != nil {
			return "", "", fmt.Errorf("plaid API error: %s - %s", plaidError.ErrorCode, plaidError.ErrorMessage)
		}
		return "", "", fmt.Errorf("failed to exchange public token: %w", err)
	}
	return resp.GetAccessToken(), resp.GetItemId(), nil
}

var _ Linker = (*Client)(nil)
