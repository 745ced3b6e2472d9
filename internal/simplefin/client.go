// Package simplefin fetches bank transactions through a SimpleFIN bridge.
package simplefin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

// Client implements service.TransactionFetcher for SimpleFIN.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	retryOpts  service.RetryOptions
	accessURL  string
}

type accountSet struct {
	Errors   []string  `json:"errors"`
	Accounts []account `json:"accounts"`
}

type account struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Currency     string        `json:"currency"`
	Transactions []transaction `json:"transactions"`
}

type transaction struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Payee       string `json:"payee"`
	Memo        string `json:"memo"`
	Posted      int64  `json:"posted"`
	Pending     bool   `json:"pending"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

// WithRetryOptions overrides the retry policy.
func WithRetryOptions(opts service.RetryOptions) Option {
	return func(client *Client) { client.retryOpts = opts }
}

// NewClient creates a client for an already claimed access URL.
func NewClient(accessURL string, opts ...Option) (*Client, error) {
	if !isHTTPURL(accessURL) {
		return nil, fmt.Errorf("simplefin access URL: %w", common.ErrInvalidConfig)
	}
	c := &Client{
		accessURL:  accessURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default().With("component", "simplefin"),
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewClientFromToken loads saved auth from statePath or claims the setup token.
func NewClientFromToken(ctx context.Context, token, statePath string, opts ...Option) (*Client, error) {
	base := &Client{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(base)
	}
	auth, err := LoadOrClaimAuth(ctx, base.httpClient, token, statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load/claim auth: %w", err)
	}
	return NewClient(auth.AccessURL, opts...)
}

// GetTransactions fetches posted transactions for every account.
func (c *Client) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.RawTransaction, error) {
	u, err := url.Parse(c.accessURL + "/accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("start-date", strconv.FormatInt(startDate.Unix(), 10))
	// end-date is exclusive
	q.Set("end-date", strconv.FormatInt(endDate.AddDate(0, 0, 1).Unix(), 10))
	u.RawQuery = q.Encode()

	c.logger.Debug("Requesting SimpleFIN transactions",
		"start_date", startDate.Format("2006-01-02"),
		"end_date", endDate.Format("2006-01-02"))

	var set accountSet
	err = common.WithRetry(ctx, func() error {
		return c.getJSON(ctx, u.String(), &set)
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}
	for _, msg := range set.Errors {
		c.logger.Warn("SimpleFIN reported an error", "message", msg)
	}

	var transactions []model.RawTransaction
	for _, acct := range set.Accounts {
		for _, tx := range acct.Transactions {
			if tx.Pending {
				continue
			}

			date := time.Unix(tx.Posted, 0).UTC()
			if date.Before(startDate) || date.After(endDate) {
				continue
			}

			amount, err := decimal.NewFromString(tx.Amount)
			if err != nil {
				return nil, fmt.Errorf("failed to parse amount %q: %w", tx.Amount, err)
			}

			transactions = append(transactions, model.RawTransaction{
				ID:               acct.ID + "_" + tx.ID,
				BookingDate:      date,
				Amount:           amount,
				Currency:         acct.Currency,
				CounterpartyName: tx.Payee,
				CounterpartyMemo: firstNonEmpty(tx.Description, tx.Memo),
				AccountID:        acct.ID,
			})
		}
	}

	c.logger.Info("Fetched SimpleFIN transactions", "count", len(transactions), "accounts", len(set.Accounts))
	return transactions, nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &common.RetryableError{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &common.RetryableError{Err: fmt.Errorf("failed to fetch data: %w", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("simplefin: %w", common.ErrSessionExpired)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &common.RetryableError{Err: common.ErrRateLimit, Retryable: true}
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return &common.RetryableError{Err: fmt.Errorf("SimpleFIN API error: %d - %s", resp.StatusCode, string(body)), Retryable: true}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return &common.RetryableError{Err: fmt.Errorf("SimpleFIN API error: %d - %s", resp.StatusCode, string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &common.RetryableError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ service.TransactionFetcher = (*Client)(nil)
