// Package nordigen fetches bank transactions through the GoCardless Bank
// Account Data API (formerly Nordigen).
package nordigen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://bankaccountdata.gocardless.com"

// tokenSkew renews the access token before the server would reject it.
const tokenSkew = 30 * time.Second

// Config holds the API credentials.
type Config struct {
	SecretID      string
	SecretKey     string
	BaseURL       string
	RequisitionID string
	RedirectURL   string
}

// Validate ensures credentials are present.
func (c *Config) Validate() error {
	if c.SecretID == "" || c.SecretKey == "" {
		return fmt.Errorf("nordigen secret id and key: %w", common.ErrMissingConfig)
	}
	return nil
}

// Client talks to the API with rate limiting and retries.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
	token      accessToken
	cfg        Config
	retryOpts  service.RetryOptions
	mu         sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

// WithRateLimit sets requests per second and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(client *Client) { client.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithRetryOptions overrides the retry policy.
func WithRetryOptions(opts service.RetryOptions) Option {
	return func(client *Client) { client.retryOpts = opts }
}

// NewClient creates an API client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 4),
		logger:     slog.Default().With("component", "nordigen"),
		now:        time.Now,
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

// ForRequisition returns a fetcher bound to another requisition.
func (c *Client) ForRequisition(requisitionID string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Client{
		cfg:        Config{SecretID: c.cfg.SecretID, SecretKey: c.cfg.SecretKey, BaseURL: c.cfg.BaseURL, RedirectURL: c.cfg.RedirectURL, RequisitionID: requisitionID},
		httpClient: c.httpClient,
		limiter:    c.limiter,
		logger:     c.logger,
		now:        c.now,
		retryOpts:  c.retryOpts,
		token:      c.token,
	}
}

// Institutions lists banks available in a country.
func (c *Client) Institutions(ctx context.Context, country string) ([]Institution, error) {
	q := url.Values{"country": {strings.ToUpper(country)}}
	var out []Institution
	if err := c.do(ctx, http.MethodGet, "/api/v2/institutions/?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Requisition looks up a requisition and its account IDs.
func (c *Client) Requisition(ctx context.Context, id string) (*Requisition, error) {
	if id == "" {
		return nil, fmt.Errorf("nordigen requisition id: %w", common.ErrMissingConfig)
	}
	var out Requisition
	if err := c.do(ctx, http.MethodGet, "/api/v2/requisitions/"+url.PathEscape(id)+"/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitBankConnection creates a requisition at the first institution of the
// country (or the given institution) and returns the consent link.
func (c *Client) InitBankConnection(ctx context.Context, reference, country, institutionID string) (*Connection, error) {
	if country == "" {
		country = "DE"
	}
	institutions, err := c.Institutions(ctx, country)
	if err != nil {
		return nil, err
	}
	if len(institutions) == 0 {
		return nil, common.NewUserError(fmt.Sprintf("no banks available for country: %s", country), common.ErrNotFound)
	}
	if institutionID == "" {
		institutionID = institutions[0].ID
	}

	var req Requisition
	body := requisitionRequest{
		Redirect:      c.cfg.RedirectURL,
		InstitutionID: institutionID,
		Reference:     reference,
	}
	if err := c.do(ctx, http.MethodPost, "/api/v2/requisitions/", body, &req); err != nil {
		return nil, err
	}

	if len(institutions) > 10 {
		institutions = institutions[:10]
	}
	return &Connection{Link: req.Link, RequisitionID: req.ID, Institutions: institutions}, nil
}

// GetTransactions returns booked transactions for every account of the
// configured requisition.
func (c *Client) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.RawTransaction, error) {
	req, err := c.Requisition(ctx, c.cfg.RequisitionID)
	if err != nil {
		return nil, err
	}
	if len(req.Accounts) == 0 {
		return nil, common.NewUserError("no accounts found for requisition", common.ErrNotFound)
	}

	q := url.Values{}
	if !startDate.IsZero() {
		q.Set("date_from", startDate.Format("2006-01-02"))
	}
	if !endDate.IsZero() {
		q.Set("date_to", endDate.Format("2006-01-02"))
	}

	var out []model.RawTransaction
	for _, accountID := range req.Accounts {
		var resp transactionsResponse
		path := "/api/v2/accounts/" + url.PathEscape(accountID) + "/transactions/"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("account %s: %w", accountID, err)
		}
		for _, bt := range resp.Transactions.Booked {
			tx, convErr := convertTransaction(bt, accountID)
			if convErr != nil {
				c.logger.Warn("Skipping transaction", "account", accountID, "error", convErr)
				continue
			}
			out = append(out, tx)
		}
	}

	c.logger.Info("Fetched transactions", "count", len(out), "accounts", len(req.Accounts))
	return out, nil
}

func convertTransaction(bt bookedTransaction, accountID string) (model.RawTransaction, error) {
	dateStr := bt.BookingDate
	if dateStr == "" {
		dateStr = bt.ValueDate
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return model.RawTransaction{}, fmt.Errorf("invalid booking date %q: %w", dateStr, err)
	}
	amount, err := decimal.NewFromString(bt.TransactionAmount.Amount)
	if err != nil {
		return model.RawTransaction{}, fmt.Errorf("invalid amount %q: %w", bt.TransactionAmount.Amount, err)
	}

	memo := bt.RemittanceInformationUnstructured
	if memo == "" && len(bt.RemittanceInformationArray) > 0 {
		memo = strings.Join(bt.RemittanceInformationArray, " ")
	}
	id := bt.TransactionID
	if id == "" {
		id = bt.InternalID
	}

	return model.RawTransaction{
		ID:               id,
		BookingDate:      date,
		Amount:           amount,
		Currency:         bt.TransactionAmount.Currency,
		CounterpartyName: bt.CreditorName,
		CounterpartyMemo: memo,
		AccountID:        accountID,
	}, nil
}

// do performs an authenticated JSON request under the rate limiter and retry policy.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return common.WithRetry(ctx, func() error {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		err = c.send(ctx, method, path, token, body, out)

		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
			// Token revoked early; drop it so the next attempt renews
			c.mu.Lock()
			c.token = accessToken{}
			c.mu.Unlock()
			return &common.RetryableError{Err: err, Retryable: true}
		}
		return err
	}, c.retryOpts)
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token.valid(now) {
		return c.token.value, nil
	}

	var resp tokenResponse
	req := tokenRequest{SecretID: c.cfg.SecretID, SecretKey: c.cfg.SecretKey}
	if err := c.send(ctx, http.MethodPost, "/api/v2/token/new/", "", req, &resp); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
			return "", fmt.Errorf("nordigen credentials rejected: %w", common.ErrNotAuthenticated)
		}
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	c.token = accessToken{
		value:   resp.Access,
		expires: now.Add(time.Duration(resp.AccessExpires)*time.Second - tokenSkew),
	}
	c.logger.Debug("Generated access token", "expires_in", resp.AccessExpires)
	return c.token.value, nil
}

// send issues one HTTP request. Server and throttling failures are retryable.
func (c *Client) send(ctx context.Context, method, path, token string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &common.RetryableError{Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return &common.RetryableError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &common.RetryableError{Err: fmt.Errorf("request failed: %w", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrRateLimit, statusErr), Retryable: true}
		case resp.StatusCode >= 500:
			return &common.RetryableError{Err: statusErr, Retryable: true}
		case resp.StatusCode == http.StatusNotFound:
			return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrNotFound, statusErr)}
		case resp.StatusCode == http.StatusUnauthorized:
			return statusErr
		default:
			return &common.RetryableError{Err: statusErr}
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &common.RetryableError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

var _ service.TransactionFetcher = (*Client)(nil)
