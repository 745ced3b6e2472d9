// Package gmail reads receipt candidates from a Gmail mailbox.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

// DefaultMaxMessages caps how many message IDs one search returns.
const DefaultMaxMessages = 500

const pageSize = 100

// Fetcher implements service.EmailFetcher over the Gmail API.
type Fetcher struct {
	svc         *gmail.Service
	logger      *slog.Logger
	query       string
	retryOpts   service.RetryOptions
	maxMessages int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithQuery sets the search query.
func WithQuery(q string) Option {
	return func(f *Fetcher) { f.query = q }
}

// WithMaxMessages caps the number of IDs returned by SearchMessages.
func WithMaxMessages(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxMessages = n
		}
	}
}

// WithRetryOptions overrides the retry policy.
func WithRetryOptions(opts service.RetryOptions) Option {
	return func(f *Fetcher) { f.retryOpts = opts }
}

// NewFetcher creates a fetcher authorized with token. The token source
// refreshes expired access tokens transparently.
func NewFetcher(ctx context.Context, cfg OAuthConfig, token *oauth2.Token, opts ...Option) (*Fetcher, error) {
	if token == nil {
		return nil, fmt.Errorf("gmail: %w", common.ErrNotAuthenticated)
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(cfg.Config().TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return NewFetcherWithService(svc, opts...), nil
}

// NewFetcherWithService wraps an existing service.
func NewFetcherWithService(svc *gmail.Service, opts ...Option) *Fetcher {
	f := &Fetcher{
		svc:         svc,
		logger:      slog.Default().With("component", "gmail"),
		maxMessages: DefaultMaxMessages,
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SearchMessages lists message IDs matching the query, following pages
// until the cap is reached.
func (f *Fetcher) SearchMessages(ctx context.Context) ([]string, error) {
	var ids []string
	pageToken := ""

	for len(ids) < f.maxMessages {
		var resp *gmail.ListMessagesResponse
		err := common.WithRetry(ctx, func() error {
			call := f.svc.Users.Messages.List("me").
				Q(f.query).
				MaxResults(int64(min(pageSize, f.maxMessages-len(ids)))).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var callErr error
			resp, callErr = call.Do()
			return classifyError(callErr)
		}, f.retryOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to search messages: %w", err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		f.logger.Debug("Fetched message page", "count", len(resp.Messages), "total", len(ids))

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(ids) > f.maxMessages {
		ids = ids[:f.maxMessages]
	}
	return ids, nil
}

// GetMessage fetches one message in full format.
func (f *Fetcher) GetMessage(ctx context.Context, id string) (*model.RawEmail, error) {
	var msg *gmail.Message
	err := common.WithRetry(ctx, func() error {
		var callErr error
		msg, callErr = f.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return classifyError(callErr)
	}, f.retryOpts)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", id, err)
	}
	return convertMessage(msg), nil
}

// Profile returns the mailbox address.
func (f *Fetcher) Profile(ctx context.Context) (string, error) {
	var profile *gmail.Profile
	err := common.WithRetry(ctx, func() error {
		var callErr error
		profile, callErr = f.svc.Users.GetProfile("me").Context(ctx).Do()
		return classifyError(callErr)
	}, f.retryOpts)
	if err != nil {
		return "", fmt.Errorf("failed to read profile: %w", err)
	}
	return profile.EmailAddress, nil
}

// classifyError maps API failures onto the retry and auth sentinels.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var oauthErr *oauth2.RetrieveError
	if errors.As(err, &oauthErr) {
		return fmt.Errorf("%w: %w", common.ErrSessionExpired, err)
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return &common.RetryableError{Err: err, Retryable: true}
	}
	switch {
	case apiErr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", common.ErrSessionExpired, err)
	case apiErr.Code == http.StatusNotFound:
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrNotFound, err)}
	case apiErr.Code == http.StatusTooManyRequests:
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrRateLimit, err), Retryable: true}
	case apiErr.Code == http.StatusForbidden && isRateLimitReason(apiErr):
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrRateLimit, err), Retryable: true}
	case apiErr.Code >= 500:
		return &common.RetryableError{Err: err, Retryable: true}
	default:
		return &common.RetryableError{Err: err}
	}
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

var _ service.EmailFetcher = (*Fetcher)(nil)
