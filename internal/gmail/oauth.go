package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"

	"github.com/Veraticus/subscription-copilot/internal/common"
)

// OAuthConfig holds the OAuth client credentials.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenFile    string // Where the CLI saves its token
}

// Validate ensures the client credentials are present.
func (c OAuthConfig) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("gmail client id and secret: %w", common.ErrMissingConfig)
	}
	if c.RedirectURL != "" {
		return callbackURL(c.RedirectURL)
	}
	return nil
}

// Config returns the oauth2 configuration with read-only mail scope.
func (c OAuthConfig) Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  c.RedirectURL,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}
}

// AuthURL returns the consent URL. state is echoed back on the callback.
func (c OAuthConfig) AuthURL(state string) string {
	return c.Config().AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token.
func (c OAuthConfig) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := c.Config().Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

// EncodeToken serializes a token for storage.
func EncodeToken(token *oauth2.Token) (string, error) {
	data, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("failed to encode token: %w", err)
	}
	return string(data), nil
}

// DecodeToken parses a stored token.
func DecodeToken(s string) (*oauth2.Token, error) {
	if s == "" {
		return nil, fmt.Errorf("empty token: %w", common.ErrNotAuthenticated)
	}
	token := &oauth2.Token{}
	if err := json.Unmarshal([]byte(s), token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return token, nil
}

// LoadToken loads a token from file.
func LoadToken(tokenFile string) (*oauth2.Token, error) {
	data, err := os.ReadFile(tokenFile) // #nosec G304
	if err != nil {
		return nil, err
	}
	return DecodeToken(string(data))
}

// SaveToken writes a token file readable only by the owner.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := EncodeToken(token)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// AuthenticateInteractive runs the consent flow with a loopback callback
// server and returns the token. The browser step is printed through log.
func AuthenticateInteractive(ctx context.Context, cfg OAuthConfig, log func(url string)) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}
	cfg.RedirectURL = "http://" + listener.Addr().String() + "/callback"
	state := fmt.Sprintf("subs-%d", time.Now().UnixNano())

	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			errorChan <- errors.New("state mismatch in OAuth callback")
			http.Error(w, "Authentication failed", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errorChan <- errors.New("no authorization code received")
			http.Error(w, "Authentication failed: no authorization code received", http.StatusBadRequest)
			return
		}
		codeChan <- code
		_, _ = fmt.Fprint(w, `<html><body><h1>Gmail connected</h1><p>You can close this window and return to the terminal.</p></body></html>`)
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errorChan <- fmt.Errorf("callback server failed: %w", serveErr)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Warn("Error shutting down callback server", "error", shutdownErr)
		}
	}()

	log(cfg.AuthURL(state))

	var code string
	select {
	case code = <-codeChan:
	case err := <-errorChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, errors.New("authentication timeout: no response received within 5 minutes")
	}

	return cfg.Exchange(ctx, code)
}

// GetOrCreateToken loads the CLI token file or runs the interactive flow and saves the result.
func GetOrCreateToken(ctx context.Context, cfg OAuthConfig, log func(url string)) (*oauth2.Token, error) {
	if cfg.TokenFile != "" {
		if token, err := LoadToken(cfg.TokenFile); err == nil {
			slog.Debug("Loaded existing Gmail token", "file", cfg.TokenFile)
			return token, nil
		}
	}

	token, err := AuthenticateInteractive(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if cfg.TokenFile != "" {
		if err := SaveToken(cfg.TokenFile, token); err != nil {
			slog.Warn("Failed to save token to file", "error", err, "file", cfg.TokenFile)
		}
	}
	return token, nil
}

// callbackURL validates that a redirect URL is absolute.
func callbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gmail redirect url %q: %w", raw, common.ErrInvalidConfig)
	}
	return nil
}
