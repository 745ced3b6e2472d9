package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/Veraticus/subscription-copilot/internal/certs"
	"github.com/Veraticus/subscription-copilot/internal/cli"
	"github.com/Veraticus/subscription-copilot/internal/config"
	"github.com/Veraticus/subscription-copilot/internal/plaid"
)

const plaidLinkAddr = "localhost:8080"

var linkPage = template.Must(template.New("link").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Connect your bank - subs</title>
    <script src="https://cdn.plaid.com/link/v2/stable/link-initialize.js"></script>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background-color: #f5f5f5; }
        .container { text-align: center; background: white; padding: 40px; border-radius: 8px;
                     box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
        button { background-color: #7C6FF0; color: white; padding: 12px 24px;
                 font-size: 16px; border: none; border-radius: 4px; cursor: pointer; }
        .error { color: #d32f2f; margin-top: 20px; }
        .success { color: #388e3c; margin-top: 20px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>💳 Connect your bank</h1>
        <p>Link the account your subscriptions are charged to.</p>
        <button id="link-button">Connect bank account</button>
        <div id="message"></div>
    </div>
    <script>
    const show = (cls, text) => {
        document.getElementById('message').innerHTML = '<div class="' + cls + '">' + text + '</div>';
    };
    const handler = Plaid.create({
        token: {{.}},
        onSuccess: (public_token, metadata) => {
            show('success', 'Processing connection...');
            fetch('/exchange', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ public_token, institution: (metadata.institution || {}).name || '' })
            })
            .then(r => r.json())
            .then(d => d.success ? show('success', 'Connected. You can close this tab.') : show('error', d.error || 'Connection failed'))
            .catch(e => show('error', 'Network error: ' + e));
        },
        onExit: (err) => { if (err != null) show('error', 'Connection canceled or failed.'); }
    });
    document.getElementById('link-button').onclick = () => handler.open();
    </script>
</body>
</html>`))

// plaidLinkResult is what the browser hands back after Link succeeds.
type plaidLinkResult struct {
	AccessToken string
	ItemID      string
	Institution string
}

type exchangeRequest struct {
	PublicToken string `json:"public_token"`
	Institution string `json:"institution"`
}

type exchangeResponse struct {
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// newPlaidLinkHandler serves the Link page and exchanges the public token.
// The first successful exchange is delivered on results.
func newPlaidLinkHandler(linker plaid.Linker, linkToken string, results chan<- plaidLinkResult) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := linkPage.Execute(w, linkToken); err != nil {
			slog.Error("Failed to render link page", "error", err)
		}
	})

	r.Post("/exchange", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		var body exchangeRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.PublicToken == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(exchangeResponse{Error: "Invalid request"})
			return
		}

		accessToken, itemID, err := linker.ExchangePublicToken(req.Context(), body.PublicToken)
		if err != nil {
			slog.Error("Failed to exchange public token", "error", err)
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(exchangeResponse{Error: "Failed to exchange token"})
			return
		}

		select {
		case results <- plaidLinkResult{AccessToken: accessToken, ItemID: itemID, Institution: body.Institution}:
		default:
			slog.Warn("Ignoring additional Plaid link", "item", itemID)
		}
		_ = json.NewEncoder(w).Encode(exchangeResponse{Success: true})
	})

	return r
}

func authPlaidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plaid",
		Short: "Link a bank account through Plaid",
		Long: `Link a bank account using Plaid Link.

This command will:
1. Start a local web server
2. Open Plaid Link in your browser
3. Save the access token to your config file

Production links are served over HTTPS with a self-signed certificate, so
expect a browser warning.`,
		RunE: runAuthPlaid,
	}

	cmd.Flags().String("env", "", "Plaid environment (sandbox/production)")
	cmd.Flags().Duration("timeout", 10*time.Minute, "how long to wait for the link")

	return cmd
}

func runAuthPlaid(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	plaidCfg := cfg.PlaidClient()
	if env, _ := cmd.Flags().GetString("env"); env != "" {
		plaidCfg.Environment = env
	}
	client, err := plaid.NewClient(plaidCfg)
	if err != nil {
		return fmt.Errorf("plaid credentials missing: set plaid.client_id and plaid.secret: %w", err)
	}

	linkToken, err := client.CreateLinkToken(ctx, "")
	if err != nil {
		return err
	}

	results := make(chan plaidLinkResult, 1)
	errorChan := make(chan error, 1)
	server := &http.Server{
		Addr:              plaidLinkAddr,
		Handler:           newPlaidLinkHandler(client, linkToken, results),
		ReadHeaderTimeout: 10 * time.Second,
	}

	browserURL := "http://" + plaidLinkAddr
	if plaidCfg.Environment == "production" {
		tlsConfig, err := certs.NewStore(filepath.Join(config.DefaultDir(), "certs")).TLSConfig()
		if err != nil {
			return fmt.Errorf("failed to prepare certificate: %w", err)
		}
		server.TLSConfig = tlsConfig
		browserURL = "https://" + plaidLinkAddr
		go func() {
			if err := server.ListenAndServeTLS("", ""); !errors.Is(err, http.ErrServerClosed) {
				errorChan <- fmt.Errorf("failed to start HTTPS server: %w", err)
			}
		}()
		slog.Info("Your browser will warn about the self-signed certificate; proceed to localhost")
	} else {
		go func() {
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errorChan <- fmt.Errorf("failed to start server: %w", err)
			}
		}()
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("Opening your browser to link a bank account...")
	slog.Info("If the browser doesn't open, visit:", "url", browserURL)
	openBrowser(browserURL)

	timeout, _ := cmd.Flags().GetDuration("timeout")
	var result plaidLinkResult
	select {
	case result = <-results:
	case err := <-errorChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for account connection")
	}

	if err := config.SetValues(configPath(), map[string]any{
		"plaid.access_token": result.AccessToken,
		"plaid.environment":  plaidCfg.Environment,
	}); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	name := result.Institution
	if name == "" {
		name = result.ItemID
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(cli.BankIcon+" Linked "+name))
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Run 'subs scan --source plaid' to look for subscriptions"))
	return nil
}
