package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

var header = []any{"Name", "Price", "Currency", "Cycle", "Monthly", "Category", "Confidence", "Suspicious", "Last Seen", "Sources"}

// Writer implements service.SubscriptionWriter for Google Sheets.
type Writer struct {
	service *sheets.Service
	logger  *slog.Logger
	now     func() time.Time
	config  Config
}

// NewWriter creates a new Google Sheets writer.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	svc, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return NewWriterWithService(svc, config, logger), nil
}

// NewWriterWithService wraps an existing service.
func NewWriterWithService(svc *sheets.Service, config Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default().With("component", "sheets")
	}
	return &Writer{service: svc, config: config, logger: logger, now: time.Now}
}

// Write replaces the sheet content with the given subscriptions.
func (w *Writer) Write(ctx context.Context, subs []model.Subscription) error {
	w.logger.Info("starting export", "subscriptions", len(subs))

	spreadsheetID, err := w.getOrCreateSpreadsheet(ctx)
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  w.config.RetryAttempts,
		InitialDelay: w.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	values := prepareRows(subs, w.now())
	sheetRange := w.config.SheetTitle + "!A:Z"
	err = common.WithRetry(ctx, func() error {
		if _, clearErr := w.service.Spreadsheets.Values.Clear(spreadsheetID, sheetRange, &sheets.ClearValuesRequest{}).Context(ctx).Do(); clearErr != nil {
			return fmt.Errorf("failed to clear sheet: %w", clearErr)
		}
		_, updateErr := w.service.Spreadsheets.Values.Update(spreadsheetID, w.config.SheetTitle+"!A1", &sheets.ValueRange{Values: values}).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()
		return updateErr
	}, retryOpts)
	if err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	if w.config.EnableFormatting {
		err = common.WithRetry(ctx, func() error {
			return w.applyFormatting(ctx, spreadsheetID, len(subs))
		}, retryOpts)
		if err != nil {
			// Formatting is cosmetic
			w.logger.Warn("failed to apply formatting", "error", err)
		}
	}

	w.logger.Info("export completed", "spreadsheet_id", spreadsheetID, "rows_written", len(values))
	return nil
}

// prepareRows renders a header, one row per subscription, and monthly
// totals per currency.
func prepareRows(subs []model.Subscription, now time.Time) [][]any {
	values := make([][]any, 0, len(subs)+6)
	values = append(values, header)

	totals := make(map[string]decimal.Decimal)
	for i := range subs {
		sub := &subs[i]
		price, monthly := "", ""
		if sub.Price.Valid {
			price = sub.Price.Decimal.StringFixed(2)
		}
		if cost, ok := sub.MonthlyCost(); ok {
			monthly = cost.StringFixed(2)
			totals[sub.Currency] = totals[sub.Currency].Add(cost)
		}
		lastSeen := ""
		if !sub.LastSeen.IsZero() {
			lastSeen = sub.LastSeen.Format("2006-01-02")
		}
		values = append(values, []any{
			sub.Name,
			price,
			sub.Currency,
			string(sub.Cycle),
			monthly,
			sub.Category,
			fmt.Sprintf("%.2f", sub.Confidence),
			sub.Suspicious,
			lastSeen,
			len(sub.SourceRefs),
		})
	}

	currencies := make([]string, 0, len(totals))
	for c := range totals {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	values = append(values, []any{})
	for _, c := range currencies {
		values = append(values, []any{"Monthly total", "", c, "", totals[c].StringFixed(2)})
	}
	values = append(values, []any{"Exported", now.Format(time.RFC3339)})
	return values
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}
		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		client := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}
		tokenSource = client.TokenSource(ctx, &oauth2.Token{RefreshToken: config.RefreshToken, TokenType: "Bearer"})
	}

	srv, err := sheets.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}
	return srv, nil
}

// getOrCreateSpreadsheet gets an existing spreadsheet or creates a new one.
func (w *Writer) getOrCreateSpreadsheet(ctx context.Context) (string, error) {
	if w.config.SpreadsheetID != "" {
		if _, err := w.service.Spreadsheets.Get(w.config.SpreadsheetID).Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("unable to access spreadsheet %s: %w", w.config.SpreadsheetID, err)
		}
		return w.config.SpreadsheetID, nil
	}

	spreadsheet := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title:    w.config.SpreadsheetName,
			TimeZone: w.config.TimeZone,
		},
		Sheets: []*sheets.Sheet{
			{Properties: &sheets.SheetProperties{Title: w.config.SheetTitle}},
		},
	}

	created, err := w.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create spreadsheet: %w", err)
	}

	w.logger.Info("created new spreadsheet", "id", created.SpreadsheetId, "url", created.SpreadsheetUrl)
	w.config.SpreadsheetID = created.SpreadsheetId
	return created.SpreadsheetId, nil
}

// applyFormatting bolds the header, freezes it and resizes the columns.
func (w *Writer) applyFormatting(ctx context.Context, spreadsheetID string, rows int) error {
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{SheetId: 0, StartRowIndex: 0, EndRowIndex: 1, StartColumnIndex: 0, EndColumnIndex: int64(len(header))},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{TextFormat: &sheets.TextFormat{Bold: true}},
				},
				Fields: "userEnteredFormat.textFormat",
			},
		},
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{SheetId: 0, StartRowIndex: 1, EndRowIndex: int64(rows + 1), StartColumnIndex: 1, EndColumnIndex: 2},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{NumberFormat: &sheets.NumberFormat{Type: "NUMBER", Pattern: "#,##0.00"}},
				},
				Fields: "userEnteredFormat.numberFormat",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{SheetId: 0, Dimension: "COLUMNS", StartIndex: 0, EndIndex: int64(len(header))},
			},
		},
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{SheetId: 0, GridProperties: &sheets.GridProperties{FrozenRowCount: 1}},
				Fields:     "gridProperties.frozenRowCount",
			},
		},
	}

	_, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do()
	return err
}

var _ service.SubscriptionWriter = (*Writer)(nil)
