package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"budgetly/internal/core"
	"budgetly/internal/log"
	ports "budgetly/internal/sheets"
)

const DefaultSheetName = "Transactions"

var errNoService = errors.New("sheets service not initialized")

// Config selects the spreadsheet and the service account used to reach it.
// Either CredentialsJSON or CredentialsFile must be set.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// Client writes one row per transaction into a yearly sheet named
// "<year> <SheetName>", the year taken from the transaction's month.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	logger        *log.Logger
}

var _ ports.Exporter = (*Client)(nil)

func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = DefaultSheetName
	}
	logger = log.OrDiscard(logger).WithComponent(log.ComponentSheets)

	creds, err := credentials(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets exporter ready", "spreadsheet", cfg.SpreadsheetID, "sheet", base)

	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, sheetBase: base, logger: logger}, nil
}

func credentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

// Append writes t after the last used row. Column A holds the transaction
// id; when it is already present the existing row is returned, so a
// redelivered event does not export twice.
func (c *Client) Append(ctx context.Context, t core.Transaction) (string, error) {
	if t.ID.IsZero() {
		return "", errors.New("export transaction: missing id")
	}
	if c.svc == nil {
		return "", errNoService
	}
	sheet, err := sheetName(c.sheetBase, t.Month)
	if err != nil {
		return "", err
	}

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, sheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read ids of %s: %w", sheet, err)
	}
	if n := findRow(resp.Values, t.ID); n > 0 {
		return rowRef(sheet, n), nil
	}

	next := len(resp.Values) + 1
	rng := fmt.Sprintf("%s!A%d:%s%d", sheet, next, lastColumn, next)
	vr := &gsheet.ValueRange{Values: [][]any{transactionRow(t)}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("write row %d of %s: %w", next, sheet, err)
	}

	ref := rowRef(sheet, next)
	c.logger.InfoContext(ctx, "Transaction exported", log.FieldDocumentID, t.ID.String(), "ref", ref)
	return ref, nil
}

// ListTransactions reads back the rows of month.
func (c *Client) ListTransactions(ctx context.Context, month string) ([]core.Transaction, error) {
	if c.svc == nil {
		return nil, errNoService
	}
	sheet, err := sheetName(c.sheetBase, month)
	if err != nil {
		return nil, err
	}
	rng := fmt.Sprintf("%s!A:%s", sheet, lastColumn)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	var out []core.Transaction
	for _, row := range resp.Values {
		t, ok := parseTransactionRow(row)
		if !ok || t.Month != month {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
