package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"kakeibo/internal/core"
	"kakeibo/internal/log"
	"kakeibo/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

var _ sheets.Mirror = (*Client)(nil)

// Config selects the spreadsheet and the service account used to reach it.
type Config struct {
	SpreadsheetID    string
	ExpensesSheet    string
	SettlementsSheet string
	// CredentialsJSON wins over CredentialsFile when both are set.
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc              *gsheet.Service
	spreadsheetID    string
	expensesSheet    string
	settlementsSheet string
	logger           *log.Logger

	mu       sync.Mutex
	sheetIDs map[string]int64

	// writeMu spans each read of the key column and the write that depends on it.
	writeMu sync.Mutex
}

// New creates a Sheets client authenticated as a service account.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentSheets)
	}
	svc, err := newSheetsService(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(svc, cfg, logger), nil
}

func newClient(svc *gsheet.Service, cfg Config, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentSheets)
	}
	expenses := strings.TrimSpace(cfg.ExpensesSheet)
	if expenses == "" {
		expenses = "Expenses"
	}
	settlements := strings.TrimSpace(cfg.SettlementsSheet)
	if settlements == "" {
		settlements = "Settlements"
	}
	return &Client{
		svc:              svc,
		spreadsheetID:    strings.TrimSpace(cfg.SpreadsheetID),
		expensesSheet:    expenses,
		settlementsSheet: settlements,
		logger:           logger,
		sheetIDs:         map[string]int64{},
	}
}

func newSheetsService(ctx context.Context, cfg Config, logger *log.Logger) (*gsheet.Service, error) {
	credentialsJSON, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func loadCredentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	}
	return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
}

// AppendExpense writes e to the first empty row of the expenses sheet.
func (c *Client) AppendExpense(ctx context.Context, e core.Expense) (string, error) {
	if e.ID == "" {
		return "", errors.New("append expense: missing id")
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ids, err := c.readKeys(ctx, c.expensesSheet)
	if err != nil {
		return "", err
	}
	if i := indexOfKey(ids, e.ID); i >= 0 {
		return rowRange(c.expensesSheet, i+1, expenseColumns), nil
	}

	next := len(ids) + 1
	rng := rowRange(c.expensesSheet, next, expenseColumns)
	vr := &gsheet.ValueRange{Values: [][]any{expenseRow(e)}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("update %s: %w", rng, err)
	}
	return rng, nil
}

// DeleteExpenses removes every row whose id column matches one of ids.
func (c *Client) DeleteExpenses(ctx context.Context, ids []string) (int, error) {
	if c.svc == nil {
		return 0, errors.New("sheets service not initialized")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	keys, err := c.readKeys(ctx, c.expensesSheet)
	if err != nil {
		return 0, err
	}
	rows := matchingRows(keys, ids)
	if len(rows) == 0 {
		return 0, nil
	}

	sheetID, err := c.sheetID(ctx, c.expensesSheet)
	if err != nil {
		return 0, err
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: deleteRowRequests(sheetID, rows)}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return 0, fmt.Errorf("delete rows from %s: %w", c.expensesSheet, err)
	}
	c.logger.DebugContext(ctx, "Deleted spreadsheet rows", log.FieldCount, len(rows))
	return len(rows), nil
}

// UpsertSettlement updates the month's row or appends one.
func (c *Client) UpsertSettlement(ctx context.Context, month string, settled bool, at time.Time) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	keys, err := c.readKeys(ctx, c.settlementsSheet)
	if err != nil {
		return err
	}
	row := indexOfKey(keys, month) + 1
	if row == 0 {
		row = len(keys) + 1
	}
	rng := rowRange(c.settlementsSheet, row, settlementColumns)
	vr := &gsheet.ValueRange{Values: [][]any{settlementRow(month, settled, at)}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

// readKeys returns column A of sheetName, one entry per row.
func (c *Client) readKeys(ctx context.Context, sheetName string) ([]string, error) {
	rng := fmt.Sprintf("%s!A:A", sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return firstColumn(resp.Values), nil
}

// sheetID resolves the numeric id row deletion needs. Ids are stable, so they are cached.
func (c *Client) sheetID(ctx context.Context, title string) (int64, error) {
	c.mu.Lock()
	id, ok := c.sheetIDs[title]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read spreadsheet properties: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range ss.Sheets {
		if s.Properties == nil {
			continue
		}
		c.sheetIDs[s.Properties.Title] = s.Properties.SheetId
	}
	id, ok = c.sheetIDs[title]
	if !ok {
		return 0, fmt.Errorf("sheet %q not found", title)
	}
	return id, nil
}
