/*
Package sheets is the data-access layer over the Google-Sheets-backed store.
One spreadsheet holds four worksheets (users, skin_profile, routine_audit,
interaction_logs) accessed by simple row read/append calls. The serving
process never updates or deletes rows.
*/
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/google"
)

const (
	sheetsAPIBase     = "https://sheets.googleapis.com/v4/spreadsheets"
	scopeSpreadsheets = "https://www.googleapis.com/auth/spreadsheets"
	requestTimeout    = 15 * time.Second
)

// Worksheet titles inside the spreadsheet. Column order is positional and
// matches the seeded header rows.
const (
	WorksheetUsers        = "users"
	WorksheetProfile      = "skin_profile"
	WorksheetRoutineAudit = "routine_audit"
	WorksheetLogs         = "interaction_logs"
)

// Client is a thin REST client for the Sheets v4 values endpoints,
// authenticated with a service-account token source.
type Client struct {
	sheetID string
	baseURL string
	httpc   *http.Client
}

// NewClient builds a client from service-account credentials JSON. The
// returned client refreshes its own access tokens.
func NewClient(ctx context.Context, sheetID string, credsJSON []byte) (*Client, error) {
	conf, err := google.JWTConfigFromJSON(credsJSON, scopeSpreadsheets)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
	}

	httpc := conf.Client(ctx)
	httpc.Timeout = requestTimeout

	return &Client{
		sheetID: sheetID,
		baseURL: sheetsAPIBase,
		httpc:   httpc,
	}, nil
}

type valuesResponse struct {
	Values [][]string `json:"values"`
}

// getValues fetches every row of a worksheet, header row included.
func (c *Client) getValues(ctx context.Context, worksheet string) ([][]string, error) {
	endpoint := fmt.Sprintf("%s/%s/values/%s", c.baseURL, c.sheetID, url.PathEscape(worksheet))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sheets read failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("sheets API returned %s: %s", resp.Status, string(body))
	}

	var parsed valuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode sheets response: %w", err)
	}

	return parsed.Values, nil
}

// appendRow appends exactly one row to the bottom of a worksheet.
func (c *Client) appendRow(ctx context.Context, worksheet string, row []any) error {
	endpoint := fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
		c.baseURL, c.sheetID, url.PathEscape(worksheet))

	payload := map[string]any{"values": [][]any{row}}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sheets append failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sheets API returned %s: %s", resp.Status, string(respBody))
	}

	return nil
}

// Ping verifies the spreadsheet is reachable and readable.
func (c *Client) Ping(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/%s?fields=properties.title", c.baseURL, c.sheetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sheets ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sheets API returned %s", resp.Status)
	}
	return nil
}
