package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// worksheetSeed is the header row plus sample rows one worksheet starts with.
type worksheetSeed struct {
	title string
	rows  [][]any
}

// seedWorksheets returns the initial contents of all four worksheets, keyed
// to the configured user. interaction_logs starts header-only; the service
// appends to it.
func seedWorksheets(userID string) []worksheetSeed {
	concerns, _ := json.Marshal(map[string]any{
		"diagnosis": "Stress-Induced Inflammatory Acne",
		"triggers":  []string{"Environmental Shock"},
	})
	medications, _ := json.Marshal([]string{"CNN 50"})
	avoid, _ := json.Marshal([]string{"SA Cleansers"})

	return []worksheetSeed{
		{
			title: WorksheetUsers,
			rows: [][]any{
				{"id", "name", "skin_type", "location"},
				{userID, "Devashree", "Acne-Prone, Combination", "Canada"},
			},
		},
		{
			title: WorksheetProfile,
			rows: [][]any{
				{"user_id", "barrier_status", "current_concerns_json", "active_medications_json", "avoid_ingredients_json"},
				{userID, "Compromised", string(concerns), string(medications), string(avoid)},
			},
		},
		{
			title: WorksheetRoutineAudit,
			rows: [][]any{
				{"user_id", "product_name", "category", "status", "notes"},
				{userID, "Micro-Peeling gels", "Cleanser", "Unsafe", "Compromises barrier."},
			},
		},
		{
			title: WorksheetLogs,
			rows: [][]any{
				{"id", "created_at", "user_id", "input_type", "user_query", "ai_analysis", "severity_score", "recommended_product_name", "recommended_product_link"},
			},
		},
	}
}

// Seed creates any missing worksheets and resets each one to its header row
// and sample data. Re-running it wipes interaction_logs along with the rest;
// it is a provisioning step, not a migration.
func (c *Client) Seed(ctx context.Context, userID string) error {
	existing, err := c.worksheetTitles(ctx)
	if err != nil {
		return fmt.Errorf("listing worksheets: %w", err)
	}

	for _, ws := range seedWorksheets(userID) {
		if !existing[ws.title] {
			if err := c.addWorksheet(ctx, ws.title); err != nil {
				return fmt.Errorf("creating %s: %w", ws.title, err)
			}
			log.Info().Str("worksheet", ws.title).Msg("Created worksheet")
		}

		if err := c.clearValues(ctx, ws.title); err != nil {
			return fmt.Errorf("clearing %s: %w", ws.title, err)
		}
		if err := c.updateRows(ctx, ws.title, ws.rows); err != nil {
			return fmt.Errorf("writing %s: %w", ws.title, err)
		}
		log.Info().Str("worksheet", ws.title).Int("rows", len(ws.rows)).Msg("Seeded worksheet")
	}

	return nil
}

// worksheetTitles reports which worksheets already exist in the spreadsheet.
func (c *Client) worksheetTitles(ctx context.Context) (map[string]bool, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=sheets.properties.title", c.baseURL, c.sheetID)

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

	var parsed struct {
		Sheets []struct {
			Properties struct {
				Title string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode sheets response: %w", err)
	}

	titles := make(map[string]bool, len(parsed.Sheets))
	for _, sheet := range parsed.Sheets {
		titles[sheet.Properties.Title] = true
	}
	return titles, nil
}

// addWorksheet creates an empty worksheet via the batchUpdate endpoint.
func (c *Client) addWorksheet(ctx context.Context, title string) error {
	endpoint := fmt.Sprintf("%s/%s:batchUpdate", c.baseURL, c.sheetID)

	payload := map[string]any{
		"requests": []any{
			map[string]any{
				"addSheet": map[string]any{
					"properties": map[string]any{"title": title},
				},
			},
		},
	}
	return c.postJSON(ctx, endpoint, payload)
}

// clearValues empties a worksheet without deleting it.
func (c *Client) clearValues(ctx context.Context, worksheet string) error {
	endpoint := fmt.Sprintf("%s/%s/values/%s:clear", c.baseURL, c.sheetID, url.PathEscape(worksheet))
	return c.postJSON(ctx, endpoint, map[string]any{})
}

// updateRows writes rows starting at the top-left of a worksheet.
func (c *Client) updateRows(ctx context.Context, worksheet string, rows [][]any) error {
	endpoint := fmt.Sprintf("%s/%s/values/%s?valueInputOption=RAW", c.baseURL, c.sheetID, url.PathEscape(worksheet))

	body, err := json.Marshal(map[string]any{"values": rows})
	if err != nil {
		return fmt.Errorf("failed to marshal rows: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sheets update failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sheets API returned %s: %s", resp.Status, string(respBody))
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sheets request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sheets API returned %s: %s", resp.Status, string(respBody))
	}
	return nil
}
