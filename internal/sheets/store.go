package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// Profile reads are cached per user; edits made directly in the sheet
	// show up after at most this long.
	profileCacheTTL = 10 * time.Minute

	cacheSize = 64
)

// ErrProfileNotFound means the worksheet has no row for the user.
var ErrProfileNotFound = errors.New("no skin profile row for user")

// UserProfile is one row of the skin_profile worksheet with its JSON
// sub-documents decoded. Absent or malformed sub-documents decode to empty
// values, never an error.
type UserProfile struct {
	UserID            string         `json:"user_id"`
	BarrierStatus     string         `json:"barrier_status"`
	ActiveMedications []string       `json:"active_medications"`
	AvoidIngredients  []string       `json:"avoid_ingredients"`
	CurrentConcerns   map[string]any `json:"current_concerns"`
}

// AuditStatus is the verdict recorded for a routine product.
type AuditStatus string

const (
	StatusSafe    AuditStatus = "Safe"
	StatusUnsafe  AuditStatus = "Unsafe"
	StatusUnknown AuditStatus = "Unknown"
)

// AuditEntry is one row of the routine_audit worksheet.
type AuditEntry struct {
	ProductName string      `json:"product_name"`
	Category    string      `json:"category"`
	Status      AuditStatus `json:"status"`
	Notes       string      `json:"notes"`
}

// User is one row of the users worksheet, used for sidebar display.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SkinType string `json:"skin_type"`
	Location string `json:"location"`
}

// Interaction is the payload appended to interaction_logs, one row per turn.
type Interaction struct {
	UserID      string
	InputType   string // "text" or "image"
	Query       string
	Analysis    string
	Severity    int
	ProductName string
	ProductLink string
}

type cachedProfile struct {
	profile   UserProfile
	audit     []AuditEntry
	fetchedAt time.Time
}

// Store wraps the Sheets client with a read-through, time-bounded profile
// cache. The clock is a field so tests can move time.
type Store struct {
	client *Client

	mu    sync.Mutex
	cache *lru.Cache[string, cachedProfile]
	ttl   time.Duration
	now   func() time.Time
}

func NewStore(client *Client) *Store {
	cache, _ := lru.New[string, cachedProfile](cacheSize)
	return &Store{
		client: client,
		cache:  cache,
		ttl:    profileCacheTTL,
		now:    time.Now,
	}
}

// FetchProfile returns the user's profile and routine audit, from cache when
// the last fetch is fresher than the TTL. Both worksheets are read
// concurrently on a miss.
func (s *Store) FetchProfile(ctx context.Context, userID string) (*UserProfile, []AuditEntry, error) {
	s.mu.Lock()
	if entry, ok := s.cache.Get(userID); ok && s.now().Sub(entry.fetchedAt) < s.ttl {
		s.mu.Unlock()
		profile := entry.profile
		return &profile, entry.audit, nil
	}
	s.mu.Unlock()

	var (
		profile *UserProfile
		audit   []AuditEntry
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := s.client.getValues(gctx, WorksheetProfile)
		if err != nil {
			return fmt.Errorf("reading %s: %w", WorksheetProfile, err)
		}
		profile = profileFromRows(rows, userID)
		if profile == nil {
			return ErrProfileNotFound
		}
		return nil
	})

	g.Go(func() error {
		rows, err := s.client.getValues(gctx, WorksheetRoutineAudit)
		if err != nil {
			return fmt.Errorf("reading %s: %w", WorksheetRoutineAudit, err)
		}
		audit = auditFromRows(rows, userID)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.cache.Add(userID, cachedProfile{profile: *profile, audit: audit, fetchedAt: s.now()})
	s.mu.Unlock()

	log.Info().Str("user_id", userID).Int("audit_entries", len(audit)).Msg("Fetched profile from sheet")

	result := *profile
	return &result, audit, nil
}

// GetUser reads the users worksheet for display data. Not cached: it is only
// hit by the sidebar endpoint.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	rows, err := s.client.getValues(ctx, WorksheetUsers)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", WorksheetUsers, err)
	}

	for _, row := range dataRows(rows) {
		if cell(row, 0) == userID {
			return &User{
				ID:       cell(row, 0),
				Name:     cell(row, 1),
				SkinType: cell(row, 2),
				Location: cell(row, 3),
			}, nil
		}
	}
	return nil, fmt.Errorf("no users row for id %s", userID)
}

// AppendInteraction appends exactly one positional row to interaction_logs.
// The caller decides whether a failure matters; this method just reports it.
func (s *Store) AppendInteraction(ctx context.Context, in Interaction) error {
	row := []any{
		uuid.New().String(),
		s.now().UTC().Format(time.RFC3339),
		in.UserID,
		in.InputType,
		in.Query,
		in.Analysis,
		strconv.Itoa(in.Severity),
		in.ProductName,
		in.ProductLink,
	}
	return s.client.appendRow(ctx, WorksheetLogs, row)
}

// Ping reports whether the backing spreadsheet is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

/* ====================================================================
                         Row decoding helpers
==================================================================== */

// dataRows drops the header row the seeder writes to every worksheet.
func dataRows(rows [][]string) [][]string {
	if len(rows) <= 1 {
		return nil
	}
	return rows[1:]
}

// cell reads a column by position; short rows read as empty cells, matching
// how the Sheets API omits trailing blanks.
func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return row[i]
}

// skin_profile columns: user_id, barrier_status, current_concerns_json,
// active_medications_json, avoid_ingredients_json.
func profileFromRows(rows [][]string, userID string) *UserProfile {
	for _, row := range dataRows(rows) {
		if cell(row, 0) != userID {
			continue
		}
		return &UserProfile{
			UserID:            userID,
			BarrierStatus:     cell(row, 1),
			CurrentConcerns:   decodeDocument(cell(row, 2)),
			ActiveMedications: decodeStringList(cell(row, 3)),
			AvoidIngredients:  decodeStringList(cell(row, 4)),
		}
	}
	return nil
}

// routine_audit columns: user_id, product_name, category, status, notes.
func auditFromRows(rows [][]string, userID string) []AuditEntry {
	audit := []AuditEntry{}
	for _, row := range dataRows(rows) {
		if cell(row, 0) != userID {
			continue
		}
		audit = append(audit, AuditEntry{
			ProductName: cell(row, 1),
			Category:    cell(row, 2),
			Status:      auditStatus(cell(row, 3)),
			Notes:       cell(row, 4),
		})
	}
	return audit
}

func auditStatus(raw string) AuditStatus {
	switch AuditStatus(raw) {
	case StatusSafe, StatusUnsafe:
		return AuditStatus(raw)
	default:
		return StatusUnknown
	}
}

func decodeStringList(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Warn().Str("raw", raw).Msg("Malformed JSON list in sheet cell, using empty list")
		return []string{}
	}
	return out
}

func decodeDocument(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Warn().Str("raw", raw).Msg("Malformed JSON document in sheet cell, using empty document")
		return map[string]any{}
	}
	return out
}
