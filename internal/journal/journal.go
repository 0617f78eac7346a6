// Package journal stores protocol negotiation state changes in SQLite so
// fallbacks and disconnects can be inspected after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// timeFormat is fixed-width so TEXT ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded state change.
type Entry struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	ClientID   string    `json:"client_id"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	Protocol   string    `json:"protocol"`
	Fallback   bool      `json:"fallback"`
	BrokerURI  string    `json:"broker_uri,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// FromTransition converts a client transition into a journal entry.
func FromTransition(clientID string, t mqtt.Transition) Entry {
	e := Entry{
		OccurredAt: t.At,
		ClientID:   clientID,
		FromState:  t.From.String(),
		ToState:    t.To.String(),
		Protocol:   t.Protocol.String(),
		BrokerURI:  t.URI,
		Reason:     t.Reason,
		Fallback:   t.To.Fallback(),
	}
	if t.Err != nil {
		e.Error = t.Err.Error()
	}
	return e
}

// Filter controls which entries List returns.
type Filter struct {
	ClientID string    // optional: exact client id
	ToState  string    // optional: target state name (e.g. "connected_via_fallback")
	Since    time.Time // optional: entries at or after this time
	Limit    int       // default 50, max 500
	Offset   int       // pagination offset
}

// ListResult contains a page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the journal operations.
type Repository interface {
	Record(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores entries in the negotiation_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts an entry. ID and OccurredAt are generated if empty.
func (r *SQLiteRepository) Record(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "neg-" + uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO negotiation_events
		 (id, occurred_at, client_id, from_state, to_state, protocol, fallback, broker_uri, reason, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.OccurredAt.UTC().Format(timeFormat),
		entry.ClientID,
		entry.FromState,
		entry.ToState,
		entry.Protocol,
		boolToInt(entry.Fallback),
		entry.BrokerURI,
		entry.Reason,
		nullableString(entry.Error),
	)
	if err != nil {
		return fmt.Errorf("inserting negotiation event: %w", err)
	}
	return nil
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.ClientID != "" {
		conditions = append(conditions, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.ToState != "" {
		conditions = append(conditions, "to_state = ?")
		args = append(args, filter.ToState)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeFormat))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM negotiation_events " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting negotiation events: %w", err)
	}

	query := `SELECT id, occurred_at, client_id, from_state, to_state, protocol, fallback, broker_uri, reason, error
		FROM negotiation_events ` + where + ` ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?` //nolint:gosec // WHERE built from parameterised conditions
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying negotiation events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			occurredAt string
			fallback   int
			errText    sql.NullString
		)
		if err := rows.Scan(&e.ID, &occurredAt, &e.ClientID, &e.FromState, &e.ToState,
			&e.Protocol, &fallback, &e.BrokerURI, &e.Reason, &errText); err != nil {
			return nil, fmt.Errorf("scanning negotiation event: %w", err)
		}

		t, err := time.Parse(timeFormat, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing negotiation event timestamp %q: %w", occurredAt, err)
		}
		e.OccurredAt = t
		e.Fallback = fallback != 0
		if errText.Valid {
			e.Error = errText.String
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating negotiation events: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// nullableString returns nil for empty strings.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
