package ticket

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS ticket_seq (
			n INTEGER PRIMARY KEY AUTOINCREMENT
		);

		CREATE TABLE IF NOT EXISTS tickets (
			id           TEXT PRIMARY KEY,
			description  TEXT NOT NULL,
			intent       TEXT NOT NULL,
			service_type TEXT NOT NULL DEFAULT '',
			alert_ref    TEXT NOT NULL DEFAULT '',
			application  TEXT NOT NULL DEFAULT '',
			window_start TEXT,
			window_end   TEXT,
			status       TEXT NOT NULL DEFAULT 'open',
			assigned_to  TEXT NOT NULL DEFAULT '',
			work_notes   TEXT NOT NULL DEFAULT '',
			source       TEXT NOT NULL DEFAULT 'chat',
			created_at   TEXT NOT NULL,
			closed_at    TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_tickets_intent ON tickets(intent);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

// Create assigns the next TKT-n identifier and persists the ticket.
func (s *SQLiteStore) Create(t *protocol.Ticket) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("ticket store: create: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO ticket_seq DEFAULT VALUES`)
	if err != nil {
		return "", fmt.Errorf("ticket store: next id: %w", err)
	}
	n, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("ticket store: next id: %w", err)
	}
	t.ID = fmt.Sprintf("TKT-%d", n)

	if t.Status == "" {
		t.Status = protocol.TicketOpen
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	_, err = tx.Exec(`
		INSERT INTO tickets (id, description, intent, service_type, alert_ref, application,
			window_start, window_end, status, assigned_to, work_notes, source, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Description, string(t.Intent), t.ServiceType, t.AlertRef, t.Application,
		timePtr(t.WindowStart), timePtr(t.WindowEnd), string(t.Status), t.AssignedTo,
		t.WorkNotes, string(t.Source), t.CreatedAt.Format(time.RFC3339), timePtr(t.ClosedAt))
	if err != nil {
		return "", fmt.Errorf("ticket store: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("ticket store: commit: %w", err)
	}
	return t.ID, nil
}

func (s *SQLiteStore) Get(id string) (*protocol.Ticket, error) {
	row := s.db.QueryRow(`SELECT id, description, intent, service_type, alert_ref, application,
		window_start, window_end, status, assigned_to, work_notes, source, created_at, closed_at
		FROM tickets WHERE id = ?`, id)

	t, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("ticket %q not found", id)
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) Update(id string, p Patch) error {
	var sets []string
	var args []any

	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.AssignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		args = append(args, *p.AssignedTo)
	}
	if p.WorkNotes != nil {
		sets = append(sets, "work_notes = ?")
		args = append(args, *p.WorkNotes)
	}
	if p.ClosedAt != nil {
		sets = append(sets, "closed_at = ?")
		args = append(args, p.ClosedAt.Format(time.RFC3339))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	result, err := s.db.Exec("UPDATE tickets SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("ticket store: update: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket %q not found", id)
	}
	return nil
}

func (s *SQLiteStore) List(filter Filter) ([]*protocol.Ticket, error) {
	query := `SELECT id, description, intent, service_type, alert_ref, application,
		window_start, window_end, status, assigned_to, work_notes, source, created_at, closed_at
		FROM tickets WHERE 1=1`
	var args []any

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Intent != nil {
		query += " AND intent = ?"
		args = append(args, string(*filter.Intent))
	}
	if filter.Assignee != "" {
		query += " AND assigned_to = ?"
		args = append(args, filter.Assignee)
	}
	if filter.Query != "" {
		query += " AND (description LIKE ? OR work_notes LIKE ?)"
		pattern := fmt.Sprintf("%%%s%%", filter.Query)
		args = append(args, pattern, pattern)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.Format(time.RFC3339)
	return &v
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(row scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var intent, status, source, createdAt string
	var windowStart, windowEnd, closedAt *string

	err := row.Scan(&t.ID, &t.Description, &intent, &t.ServiceType, &t.AlertRef, &t.Application,
		&windowStart, &windowEnd, &status, &t.AssignedTo, &t.WorkNotes, &source, &createdAt, &closedAt)
	if err != nil {
		return nil, err
	}

	t.Intent = protocol.Intent(intent)
	t.Status = protocol.TicketStatus(status)
	t.Source = protocol.TicketSource(source)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.WindowStart = parseTimePtr(windowStart)
	t.WindowEnd = parseTimePtr(windowEnd)
	t.ClosedAt = parseTimePtr(closedAt)
	return &t, nil
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}
