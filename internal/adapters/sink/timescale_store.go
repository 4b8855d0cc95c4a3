package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// TimescaleStore keeps readings in a PostgreSQL table, optionally a
// TimescaleDB hypertable. Fields are stored as an ordered JSONB array.
type TimescaleStore struct {
	db        *sql.DB
	tableName string
}

// OpenTimescale connects with lib/pq and checks the connection.
func OpenTimescale(ctx context.Context, connString, table string) (*TimescaleStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := NewTimescaleStore(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func NewTimescaleStore(db *sql.DB, table string) (*TimescaleStore, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &TimescaleStore{db: db, tableName: table}, nil
}

func (t *TimescaleStore) Name() string { return "timescaledb" }

// EnsureSchema creates the readings table. With hypertable set it also turns
// the table into a TimescaleDB hypertable on captured_at.
func (t *TimescaleStore) EnsureSchema(ctx context.Context, hypertable bool) error {
	ddl := "CREATE TABLE IF NOT EXISTS " + t.tableName + ` (
	captured_at TIMESTAMPTZ NOT NULL,
	session_id  TEXT NOT NULL,
	topic       TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	fields      JSONB NOT NULL,
	payload     BYTEA
)`
	if _, err := t.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", t.tableName, err)
	}

	idx := "CREATE INDEX IF NOT EXISTS " + strings.ReplaceAll(t.tableName, ".", "_") +
		"_source_time_idx ON " + t.tableName + " (source_id, captured_at)"
	if _, err := t.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create index on %s: %w", t.tableName, err)
	}

	if hypertable {
		if _, err := t.db.ExecContext(ctx, "SELECT create_hypertable($1, 'captured_at', if_not_exists => TRUE)", t.tableName); err != nil {
			return fmt.Errorf("create hypertable %s: %w", t.tableName, err)
		}
	}
	return nil
}

func (t *TimescaleStore) AppendReading(ctx context.Context, r domain.Reading) error {
	fields := r.Fields
	if fields == nil {
		fields = []domain.Field{}
	}
	vals, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	query := "INSERT INTO " + t.tableName +
		" (captured_at, session_id, topic, source_id, fields, payload) VALUES ($1,$2,$3,$4,$5,$6)"
	_, err = t.db.ExecContext(ctx, query,
		r.CapturedAt,
		r.SessionID,
		r.Topic,
		r.SourceID,
		vals,
		r.Payload,
	)
	return err
}

// QueryReadings returns normalized readings oldest first. Readings that
// produced no fields are never returned.
func (t *TimescaleStore) QueryReadings(ctx context.Context, q domain.ReadingQuery) ([]domain.Sample, error) {
	var b strings.Builder
	b.WriteString("SELECT source_id, captured_at, fields FROM ")
	b.WriteString(t.tableName)
	b.WriteString(" WHERE jsonb_array_length(fields) > 0")

	args := make([]any, 0, 4)
	if q.SourceID != "" {
		args = append(args, q.SourceID)
		fmt.Fprintf(&b, " AND source_id = $%d", len(args))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		fmt.Fprintf(&b, " AND captured_at >= $%d", len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		fmt.Fprintf(&b, " AND captured_at <= $%d", len(args))
	}
	b.WriteString(" ORDER BY captured_at ASC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := t.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []domain.Sample
	for rows.Next() {
		var (
			s   domain.Sample
			ts  time.Time
			raw []byte
		)
		if err := rows.Scan(&s.SourceID, &ts, &raw); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if err := json.Unmarshal(raw, &s.Fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
		s.CapturedAt = ts
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *TimescaleStore) Close() error { return t.db.Close() }

var _ ports.ReadingStore = (*TimescaleStore)(nil)
