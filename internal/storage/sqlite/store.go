// Package sqlite is the single-file storage backend for local runs and small
// deployments. Timestamps are stored as UTC unix nanoseconds.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"stayhub/internal/domain"
)

type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; the status predicate does the rest
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			city TEXT NOT NULL,
			base_price_ngn INTEGER NOT NULL CHECK (base_price_ngn >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS discount_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			default_rate REAL NOT NULL DEFAULT 0,
			overrides TEXT NOT NULL DEFAULT '{}',
			version INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
		`INSERT OR IGNORE INTO discount_config (id) VALUES (1)`,
		`CREATE TABLE IF NOT EXISTS payment_intents (
			reference TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			amount_ngn INTEGER NOT NULL CHECK (amount_ngn > 0),
			currency TEXT NOT NULL,
			email TEXT NOT NULL,
			property_id TEXT NOT NULL,
			status TEXT NOT NULL,
			paid_at INTEGER,
			raw TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_status_created ON payment_intents(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS payment_events (
			id TEXT PRIMARY KEY,
			reference TEXT NOT NULL,
			source TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			outcome TEXT NOT NULL,
			raw TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ref ON payment_events(reference, created_at)`,
		`CREATE TABLE IF NOT EXISTS users (
			email TEXT PRIMARY KEY,
			password_hash BLOB,
			activated_at INTEGER,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("execute schema query: %w", err)
		}
	}
	return nil
}

func ts(t time.Time) int64 { return t.UTC().UnixNano() }

func fromTS(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func nullText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (s *Store) UpsertProperty(ctx context.Context, p domain.Property) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (id, name, city, base_price_ngn) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, city = excluded.city, base_price_ngn = excluded.base_price_ngn`,
		p.ID, p.Name, p.City, p.BasePriceNGN)
	return err
}

func (s *Store) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	var p domain.Property
	err := s.db.QueryRowContext(ctx, `SELECT id, name, city, base_price_ngn FROM properties WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.City, &p.BasePriceNGN)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Property{}, domain.ErrNotFound
	}
	return p, err
}

func (s *Store) CurrentDiscounts(ctx context.Context) (domain.DiscountConfig, error) {
	var (
		cfg       domain.DiscountConfig
		overrides string
		updated   int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT default_rate, overrides, version, updated_at FROM discount_config WHERE id = 1`).
		Scan(&cfg.Default, &overrides, &cfg.Version, &updated)
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	cfg.Overrides = map[string]float64{}
	if err := json.Unmarshal([]byte(overrides), &cfg.Overrides); err != nil {
		return domain.DiscountConfig{}, fmt.Errorf("decode overrides: %w", err)
	}
	if updated > 0 {
		cfg.UpdatedAt = fromTS(updated)
	}
	return cfg, nil
}

func (s *Store) UpdateDiscounts(ctx context.Context, cfg domain.DiscountConfig, expectedVersion int64) (domain.DiscountConfig, error) {
	overrides := cfg.Overrides
	if overrides == nil {
		overrides = map[string]float64{}
	}
	b, err := json.Marshal(overrides)
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE discount_config SET default_rate = ?, overrides = ?, version = version + 1, updated_at = ?
		WHERE id = 1 AND version = ?`,
		cfg.Default, string(b), ts(time.Now()), expectedVersion)
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.DiscountConfig{}, err
	} else if n == 0 {
		return domain.DiscountConfig{}, domain.ErrVersionConflict
	}
	return s.CurrentDiscounts(ctx)
}

func (s *Store) InsertIntent(ctx context.Context, pi domain.PaymentIntent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_intents
			(reference, provider, amount_ngn, currency, email, property_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pi.Reference, pi.Provider, pi.AmountNGN, pi.Currency, pi.Email, pi.PropertyID,
		string(pi.Status), ts(pi.CreatedAt), ts(pi.UpdatedAt))
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return domain.ErrDuplicateReference
	}
	return err
}

const intentColumns = `reference, provider, amount_ngn, currency, email, property_id, status, paid_at, raw, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanIntent(sc scanner) (domain.PaymentIntent, error) {
	var (
		pi               domain.PaymentIntent
		status           string
		paidAt           sql.NullInt64
		raw              sql.NullString
		created, updated int64
	)
	if err := sc.Scan(&pi.Reference, &pi.Provider, &pi.AmountNGN, &pi.Currency, &pi.Email, &pi.PropertyID,
		&status, &paidAt, &raw, &created, &updated); err != nil {
		return domain.PaymentIntent{}, err
	}
	pi.Status = domain.PaymentStatus(status)
	if paidAt.Valid {
		t := fromTS(paidAt.Int64)
		pi.PaidAt = &t
	}
	if raw.Valid && raw.String != "" {
		pi.Raw = json.RawMessage(raw.String)
	}
	pi.CreatedAt, pi.UpdatedAt = fromTS(created), fromTS(updated)
	return pi, nil
}

func (s *Store) GetIntent(ctx context.Context, ref string) (domain.PaymentIntent, error) {
	pi, err := scanIntent(s.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE reference = ?`, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentIntent{}, domain.ErrNotFound
	}
	return pi, err
}

func (s *Store) CompareAndSetStatus(ctx context.Context, ref string, from, to domain.PaymentStatus, paidAt *time.Time, raw []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = ?, paid_at = COALESCE(?, paid_at), raw = ?, updated_at = ?
		WHERE reference = ? AND status = ?`,
		string(to), nullTS(paidAt), nullText(raw), ts(time.Now()), ref, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetIntent(ctx, ref); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev domain.PaymentEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_events (id, reference, source, from_status, to_status, outcome, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Reference, ev.Source, string(ev.FromStatus), string(ev.ToStatus), string(ev.Outcome),
		nullText(ev.Raw), ts(ev.CreatedAt))
	return err
}

func (s *Store) ListEvents(ctx context.Context, ref string) ([]domain.PaymentEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference, source, from_status, to_status, outcome, raw, created_at
		FROM payment_events WHERE reference = ? ORDER BY created_at, rowid`, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PaymentEvent
	for rows.Next() {
		var (
			ev                domain.PaymentEvent
			from, to, outcome string
			raw               sql.NullString
			created           int64
		)
		if err := rows.Scan(&ev.ID, &ev.Reference, &ev.Source, &from, &to, &outcome, &raw, &created); err != nil {
			return nil, err
		}
		ev.FromStatus, ev.ToStatus = domain.PaymentStatus(from), domain.PaymentStatus(to)
		ev.Outcome = domain.Outcome(outcome)
		if raw.Valid && raw.String != "" {
			ev.Raw = json.RawMessage(raw.String)
		}
		ev.CreatedAt = fromTS(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]domain.PaymentIntent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+intentColumns+` FROM payment_intents
		WHERE status = 'INITIATED' AND created_at < ? ORDER BY created_at LIMIT ?`, ts(createdBefore), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PaymentIntent
	for rows.Next() {
		pi, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pi)
	}
	return out, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, email string) (domain.User, error) {
	var (
		u         domain.User
		hash      []byte
		activated sql.NullInt64
		created   int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT email, password_hash, activated_at, created_at FROM users WHERE email = ?`, email).
		Scan(&u.Email, &hash, &activated, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	if len(hash) > 0 {
		u.PasswordHash = hash
	}
	if activated.Valid {
		t := fromTS(activated.Int64)
		u.ActivatedAt = &t
	}
	u.CreatedAt = fromTS(created)
	return u, nil
}

func (s *Store) ActivateUser(ctx context.Context, email string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, activated_at, created_at) VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET activated_at = COALESCE(users.activated_at, excluded.activated_at)`,
		email, ts(at), ts(at))
	return err
}

func (s *Store) SetPasswordHash(ctx context.Context, email string, hash []byte) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE email = ?`, hash, email)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
