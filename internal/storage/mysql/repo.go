package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	"stayhub/internal/domain"
)

const errDupEntry = 1062

func valJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func valTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Repo implements every storage port on one *sql.DB.
type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repo) UpsertProperty(ctx context.Context, p domain.Property) error {
	_, err := r.db.ExecContext(ctx, upsertPropertySQL, p.ID, p.Name, p.City, p.BasePriceNGN)
	return err
}

func (r *Repo) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	var p domain.Property
	err := r.db.QueryRowContext(ctx, getPropertySQL, id).Scan(&p.ID, &p.Name, &p.City, &p.BasePriceNGN)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Property{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Property{}, err
	}
	return p, nil
}

func (r *Repo) CurrentDiscounts(ctx context.Context) (domain.DiscountConfig, error) {
	var (
		cfg       domain.DiscountConfig
		overrides []byte
	)
	err := r.db.QueryRowContext(ctx, getDiscountsSQL).Scan(&cfg.Default, &overrides, &cfg.Version, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DiscountConfig{Overrides: map[string]float64{}}, nil
	}
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	cfg.Overrides = map[string]float64{}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &cfg.Overrides); err != nil {
			return domain.DiscountConfig{}, fmt.Errorf("decode overrides: %w", err)
		}
	}
	return cfg, nil
}

func (r *Repo) UpdateDiscounts(ctx context.Context, cfg domain.DiscountConfig, expectedVersion int64) (domain.DiscountConfig, error) {
	overrides := cfg.Overrides
	if overrides == nil {
		overrides = map[string]float64{}
	}
	b, err := json.Marshal(overrides)
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, updateDiscountsSQL, cfg.Default, string(b), now, expectedVersion)
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	if n == 0 {
		return domain.DiscountConfig{}, domain.ErrVersionConflict
	}
	return r.CurrentDiscounts(ctx)
}

func (r *Repo) InsertIntent(ctx context.Context, pi domain.PaymentIntent) error {
	_, err := r.db.ExecContext(ctx, insertIntentSQL,
		pi.Reference, pi.Provider, pi.AmountNGN, pi.Currency, pi.Email, pi.PropertyID,
		string(pi.Status), pi.CreatedAt.UTC(), pi.UpdatedAt.UTC(),
	)
	var me *mysqldrv.MySQLError
	if errors.As(err, &me) && me.Number == errDupEntry {
		return domain.ErrDuplicateReference
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIntent(s scanner) (domain.PaymentIntent, error) {
	var (
		pi     domain.PaymentIntent
		status string
		paidAt sql.NullTime
		raw    sql.NullString
	)
	if err := s.Scan(
		&pi.Reference, &pi.Provider, &pi.AmountNGN, &pi.Currency, &pi.Email, &pi.PropertyID,
		&status, &paidAt, &raw, &pi.CreatedAt, &pi.UpdatedAt,
	); err != nil {
		return domain.PaymentIntent{}, err
	}
	pi.Status = domain.PaymentStatus(status)
	if paidAt.Valid {
		t := paidAt.Time
		pi.PaidAt = &t
	}
	if raw.Valid && raw.String != "" {
		pi.Raw = json.RawMessage(raw.String)
	}
	return pi, nil
}

func (r *Repo) GetIntent(ctx context.Context, ref string) (domain.PaymentIntent, error) {
	pi, err := scanIntent(r.db.QueryRowContext(ctx, getIntentSQL, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentIntent{}, domain.ErrNotFound
	}
	return pi, err
}

func (r *Repo) CompareAndSetStatus(ctx context.Context, ref string, from, to domain.PaymentStatus, paidAt *time.Time, raw []byte) (bool, error) {
	res, err := r.db.ExecContext(ctx, casIntentStatusSQL,
		string(to), valTime(paidAt), valJSON(raw), time.Now().UTC(), ref, string(from),
	)
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
	// Zero rows is either a lost race or an unknown reference.
	if _, err := r.GetIntent(ctx, ref); err != nil {
		return false, err
	}
	return false, nil
}

func (r *Repo) AppendEvent(ctx context.Context, ev domain.PaymentEvent) error {
	_, err := r.db.ExecContext(ctx, insertEventSQL,
		ev.ID, ev.Reference, ev.Source, string(ev.FromStatus), string(ev.ToStatus),
		string(ev.Outcome), valJSON(ev.Raw), ev.CreatedAt.UTC(),
	)
	return err
}

func (r *Repo) ListEvents(ctx context.Context, ref string) ([]domain.PaymentEvent, error) {
	rows, err := r.db.QueryContext(ctx, listEventsSQL, ref)
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
		)
		if err := rows.Scan(&ev.ID, &ev.Reference, &ev.Source, &from, &to, &outcome, &raw, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.FromStatus = domain.PaymentStatus(from)
		ev.ToStatus = domain.PaymentStatus(to)
		ev.Outcome = domain.Outcome(outcome)
		if raw.Valid && raw.String != "" {
			ev.Raw = json.RawMessage(raw.String)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *Repo) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]domain.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx, listStaleSQL, createdBefore.UTC(), limit)
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

func (r *Repo) GetUser(ctx context.Context, email string) (domain.User, error) {
	var (
		u         domain.User
		hash      []byte
		activated sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, getUserSQL, email).Scan(&u.Email, &hash, &activated, &u.CreatedAt)
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
		t := activated.Time
		u.ActivatedAt = &t
	}
	return u, nil
}

func (r *Repo) ActivateUser(ctx context.Context, email string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, activateUserSQL, email, at.UTC(), at.UTC())
	return err
}

func (r *Repo) SetPasswordHash(ctx context.Context, email string, hash []byte) error {
	res, err := r.db.ExecContext(ctx, setPasswordSQL, hash, email)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
