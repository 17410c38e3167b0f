// Package storage picks the backend named by STORE_DRIVER and exposes it
// through the domain ports.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"stayhub/internal/domain"
	"stayhub/internal/shared"
	"stayhub/internal/storage/memory"
	mysqlrepo "stayhub/internal/storage/mysql"
	"stayhub/internal/storage/sqlite"
)

type backend interface {
	domain.PropertyCatalog
	domain.DiscountStore
	domain.PaymentStore
	domain.UserStore
	UpsertProperty(ctx context.Context, p domain.Property) error
}

type Stores struct {
	Driver    string
	Catalog   domain.PropertyCatalog
	Discounts domain.DiscountStore
	Payments  domain.PaymentStore // nil when the driver keeps no payments
	Users     domain.UserStore
	Writer    interface {
		UpsertProperty(ctx context.Context, p domain.Property) error
	}

	close func() error
}

func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func use(s *Stores, b backend, withPayments bool) {
	s.Catalog, s.Discounts, s.Users, s.Writer = b, b, b, b
	if withPayments {
		s.Payments = b
	}
}

func Open(ctx context.Context, cfg shared.Config) (*Stores, error) {
	s := &Stores{Driver: cfg.StoreDriver}
	switch cfg.StoreDriver {
	case "mysql":
		if cfg.MySQLDSN == "" {
			return nil, fmt.Errorf("STORE_DRIVER=mysql needs MYSQL_DSN")
		}
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("sql.Open: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetConnMaxLifetime(5 * time.Minute)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		use(s, mysqlrepo.New(db), true)
		s.close = db.Close
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		use(s, st, true)
		s.close = st.Close
	case "memory":
		use(s, memory.New(), true)
	case "none", "":
		use(s, memory.New(), false)
		log.Warn().Msg("no payment store configured; payment endpoints will answer 503")
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	log.Info().Str("driver", cfg.StoreDriver).Bool("payments", s.Payments != nil).Msg("storage ready")
	return s, nil
}
