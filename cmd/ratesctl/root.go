package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stayhub/internal/adapters/observability"
	redisad "stayhub/internal/adapters/redis"
	"stayhub/internal/domain"
	"stayhub/internal/shared"
	"stayhub/internal/storage"
)

// cli carries the resolved settings shared by every subcommand.
type cli struct {
	v      *viper.Viper
	stores *storage.Stores
	cache  *redisad.Cache
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	root := &cobra.Command{
		Use:           "ratesctl",
		Short:         "Manage StayHub discount rates and properties",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.close()
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML file with store settings")
	pf.String("store-driver", "mysql", "Store backend (mysql, sqlite)")
	pf.String("mysql-dsn", "", "MySQL DSN")
	pf.String("sqlite-path", "./stayhub.db", "SQLite database file")
	pf.String("redis-addr", "", "Redis address; property imports drop cached entries")
	pf.String("log-level", "warn", "Log level")
	_ = c.v.BindPFlags(pf)

	// STORE_DRIVER, MYSQL_DSN, ... match the server's environment
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(showCmd(c))
	root.AddCommand(setCmd(c))
	root.AddCommand(importCmd(c))
	root.AddCommand(propertiesCmd(c))
	return root
}

func (c *cli) open(ctx context.Context) error {
	_ = godotenv.Load()
	if path := c.v.GetString("config"); path != "" {
		c.v.SetConfigFile(path)
		c.v.SetConfigType("yaml")
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	log.Logger = observability.NewLogger("dev", c.v.GetString("log-level"))

	cfg := shared.Config{
		StoreDriver: c.v.GetString("store-driver"),
		MySQLDSN:    c.v.GetString("mysql-dsn"),
		SQLitePath:  c.v.GetString("sqlite-path"),
	}
	switch cfg.StoreDriver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("store driver %q keeps nothing between runs; use mysql or sqlite", cfg.StoreDriver)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	c.stores = stores

	if addr := c.v.GetString("redis-addr"); addr != "" {
		c.cache = redisad.New(addr, "", 0)
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.cache.Ping(pctx); err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("redis unreachable; cached properties may be stale")
		}
	}
	return nil
}

func (c *cli) close() error {
	if c.cache != nil {
		_ = c.cache.Close()
	}
	if c.stores != nil {
		return c.stores.Close()
	}
	return nil
}

// domainCache avoids handing a typed nil to code that checks cache != nil.
func (c *cli) domainCache() domain.Cache {
	if c.cache == nil {
		return nil
	}
	return c.cache
}
