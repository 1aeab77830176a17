package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noah-isme/backend-pricing/internal/app"
	"github.com/noah-isme/backend-pricing/internal/config"
	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "seeder").Logger()

	packPath := flag.String("pack", cfg.RulePackPath, "rule pack YAML to load")
	migrateOnly := flag.Bool("migrate-only", false, "apply migrations and exit")
	flag.Parse()

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}
	logger.Info().Msg("migrations applied")
	if *migrateOnly {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	pool, err := app.OpenDatabase(ctx, cfg, "seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	rules := store.RuleRepo{DB: pool}
	if *packPath == "" {
		created, err := rules.EnsureDefaultRule(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("ensure default rule")
		}
		logger.Info().Bool("default_rule_created", created).Msg("no rule pack given; default rule ensured")
		return
	}

	pack, err := store.LoadRulePack(*packPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *packPath).Msg("load rule pack")
	}
	sum, err := pack.Seed(ctx, rules, store.AggregateRepo{DB: pool})
	if err != nil {
		logger.Error().Err(err).
			Int("rules", sum.Rules).
			Int("customers", sum.Customers).
			Msg("seed rule pack")
		os.Exit(1)
	}
	logger.Info().
		Str("path", *packPath).
		Int("rules", sum.Rules).
		Int("customers", sum.Customers).
		Int("customer_rules", sum.CustomerRules).
		Int("products", sum.Products).
		Int("aggregates", sum.Aggregates).
		Bool("default_rule_created", sum.DefaultRule).
		Msg("seeding completed")
}
