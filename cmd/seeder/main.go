package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/commonledger/internal/config"
	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/logging"
	"github.com/punchamoorthee/commonledger/internal/service"
	"github.com/punchamoorthee/commonledger/internal/store"
)

var (
	totalPeople = flag.Int("people", 1000, "Number of members to seed")
	creditLimit = flag.String("credit-limit", "100", "Default credit limit of the seeded group")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Env, cfg.LogLevel)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("seeding failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	limit, err := decimal.NewFromString(*creditLimit)
	if err != nil {
		return fmt.Errorf("invalid credit limit: %w", err)
	}

	var st *store.Store
	if cfg.Driver == config.DriverSQLite {
		st, err = store.OpenSQLite(cfg.SQLitePath)
	} else {
		st, err = store.OpenPostgres(ctx, cfg.DBSource)
	}
	if err != nil {
		return err
	}
	defer st.Close()

	logger.Info("--- Seeding Database ---")

	// 1. Check existing
	ids, err := st.ListPersonIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) >= *totalPeople {
		logger.Info("database already seeded, skipping", "people", len(ids))
		return nil
	}

	// 2. Bulk insert people
	missing := *totalPeople - len(ids)
	logger.Info("generating people", "count", missing)
	if cfg.Driver == config.DriverSQLite {
		err = insertPeople(ctx, st, len(ids), missing)
	} else {
		err = copyPeople(ctx, cfg.DBSource, len(ids), missing)
	}
	if err != nil {
		return err
	}
	if ids, err = st.ListPersonIDs(ctx); err != nil {
		return err
	}

	// 3. The community and its currency, owned by the first person
	groups := service.NewGroupService(st, logger)
	g := &domain.Group{
		Name:               "Seed Community",
		Unit:               "hours",
		Asset:              "hours",
		Mode:               domain.GroupPublic,
		OwnerID:            ids[0],
		AdhocCurrency:      true,
		DefaultCreditLimit: decimal.NewNullDecimal(limit),
	}
	if err := groups.Create(ctx, g); err != nil {
		return fmt.Errorf("group creation failed: %w", err)
	}

	// 4. Everyone else joins; public groups accept on request
	prefs := service.PreferencesFromConfig(cfg)
	memberships := service.NewMembershipService(st, nil, prefs, logger)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for _, id := range ids[1:] {
		eg.Go(func() error {
			if _, err := memberships.Request(egCtx, id, g.ID); err != nil {
				return fmt.Errorf("person %d: %w", id, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	logger.Info("seeded community", "group_id", g.ID, "members", len(ids), "first_person_id", ids[0])
	return nil
}

// copyPeople uses COPY, the fastest path into postgres.
func copyPeople(ctx context.Context, dbURL string, offset, n int) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	now := time.Now().UnixMicro()
	rows := make([][]any, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, []any{fmt.Sprintf("Member %d", offset+i+1), "", false, now})
	}

	copied, err := conn.CopyFrom(
		ctx,
		pgx.Identifier{"people"},
		[]string{"name", "business_name", "deactivated", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("bulk insert failed: %w", err)
	}
	slog.Info("copied people", "count", copied)
	return nil
}

func insertPeople(ctx context.Context, st *store.Store, offset, n int) error {
	return st.InTx(ctx, func(q *store.Queries) error {
		for i := 0; i < n; i++ {
			p := &domain.Person{Name: fmt.Sprintf("Member %d", offset+i+1)}
			if err := q.CreatePerson(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}
