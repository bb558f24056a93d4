package migrations

import (
	"context"
	"fmt"

	"buymax/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded SQL files not yet recorded in
// schema_migrations, each in its own transaction together with its record.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) (Report, error) {
	all, err := load(PostgresFS, "postgres")
	if err != nil {
		return Report{}, err
	}

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+trackingTable+` (
		name       TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return Report{}, fmt.Errorf("create %s: %w", trackingTable, err)
	}

	applied, err := postgresApplied(ctx, pool)
	if err != nil {
		return Report{}, err
	}

	todo, report := pending(all, applied)
	for _, m := range todo {
		if err := applyPostgres(ctx, pool, m); err != nil {
			return report, err
		}
		report.Applied = append(report.Applied, m.Name)
	}
	return report, nil
}

func postgresApplied(ctx context.Context, pool *postgres.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT name FROM `+trackingTable)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func applyPostgres(ctx context.Context, pool *postgres.Pool, m Migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.Name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.Name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO `+trackingTable+` (name) VALUES ($1)`, m.Name); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.Name, err)
	}
	return nil
}
