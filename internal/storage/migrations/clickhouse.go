package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "buymax/internal/storage/clickhouse"
)

// RunClickhouseMigrations ensures the database exists and applies the embedded
// SQL files not yet recorded in schema_migrations.
// Returns a ClickHouse connection to the target database for reuse.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, Report, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, Report{}, err
	}

	adminConn, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, Report{}, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	if err := adminConn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
		adminConn.Close()
		return nil, Report{}, fmt.Errorf("create database %s: %w", dbName, err)
	}
	if err := adminConn.Close(); err != nil {
		return nil, Report{}, fmt.Errorf("close admin connection: %w", err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, Report{}, fmt.Errorf("connect clickhouse db: %w", err)
	}

	report, err := applyClickhouse(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, report, err
	}
	return conn, report, nil
}

func applyClickhouse(ctx context.Context, conn *chstore.Conn) (Report, error) {
	all, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return Report{}, err
	}

	if err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+trackingTable+` (
		name       String,
		applied_at DateTime DEFAULT now()
	) ENGINE = ReplacingMergeTree(applied_at)
	ORDER BY name`); err != nil {
		return Report{}, fmt.Errorf("create %s: %w", trackingTable, err)
	}

	applied, err := clickhouseApplied(ctx, conn)
	if err != nil {
		return Report{}, err
	}

	todo, report := pending(all, applied)
	for _, m := range todo {
		// The splitter cannot handle semicolons inside string literals.
		if err := validateNoSemicolonInStrings(m.SQL); err != nil {
			return report, fmt.Errorf("validate migration %s: %w", m.Name, err)
		}
		// ClickHouse driver doesn't support multiquery in Exec
		for _, stmt := range splitStatements(m.SQL) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return report, fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
		if err := conn.Exec(ctx, `INSERT INTO `+trackingTable+` (name) VALUES (?)`, m.Name); err != nil {
			return report, fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		report.Applied = append(report.Applied, m.Name)
	}
	return report, nil
}

func clickhouseApplied(ctx context.Context, conn *chstore.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT DISTINCT name FROM `+trackingTable)
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

// splitStatements splits SQL content into statements by semicolon after
// dropping blank and -- comment lines. Semicolons inside string literals or
// block comments are not supported.
func splitStatements(input string) []string {
	var filtered []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		filtered = append(filtered, line)
	}
	joined := strings.Join(filtered, "\n")

	var stmts []string
	for _, part := range strings.Split(joined, ";") {
		stmt := strings.TrimSpace(part)
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings checks that SQL doesn't contain semicolons inside
// single-quoted strings, which would break our simple statement splitter.
// Returns an error if a dangerous pattern is detected.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			// Handle escaped quotes ''
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++ // skip next quote
				continue
			}
			inString = !inString
		} else if ch == ';' && inString {
			return fmt.Errorf("semicolon found inside string literal - this breaks the migration splitter")
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}
