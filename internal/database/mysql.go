package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MySQLClient journals every analysis in MySQL
type MySQLClient struct {
	db     *sql.DB
	logger *logrus.Entry
}

// NewMySQLClient creates a new MySQL client
func NewMySQLClient(cfg *config.MySQLConfig, logger *logrus.Logger) (*MySQLClient, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	logger.WithField("dsn", fmt.Sprintf("%s:***@tcp(%s:%d)/%s", cfg.User, cfg.Host, cfg.Port, cfg.Database)).Debug("Connecting to MySQL")

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	return NewMySQLClientFromDB(db, logger), nil
}

// NewMySQLClientFromDB wraps an already opened database handle
func NewMySQLClientFromDB(db *sql.DB, logger *logrus.Logger) *MySQLClient {
	return &MySQLClient{
		db:     db,
		logger: logger.WithField("component", "mysql"),
	}
}

// Close closes the database connection
func (mc *MySQLClient) Close() error {
	return mc.db.Close()
}

// Health checks database health
func (mc *MySQLClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return mc.db.PingContext(ctx)
}

const insertAnalysisSQL = `
	INSERT INTO fib_analyses (
		run_id, symbol, bar_interval, source, trend, fib_signal,
		high_value, low_value, high_time, low_time, fibo_range,
		golden_zone_low, golden_zone_high, current_price, in_golden_zone,
		levels, calculated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertAnalysis appends an analysis to the journal
func (mc *MySQLClient) InsertAnalysis(ctx context.Context, a *models.Analysis) error {
	if a.Result == nil {
		return nil
	}
	r := a.Result

	levels, err := json.Marshal(r.Levels)
	if err != nil {
		return fmt.Errorf("failed to marshal levels: %w", err)
	}

	_, err = mc.db.ExecContext(ctx, insertAnalysisSQL,
		a.RunID, a.Symbol, a.Interval, a.Source, string(r.Trend), string(a.Signal),
		r.HighValue, r.LowValue, r.HighTimestamp.UTC(), r.LowTimestamp.UTC(), r.Range,
		r.GoldenZone.Low, r.GoldenZone.High, r.CurrentPrice, r.InGoldenZone,
		levels, r.CalculatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis for %s: %w", a.Symbol, err)
	}

	return nil
}

const recentAnalysesSQL = `
	SELECT run_id, symbol, bar_interval, source, trend, fib_signal,
	       high_value, low_value, high_time, low_time, fibo_range,
	       golden_zone_low, golden_zone_high, current_price, in_golden_zone,
	       levels, calculated_at
	FROM fib_analyses
	WHERE symbol = ?
	ORDER BY calculated_at DESC, id DESC
	LIMIT ?
`

// RecentAnalyses returns up to limit journaled analyses for symbol, newest first
func (mc *MySQLClient) RecentAnalyses(ctx context.Context, symbol string, limit int) ([]*models.Analysis, error) {
	rows, err := mc.db.QueryContext(ctx, recentAnalysesSQL, strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var analyses []*models.Analysis
	for rows.Next() {
		var (
			a      models.Analysis
			r      models.CalculationResult
			trend  string
			signal string
			levels []byte
		)

		if err := rows.Scan(
			&a.RunID, &a.Symbol, &a.Interval, &a.Source, &trend, &signal,
			&r.HighValue, &r.LowValue, &r.HighTimestamp, &r.LowTimestamp, &r.Range,
			&r.GoldenZone.Low, &r.GoldenZone.High, &r.CurrentPrice, &r.InGoldenZone,
			&levels, &r.CalculatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}

		if err := json.Unmarshal(levels, &r.Levels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal levels: %w", err)
		}

		r.Symbol = a.Symbol
		r.Trend = models.Trend(trend)
		a.Signal = models.Signal(signal)
		a.Result = &r
		analyses = append(analyses, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate analyses: %w", err)
	}

	return analyses, nil
}

// Migration is one embedded schema change
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// LoadMigrations returns the embedded migrations ordered by version
func LoadMigrations() ([]Migration, error) {
	files, err := fs.Glob(migrationFiles, "migrations/*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(files)

	migrations := make([]Migration, 0, len(files))
	for _, file := range files {
		base := strings.TrimSuffix(strings.TrimPrefix(file, "migrations/"), ".up.sql")
		version, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("invalid migration file name: %s", file)
		}

		up, err := migrationFiles.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		down, err := migrationFiles.ReadFile(strings.TrimSuffix(file, ".up.sql") + ".down.sql")
		if err != nil {
			return nil, fmt.Errorf("failed to read down migration for %s: %w", base, err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			UpSQL:   string(up),
			DownSQL: string(down),
		})
	}

	return migrations, nil
}

// AppliedMigrations returns the applied versions with their timestamps
func (mc *MySQLClient) AppliedMigrations(ctx context.Context) (map[string]time.Time, error) {
	if err := mc.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	rows, err := mc.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var (
			version string
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		applied[version] = at
	}

	return applied, rows.Err()
}

// MigrateUp applies every pending migration and returns how many ran
func (mc *MySQLClient) MigrateUp(ctx context.Context) (int, error) {
	migrations, err := LoadMigrations()
	if err != nil {
		return 0, err
	}
	applied, err := mc.AppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}

		err := mc.ExecTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("failed to apply migration %s_%s: %w", m.Version, m.Name, err)
		}

		mc.logger.WithField("version", m.Version).Info("Applied migration")
		count++
	}

	return count, nil
}

// MigrateDown rolls back the most recently applied migration
func (mc *MySQLClient) MigrateDown(ctx context.Context) (string, error) {
	migrations, err := LoadMigrations()
	if err != nil {
		return "", err
	}
	applied, err := mc.AppliedMigrations(ctx)
	if err != nil {
		return "", err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if _, ok := applied[m.Version]; !ok {
			continue
		}

		err := mc.ExecTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("failed to roll back migration %s_%s: %w", m.Version, m.Name, err)
		}

		mc.logger.WithField("version", m.Version).Info("Rolled back migration")
		return m.Version, nil
	}

	return "", nil
}

func (mc *MySQLClient) ensureMigrationsTable(ctx context.Context) error {
	_, err := mc.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(32)  PRIMARY KEY,
			name       VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// ExecTx executes a function within a transaction
func (mc *MySQLClient) ExecTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := mc.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
