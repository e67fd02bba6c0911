package ayaka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// ErrBootstrap indicates the schema_migrations ledger table could not be
// created. Nothing has been applied when this is returned.
var ErrBootstrap = errors.New("cannot initialize migration ledger")

// SchemaMigration is a single row in the applied-migration ledger. Rows are
// inserted in the same transaction as the migration's own statements, and
// are never updated or deleted by the bot.
type SchemaMigration struct {
	Version     int       `gorm:"primaryKey" json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `gorm:"autoCreateTime" json:"applied_at"`
}

// TableName implements the gorm schema.Tabler interface.
func (SchemaMigration) TableName() string {
	return "schema_migrations"
}

// StatementError is returned when a statement inside a migration script
// fails. The enclosing transaction has been rolled back: none of the
// script's statements are committed, and no ledger row exists for it.
type StatementError struct {
	// Version of the script that failed
	Version int `json:"version"`

	// Index of the offending statement within the script, starting at 0
	Index int `json:"index"`

	// Statement is the SQL text that failed
	Statement string `json:"statement"`

	// Err is the underlying database error
	Err error `json:"-"`
}

func (e *StatementError) Error() string {
	return fmt.Sprintf(
		"migration V%d: statement %d failed: %s (%s)",
		e.Version,
		e.Index,
		e.Err,
		e.Statement,
	)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// MigrationReport summarizes a single Run: which versions were committed,
// and the first failure, if any. Applied versions stay committed even when
// Failed is set.
type MigrationReport struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Applied    []int           `json:"applied"`
	Failed     *StatementError `json:"failed,omitempty"`
}

// Migrator brings a database from whatever schema version it's currently at
// up to the highest version in a script set, applying each missing script
// exactly once, in ascending version order, inside one transaction per
// version.
//
// Migrator never inspects the live schema - only the schema_migrations
// ledger. Scripts below the ledger watermark are never reattempted, even
// if their DDL would be idempotent.
//
// A single process instance should run migrations at a time; the
// per-version transaction is the only synchronization primitive used.
type Migrator struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewMigrator returns a Migrator operating on the given connection. A nil
// logger falls back to slog.Default.
func NewMigrator(db *gorm.DB, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		db:     db,
		logger: logger.With(loggerNameKey, "migrator"),
	}
}

// ensureLedger creates the schema_migrations table if it doesn't exist yet.
// This only ever touches the ledger - application tables are created by
// the scripts themselves.
func (m *Migrator) ensureLedger(ctx context.Context) error {
	mg := m.db.WithContext(ctx).Migrator()
	if mg.HasTable(&SchemaMigration{}) {
		return nil
	}
	m.logger.InfoContext(ctx, "creating migration ledger table")
	if err := mg.CreateTable(&SchemaMigration{}); err != nil {
		return fmt.Errorf("%w: %w", ErrBootstrap, err)
	}
	return nil
}

// CurrentVersion returns the highest version in the ledger. The second
// return value is false when no migrations have been applied yet. The
// ledger table is created first if it doesn't exist.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, bool, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return 0, false, err
	}
	var rec SchemaMigration
	err := m.db.WithContext(ctx).Order("version desc").First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return rec.Version, true, nil
}

// Applied returns the full ledger, ascending by version.
func (m *Migrator) Applied(ctx context.Context) ([]SchemaMigration, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	var records []SchemaMigration
	err := m.db.WithContext(ctx).Order("version asc").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Pending filters scripts down to those above the current ledger watermark,
// sorted ascending by version. The order scripts are passed in doesn't
// matter. Duplicate versions are an error - two scripts claiming the same
// version can't be totally ordered.
func (m *Migrator) Pending(
	ctx context.Context,
	scripts []MigrationScript,
) ([]MigrationScript, error) {
	current, _, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]string, len(scripts))
	pending := make([]MigrationScript, 0, len(scripts))
	for _, script := range scripts {
		if prev, ok := seen[script.Version]; ok {
			return nil, fmt.Errorf(
				"duplicate migration version V%d (%q and %q)",
				script.Version,
				prev,
				script.Name,
			)
		}
		seen[script.Version] = script.Name
		if script.Version > current {
			pending = append(pending, script)
		}
	}

	sort.Slice(
		pending, func(i, j int) bool {
			return pending[i].Version < pending[j].Version
		},
	)
	return pending, nil
}

// Apply executes every statement of the given script, then inserts its
// ledger row, all inside a single transaction. On any failure the whole
// transaction is rolled back and a *StatementError is returned.
//
// Apply doesn't consult the ledger watermark - use Run for that. Calling
// Apply for an already-applied version will fail on the ledger insert.
func (m *Migrator) Apply(ctx context.Context, script MigrationScript) error {
	if err := m.ensureLedger(ctx); err != nil {
		return err
	}

	log := m.logger.With(
		"version", script.Version,
		"description", script.Description,
	)
	log.InfoContext(
		ctx,
		"applying migration",
		"statements", len(script.Statements),
	)
	started := time.Now()

	err := m.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			for i, stmt := range script.Statements {
				if execErr := tx.Exec(stmt).Error; execErr != nil {
					return &StatementError{
						Version:   script.Version,
						Index:     i,
						Statement: stmt,
						Err:       execErr,
					}
				}
			}
			record := SchemaMigration{
				Version:     script.Version,
				Description: script.Description,
			}
			if createErr := tx.Create(&record).Error; createErr != nil {
				return fmt.Errorf(
					"migration V%d: recording ledger entry: %w",
					script.Version,
					createErr,
				)
			}
			return nil
		},
	)
	if err != nil {
		log.ErrorContext(ctx, "migration failed, rolled back", tint.Err(err))
		return err
	}

	log.InfoContext(
		ctx,
		"migration applied",
		"elapsed", time.Since(started),
	)
	return nil
}

// Run computes the pending scripts and applies each in ascending version
// order, halting at the first failure - later scripts may assume earlier
// ones succeeded, so nothing past a failed version is attempted.
//
// The returned report is non-nil even on error, and lists the versions
// that were committed before the failure. Re-running after the underlying
// problem is fixed is safe: the pending set is recomputed from the ledger,
// so only the failed version onward is reattempted.
func (m *Migrator) Run(
	ctx context.Context,
	scripts []MigrationScript,
) (*MigrationReport, error) {
	report := &MigrationReport{
		StartedAt: time.Now().UTC(),
		Applied:   []int{},
	}

	pending, err := m.Pending(ctx, scripts)
	if err != nil {
		report.FinishedAt = time.Now().UTC()
		return report, err
	}
	if len(pending) == 0 {
		m.logger.InfoContext(ctx, "schema is up to date")
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}

	for _, script := range pending {
		if applyErr := m.Apply(ctx, script); applyErr != nil {
			var stmtErr *StatementError
			if errors.As(applyErr, &stmtErr) {
				report.Failed = stmtErr
			}
			report.FinishedAt = time.Now().UTC()
			return report, applyErr
		}
		report.Applied = append(report.Applied, script.Version)
	}

	report.FinishedAt = time.Now().UTC()
	m.logger.InfoContext(
		ctx,
		"migrations complete",
		"applied", report.Applied,
	)
	return report, nil
}
