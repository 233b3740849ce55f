package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	MigrationTableName = "tbl_migrations"
)

type Migrator struct {
	Database *sql.DB
	Dialect  Dialect
}

func NewMigrator(db *sql.DB, dialect Dialect) *Migrator {
	return &Migrator{
		Database: db,
		Dialect:  dialect,
	}
}

// Up applies every migration newer than the last recorded one, in
// identifier order, inside a single transaction.
func (migrator *Migrator) Up(ctx context.Context, migrations []Migration) error {
	if len(migrations) < 1 {
		return nil
	}

	currentIdentifier, err := migrator.currentVersion(ctx)
	if err != nil {
		return errors.Join(errors.New("getting current migration version failed"), err)
	}

	scheduled := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if m.Identifier() > currentIdentifier {
			scheduled = append(scheduled, m)
		}
	}

	if len(scheduled) < 1 {
		return nil
	}

	slices.SortFunc(scheduled, func(a, b Migration) int {
		return strings.Compare(a.Identifier(), b.Identifier())
	})

	transaction, err := migrator.Database.BeginTx(ctx, nil)
	if err != nil {
		return errors.Join(errors.New("starting migration transaction failed"), err)
	}
	defer transaction.Rollback()

	insert := fmt.Sprintf(`INSERT INTO %s (id, performed_at) VALUES (%s, %s);`,
		MigrationTableName, migrator.Dialect.placeholder(1), migrator.Dialect.placeholder(2))

	for _, m := range scheduled {
		if _, err := transaction.ExecContext(ctx, m.Up(migrator.Dialect)); err != nil {
			return errors.Join(fmt.Errorf("migration up failed for %s", m.Identifier()), err)
		}

		if _, err := transaction.ExecContext(ctx, insert, m.Identifier(), time.Now().UTC().Unix()); err != nil {
			return errors.Join(fmt.Errorf("recording migration %s failed", m.Identifier()), err)
		}
	}

	return transaction.Commit()
}

// Applied lists recorded migrations, oldest first.
func (migrator *Migrator) Applied(ctx context.Context) ([]MigrationEntity, error) {
	if err := migrator.setup(ctx); err != nil {
		return nil, err
	}

	rows, err := migrator.Database.QueryContext(ctx, `SELECT id, performed_at FROM `+MigrationTableName+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []MigrationEntity
	for rows.Next() {
		var entity MigrationEntity
		var performedAt int64
		if err := rows.Scan(&entity.Id, &performedAt); err != nil {
			return nil, err
		}
		entity.PerformedAt = time.Unix(performedAt, 0).UTC()
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// Return the identifier of the latest known successful migration
// If there is no migration history (i.e. first time), returns "" as the identifier
func (migrator *Migrator) currentVersion(ctx context.Context) (string, error) {
	if err := migrator.setup(ctx); err != nil {
		return "", errors.Join(errors.New("migration setup failed"), err)
	}

	var currentMigrationIdentifier string
	row := migrator.Database.QueryRowContext(ctx, `SELECT id FROM `+MigrationTableName+` ORDER BY id DESC LIMIT 1`)

	if err := row.Scan(&currentMigrationIdentifier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}

		return "", errors.Join(errors.New("getting last successful migration failed"), err)
	}

	return currentMigrationIdentifier, nil
}

func (migrator *Migrator) setup(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ` + MigrationTableName + ` (
			id TEXT NOT NULL,
			performed_at BIGINT NOT NULL,
			PRIMARY KEY (id)
		);
	`
	if _, err := migrator.Database.ExecContext(ctx, query); err != nil {
		return errors.Join(errors.New("migration setup failed"), err)
	}

	return nil
}
