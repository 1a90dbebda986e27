// Package datarepopostgres loads uploaded tables into PostgreSQL. Each row is
// kept as a JSON array aligned with the table's column list.
package datarepopostgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"slices"

	"github.com/Abraxas-365/repohub/pkg/datarepo"
	"github.com/Abraxas-365/repohub/pkg/errx"
	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schema string

var sinkErrors = errx.NewRegistry("DATAREPO_POSTGRES")

var (
	ErrMigrate = sinkErrors.Register("MIGRATE", errx.TypeExternal, 500, "Failed to apply table schema")
	ErrAppend  = sinkErrors.Register("APPEND", errx.TypeExternal, 500, "Failed to store table rows")
	ErrRead    = sinkErrors.Register("READ", errx.TypeExternal, 500, "Failed to read table rows")
)

// Migrate creates the table storage if it does not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return sinkErrors.NewWithCause(ErrMigrate, err)
	}
	return nil
}

type rowRecord struct {
	OwnerID   string `db:"owner_id"`
	TableName string `db:"table_name"`
	Data      string `db:"data"`
}

// Sink implements datarepo.TableSink. Each upload is one transaction, so a
// failed or cancelled upload leaves no rows behind.
type Sink struct {
	db *sqlx.DB
}

func NewSink(db *sqlx.DB) *Sink {
	return &Sink{db: db}
}

// Begin opens the transaction the whole upload is written in. The table's
// row is locked until Commit or Rollback, so concurrent uploads into one
// table are serialized. A table keeps the column list of its first upload;
// later uploads must match it.
func (s *Sink) Begin(ctx context.Context, owner kernel.OwnerID, table string, columns []string) (datarepo.TableLoad, error) {
	cols, err := json.Marshal(columns)
	if err != nil {
		return nil, sinkErrors.NewWithCause(ErrAppend, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appendErr(err, owner, table)
	}
	l := &load{tx: tx, owner: owner, table: table}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO datarepo_tables (owner_id, table_name, columns)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, table_name) DO NOTHING`,
		owner.String(), table, string(cols),
	); err != nil {
		return nil, l.abort(err)
	}

	var stored string
	if err := tx.GetContext(ctx, &stored, `
		SELECT columns FROM datarepo_tables
		WHERE owner_id = $1 AND table_name = $2
		FOR UPDATE`,
		owner.String(), table,
	); err != nil {
		return nil, l.abort(err)
	}
	var existing []string
	if err := json.Unmarshal([]byte(stored), &existing); err != nil {
		return nil, l.abort(err)
	}
	if !slices.Equal(existing, columns) {
		_ = tx.Rollback()
		return nil, jobx.Failf(jobx.ClassConflict, "table %q already exists with columns %v", table, existing)
	}
	return l, nil
}

// load writes every batch of one upload in a single transaction.
type load struct {
	tx    *sqlx.Tx
	owner kernel.OwnerID
	table string
}

func (l *load) Append(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	records := make([]rowRecord, len(rows))
	for i, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return appendErr(err, l.owner, l.table)
		}
		records[i] = rowRecord{OwnerID: l.owner.String(), TableName: l.table, Data: string(data)}
	}
	if _, err := l.tx.NamedExecContext(ctx, `
		INSERT INTO datarepo_rows (owner_id, table_name, data)
		VALUES (:owner_id, :table_name, :data)`, records); err != nil {
		return appendErr(err, l.owner, l.table)
	}
	return nil
}

func (l *load) Commit(_ context.Context) error {
	if err := l.tx.Commit(); err != nil {
		return appendErr(err, l.owner, l.table)
	}
	return nil
}

func (l *load) Rollback(_ context.Context) error {
	if err := l.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return appendErr(err, l.owner, l.table)
	}
	return nil
}

func (l *load) abort(err error) error {
	_ = l.tx.Rollback()
	return appendErr(err, l.owner, l.table)
}

// Rows returns owner's table in load order.
func (s *Sink) Rows(ctx context.Context, owner kernel.OwnerID, table string) ([]string, [][]string, error) {
	var stored string
	if err := s.db.GetContext(ctx, &stored, `
		SELECT columns FROM datarepo_tables WHERE owner_id = $1 AND table_name = $2`,
		owner.String(), table,
	); err != nil {
		return nil, nil, sinkErrors.NewWithCause(ErrRead, err).WithDetail("table", table)
	}
	var columns []string
	if err := json.Unmarshal([]byte(stored), &columns); err != nil {
		return nil, nil, sinkErrors.NewWithCause(ErrRead, err).WithDetail("table", table)
	}

	var data []string
	if err := s.db.SelectContext(ctx, &data, `
		SELECT data FROM datarepo_rows
		WHERE owner_id = $1 AND table_name = $2
		ORDER BY id`,
		owner.String(), table,
	); err != nil {
		return nil, nil, sinkErrors.NewWithCause(ErrRead, err).WithDetail("table", table)
	}
	rows := make([][]string, len(data))
	for i, d := range data {
		if err := json.Unmarshal([]byte(d), &rows[i]); err != nil {
			return nil, nil, sinkErrors.NewWithCause(ErrRead, err).WithDetail("table", table)
		}
	}
	return columns, rows, nil
}

func appendErr(err error, owner kernel.OwnerID, table string) error {
	return sinkErrors.NewWithCause(ErrAppend, err).
		WithDetail("owner_id", owner.String()).
		WithDetail("table", table)
}
