// Package jobxpostgres stores job records in PostgreSQL and queues job ids
// in a table drained with SELECT ... FOR UPDATE SKIP LOCKED.
package jobxpostgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// Migrate creates the job tables if they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return pgErrors.NewWithCause(ErrMigrate, err)
	}
	return nil
}

// jobRow is the persistence model of jobx.JobRecord.
type jobRow struct {
	JobID               string         `db:"job_id"`
	OwnerID             string         `db:"owner_id"`
	RequestType         string         `db:"request_type"`
	State               string         `db:"state"`
	Request             string         `db:"request"`
	Response            sql.NullString `db:"response"`
	ErrorMessage        sql.NullString `db:"error_message"`
	ErrorClassification sql.NullString `db:"error_classification"`
	ProgressCurrent     sql.NullInt64  `db:"progress_current"`
	ProgressTotal       sql.NullInt64  `db:"progress_total"`
	ProgressMessage     sql.NullString `db:"progress_message"`
	StartedOn           time.Time      `db:"started_on"`
	LastChangedOn       time.Time      `db:"last_changed_on"`
}

func toPersistence(rec *jobx.JobRecord) jobRow {
	row := jobRow{
		JobID:         rec.JobID,
		OwnerID:       rec.OwnerID.String(),
		RequestType:   rec.RequestType,
		State:         string(rec.State),
		Request:       string(rec.Request),
		Response:      sql.NullString{String: string(rec.Response), Valid: rec.Response != nil},
		StartedOn:     rec.StartedOn,
		LastChangedOn: rec.LastChangedOn,
	}
	if rec.Error != nil {
		row.ErrorMessage = sql.NullString{String: rec.Error.Message, Valid: true}
		row.ErrorClassification = sql.NullString{String: string(rec.Error.Classification), Valid: true}
	}
	if p := rec.Progress; p != nil {
		row.ProgressCurrent = sql.NullInt64{Int64: p.Current, Valid: true}
		row.ProgressTotal = sql.NullInt64{Int64: p.Total, Valid: true}
		row.ProgressMessage = sql.NullString{String: p.Message, Valid: true}
	}
	return row
}

func toDomain(row jobRow) *jobx.JobRecord {
	rec := &jobx.JobRecord{
		JobID:         row.JobID,
		OwnerID:       kernel.OwnerID(row.OwnerID),
		RequestType:   row.RequestType,
		State:         jobx.State(row.State),
		Request:       []byte(row.Request),
		StartedOn:     row.StartedOn.UTC(),
		LastChangedOn: row.LastChangedOn.UTC(),
	}
	if row.Response.Valid {
		rec.Response = []byte(row.Response.String)
	}
	if row.ErrorClassification.Valid {
		rec.Error = &jobx.ErrorInfo{Message: row.ErrorMessage.String, Classification: jobx.Classification(row.ErrorClassification.String)}
	}
	if row.ProgressCurrent.Valid {
		rec.Progress = &jobx.Progress{Current: row.ProgressCurrent.Int64, Total: row.ProgressTotal.Int64, Message: row.ProgressMessage.String}
	}
	return rec
}

// Store implements jobx.Store on the jobx_jobs table.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Create(ctx context.Context, rec *jobx.JobRecord) error {
	query := `
		INSERT INTO jobx_jobs (
			job_id, owner_id, request_type, state, request, response,
			error_message, error_classification,
			progress_current, progress_total, progress_message,
			started_on, last_changed_on
		) VALUES (
			:job_id, :owner_id, :request_type, :state, :request, :response,
			:error_message, :error_classification,
			:progress_current, :progress_total, :progress_message,
			:started_on, :last_changed_on
		)`

	if _, err := s.db.NamedExecContext(ctx, query, toPersistence(rec)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return pgErrors.New(ErrDuplicate).WithDetail("job_id", rec.JobID)
		}
		return pgErrors.NewWithCause(ErrCreate, err).WithDetail("job_id", rec.JobID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*jobx.JobRecord, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobx_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobx.NotFound(jobID)
		}
		return nil, pgErrors.NewWithCause(ErrGetJob, err).WithDetail("job_id", jobID)
	}
	return toDomain(row), nil
}

func (s *Store) Transition(ctx context.Context, jobID string, t jobx.Transition) (*jobx.JobRecord, bool, error) {
	if err := t.Validate(); err != nil {
		return nil, false, err
	}

	var response, errMessage, errClass sql.NullString
	if t.To == jobx.StateComplete {
		response = sql.NullString{String: string(t.Response), Valid: true}
	}
	if t.Error != nil {
		errMessage = sql.NullString{String: t.Error.Message, Valid: true}
		errClass = sql.NullString{String: string(t.Error.Classification), Valid: true}
	}

	query := `
		UPDATE jobx_jobs SET
			state = $2,
			last_changed_on = $3,
			response = COALESCE($4::json, response),
			error_message = COALESCE($5, error_message),
			error_classification = COALESCE($6, error_classification)
		WHERE job_id = $1 AND state = ANY($7)
		RETURNING *`

	return s.cas(ctx, jobID, query, jobID, string(t.To), s.now(), response, errMessage, errClass, stateArray(t.Sources()))
}

func (s *Store) UpdateProgress(ctx context.Context, jobID string, p jobx.Progress) (*jobx.JobRecord, error) {
	query := `
		UPDATE jobx_jobs SET
			progress_current = $2,
			progress_total = $3,
			progress_message = $4,
			last_changed_on = $5
		WHERE job_id = $1 AND state = $6
		RETURNING *`

	rec, _, err := s.cas(ctx, jobID, query, jobID, p.Current, p.Total, p.Message, s.now(), string(jobx.StateProcessing))
	return rec, err
}

// cas runs a conditional UPDATE ... RETURNING. When the condition does not
// hold it reads the record as it is.
func (s *Store) cas(ctx context.Context, jobID, query string, args ...any) (*jobx.JobRecord, bool, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if err == nil {
		return toDomain(row), true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, pgErrors.NewWithCause(ErrTransition, err).WithDetail("job_id", jobID)
	}
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

func stateArray(states []jobx.State) pq.StringArray {
	out := make(pq.StringArray, len(states))
	for i, st := range states {
		out[i] = string(st)
	}
	return out
}

var _ jobx.Store = (*Store)(nil)
