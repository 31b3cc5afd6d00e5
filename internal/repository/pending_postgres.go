package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
)

// PostgresPendingRepository keeps pending transfers in the pending_transfers
// table. Mutations take a row lock with SELECT ... FOR UPDATE.
type PostgresPendingRepository struct {
	store *Store
	now   func() time.Time
	newID func() string
}

var _ domain.PendingRepository = (*PostgresPendingRepository)(nil)

func NewPostgresPendingRepository(store *Store) *PostgresPendingRepository {
	return &PostgresPendingRepository{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: NewPendingID,
	}
}

func (r *PostgresPendingRepository) Create(ctx context.Context, req domain.TransferRequest, resumeToken []byte, status domain.PendingStatus) (*domain.PendingTransfer, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		p, err := newPendingRecord(r.newID(), req, resumeToken, status, r.now())
		if err != nil {
			return nil, err
		}
		err = r.store.queries().insert(ctx, p)
		if stderrors.Is(err, errors.ErrDuplicatePending) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, errors.NewAppError(errors.DuplicatePending, "could not allocate a unique pending id")
}

func (r *PostgresPendingRepository) Get(ctx context.Context, id string) (*domain.PendingTransfer, error) {
	return r.store.queries().get(ctx, id, false)
}

func (r *PostgresPendingRepository) Update(ctx context.Context, id string, status domain.PendingStatus, outcome *domain.TransferOutcome) (*domain.PendingTransfer, error) {
	return r.Mutate(ctx, id, updateFunc(status, outcome))
}

func (r *PostgresPendingRepository) Mutate(ctx context.Context, id string, fn domain.MutateFunc) (*domain.PendingTransfer, error) {
	var result *domain.PendingTransfer
	err := r.store.WithTransaction(ctx, func(tx *Store) error {
		q := tx.queries()
		cur, err := q.get(ctx, id, true)
		if err != nil {
			return err
		}
		next, changed, err := applyMutation(cur, fn, r.now())
		if err != nil {
			return err
		}
		if changed {
			if err := q.update(ctx, next); err != nil {
				return err
			}
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresPendingRepository) List(ctx context.Context, filter domain.PendingFilter) ([]*domain.PendingTransfer, error) {
	return r.store.queries().list(ctx, filter)
}

func (r *PostgresPendingRepository) Delete(ctx context.Context, id string) error {
	return r.store.queries().delete(ctx, id)
}

type pendingQueries struct {
	db     SQLExecutor
	logger zerolog.Logger
}

const pendingColumns = `id, request, resume_token, status, outcome, last_error, poll_count, created_at, last_polled_at, updated_at`

func (q *pendingQueries) insert(ctx context.Context, p *domain.PendingTransfer) error {
	query := `
		INSERT INTO pending_transfers (` + pendingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	request, outcome, err := encodeJSONColumns(p)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, query,
		p.ID, request, p.ResumeToken, p.Status, outcome, p.LastError, p.PollCount,
		p.CreatedAt, nullTime(p.LastPolledAt), p.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			q.logger.Warn().Str("pending_id", p.ID).Msg("pending id collision")
			return errors.ErrDuplicatePending
		}
		q.logger.Error().Err(err).Str("pending_id", p.ID).Msg("failed to create pending transfer")
		return errors.Wrap(errors.InternalError, "failed to create pending transfer", err)
	}

	q.logger.Info().Str("pending_id", p.ID).Str("status", string(p.Status)).Msg("pending transfer created")
	return nil
}

func (q *pendingQueries) get(ctx context.Context, id string, forUpdate bool) (*domain.PendingTransfer, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_transfers WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	p, err := scanPending(q.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound(id)
		}
		q.logger.Error().Err(err).Str("pending_id", id).Msg("failed to get pending transfer")
		return nil, errors.Wrap(errors.InternalError, "failed to get pending transfer", err)
	}
	return p, nil
}

func (q *pendingQueries) update(ctx context.Context, p *domain.PendingTransfer) error {
	query := `
		UPDATE pending_transfers
		SET resume_token = $1, status = $2, outcome = $3, last_error = $4,
		    poll_count = $5, last_polled_at = $6, updated_at = $7
		WHERE id = $8
	`

	_, outcome, err := encodeJSONColumns(p)
	if err != nil {
		return err
	}

	result, err := q.db.ExecContext(ctx, query,
		p.ResumeToken, p.Status, outcome, p.LastError, p.PollCount,
		nullTime(p.LastPolledAt), p.UpdatedAt, p.ID,
	)
	if err != nil {
		q.logger.Error().Err(err).Str("pending_id", p.ID).Msg("failed to update pending transfer")
		return errors.Wrap(errors.InternalError, "failed to update pending transfer", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.InternalError, "failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return notFound(p.ID)
	}

	q.logger.Debug().Str("pending_id", p.ID).Str("status", string(p.Status)).Msg("pending transfer updated")
	return nil
}

func (q *pendingQueries) list(ctx context.Context, filter domain.PendingFilter) ([]*domain.PendingTransfer, error) {
	query := `
		SELECT ` + pendingColumns + `
		FROM pending_transfers
		WHERE ($1 = '' OR status = $1)
		  AND (NOT $2 OR status IN ('awaiting_approval', 'error'))
		ORDER BY created_at DESC, id
		LIMIT $3
	`

	var limit interface{}
	if filter.Limit > 0 {
		limit = filter.Limit
	}

	rows, err := q.db.QueryContext(ctx, query, string(filter.Status), filter.LiveOnly, limit)
	if err != nil {
		q.logger.Error().Err(err).Msg("failed to list pending transfers")
		return nil, errors.Wrap(errors.InternalError, "failed to list pending transfers", err)
	}
	defer rows.Close()

	records := []*domain.PendingTransfer{}
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, errors.Wrap(errors.InternalError, "failed to scan pending transfer", err)
		}
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to list pending transfers", err)
	}
	return records, nil
}

func (q *pendingQueries) delete(ctx context.Context, id string) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM pending_transfers WHERE id = $1`, id)
	if err != nil {
		q.logger.Error().Err(err).Str("pending_id", id).Msg("failed to delete pending transfer")
		return errors.Wrap(errors.InternalError, "failed to delete pending transfer", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.InternalError, "failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return notFound(id)
	}
	q.logger.Info().Str("pending_id", id).Msg("pending transfer deleted")
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPending(row rowScanner) (*domain.PendingTransfer, error) {
	var p domain.PendingTransfer
	var request []byte
	var outcome []byte
	var lastPolledAt sql.NullTime

	err := row.Scan(
		&p.ID,
		&request,
		&p.ResumeToken,
		&p.Status,
		&outcome,
		&p.LastError,
		&p.PollCount,
		&p.CreatedAt,
		&lastPolledAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(request, &p.Request); err != nil {
		return nil, err
	}
	if len(outcome) > 0 {
		var o domain.TransferOutcome
		if err := json.Unmarshal(outcome, &o); err != nil {
			return nil, err
		}
		p.Outcome = &o
	}
	if lastPolledAt.Valid {
		t := lastPolledAt.Time
		p.LastPolledAt = &t
	}
	return &p, nil
}

// encodeJSONColumns returns text values; lib/pq would send []byte as bytea.
func encodeJSONColumns(p *domain.PendingTransfer) (request string, outcome interface{}, err error) {
	b, err := json.Marshal(p.Request)
	if err != nil {
		return "", nil, errors.Wrap(errors.InternalError, "failed to encode transfer request", err)
	}
	request = string(b)
	if p.Outcome != nil {
		o, err := json.Marshal(p.Outcome)
		if err != nil {
			return "", nil, errors.Wrap(errors.InternalError, "failed to encode outcome", err)
		}
		outcome = string(o)
	}
	return request, outcome, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
