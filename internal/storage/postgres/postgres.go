package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
)

const uniqueViolation = "23505"

type Repository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var (
	_ domain.Repository     = (*Repository)(nil)
	_ domain.EventDirectory = (*Repository)(nil)
	_ domain.Membership     = (*Repository)(nil)
)

func NewRepository(db *sqlx.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Connect opens a pooled connection and verifies it with a ping.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

type txKey struct{}

// conn returns the transaction carried by ctx, or the pool.
func (r *Repository) conn(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return r.db
}

// WithTransaction runs fn with a context carrying a transaction. A nested
// call joins the outer transaction.
func (r *Repository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackTx(tx, r.logger)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return translate("commit", err)
	}
	return nil
}

func rollbackTx(tx *sqlx.Tx, logger *zap.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Error("Failed to rollback transaction", zap.Error(err))
	}
}

func closeRows(rows *sqlx.Rows, logger *zap.Logger) {
	if err := rows.Close(); err != nil {
		logger.Error("Failed to close rows", zap.Error(err))
	}
}

// translate maps driver errors onto the domain taxonomy.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &domain.RepositoryError{Op: op, Err: domain.ErrConflict}
	}
	return &domain.RepositoryError{Op: op, Err: err}
}

func expectOne(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return translate(op, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const pollColumns = `id, event_id, created_by, title, description, poll_type, voting_system, phase,
	voting_deadline, auto_finalize_voters, finalized_option_ids, finalized_date, finalized_at,
	created_at, updated_at`

func (r *Repository) CreatePoll(ctx context.Context, poll *domain.Poll) error {
	query := `
		INSERT INTO polls (` + pollColumns + `)
		VALUES (:id, :event_id, :created_by, :title, :description, :poll_type, :voting_system, :phase,
			:voting_deadline, :auto_finalize_voters, :finalized_option_ids, :finalized_date, :finalized_at,
			:created_at, :updated_at)`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, fromPoll(poll))
	return translate("create poll", err)
}

func (r *Repository) GetPoll(ctx context.Context, id uuid.UUID) (*domain.Poll, error) {
	return r.getPoll(ctx, id, "")
}

// LockPoll takes a row lock that holds until the surrounding transaction ends.
func (r *Repository) LockPoll(ctx context.Context, id uuid.UUID) (*domain.Poll, error) {
	return r.getPoll(ctx, id, " FOR UPDATE")
}

func (r *Repository) getPoll(ctx context.Context, id uuid.UUID, suffix string) (*domain.Poll, error) {
	var row pollRow
	query := `SELECT ` + pollColumns + ` FROM polls WHERE id = $1` + suffix
	if err := sqlx.GetContext(ctx, r.conn(ctx), &row, query, id); err != nil {
		return nil, translate("get poll", err)
	}
	return row.toDomain()
}

func (r *Repository) ListPolls(ctx context.Context, eventID uuid.UUID) ([]domain.Poll, error) {
	var rows []pollRow
	query := `SELECT ` + pollColumns + ` FROM polls WHERE event_id = $1 ORDER BY created_at, id`
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &rows, query, eventID); err != nil {
		return nil, translate("list polls", err)
	}
	polls := make([]domain.Poll, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		polls = append(polls, *p)
	}
	return polls, nil
}

func (r *Repository) UpdatePoll(ctx context.Context, poll *domain.Poll) error {
	query := `
		UPDATE polls SET
			title = :title, description = :description, phase = :phase,
			voting_deadline = :voting_deadline, auto_finalize_voters = :auto_finalize_voters,
			finalized_option_ids = :finalized_option_ids, finalized_date = :finalized_date,
			finalized_at = :finalized_at, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, fromPoll(poll))
	if err != nil {
		return translate("update poll", err)
	}
	return expectOne("update poll", res)
}

// DeletePoll relies on ON DELETE CASCADE for options and votes.
func (r *Repository) DeletePoll(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM polls WHERE id = $1`, id)
	if err != nil {
		return translate("delete poll", err)
	}
	return expectOne("delete poll", res)
}

const optionColumns = `id, poll_id, suggested_by, title, description, status, order_index,
	metadata, external_data, created_at, updated_at`

func (r *Repository) CreateOption(ctx context.Context, option *domain.Option) error {
	query := `
		INSERT INTO poll_options (` + optionColumns + `)
		VALUES (:id, :poll_id, :suggested_by, :title, :description, :status, :order_index,
			:metadata, :external_data, :created_at, :updated_at)`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, fromOption(option))
	return translate("create option", err)
}

func (r *Repository) GetOption(ctx context.Context, id uuid.UUID) (*domain.Option, error) {
	var row optionRow
	query := `SELECT ` + optionColumns + ` FROM poll_options WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.conn(ctx), &row, query, id); err != nil {
		return nil, translate("get option", err)
	}
	o := row.toDomain()
	return &o, nil
}

func (r *Repository) ListOptions(ctx context.Context, pollID uuid.UUID) ([]domain.Option, error) {
	query := `SELECT ` + optionColumns + ` FROM poll_options WHERE poll_id = $1 ORDER BY order_index, created_at`
	rows, err := r.conn(ctx).QueryxContext(ctx, query, pollID)
	if err != nil {
		return nil, translate("list options", err)
	}
	defer closeRows(rows, r.logger)

	var options []domain.Option
	for rows.Next() {
		var row optionRow
		if err := rows.StructScan(&row); err != nil {
			return nil, translate("scan option", err)
		}
		options = append(options, row.toDomain())
	}
	return options, translate("list options", rows.Err())
}

func (r *Repository) UpdateOption(ctx context.Context, option *domain.Option) error {
	query := `
		UPDATE poll_options SET
			title = :title, description = :description, status = :status,
			order_index = :order_index, metadata = :metadata, external_data = :external_data,
			updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, fromOption(option))
	if err != nil {
		return translate("update option", err)
	}
	return expectOne("update option", res)
}

func (r *Repository) NextOptionOrder(ctx context.Context, pollID uuid.UUID) (int, error) {
	var next int
	query := `SELECT COALESCE(MAX(order_index) + 1, 0) FROM poll_options WHERE poll_id = $1`
	if err := sqlx.GetContext(ctx, r.conn(ctx), &next, query, pollID); err != nil {
		return 0, translate("next option order", err)
	}
	return next, nil
}

const voteColumns = `id, poll_id, option_id, voter_id, value, rank, numeric_value, created_at, updated_at`

func (r *Repository) GetVote(ctx context.Context, optionID, voterID uuid.UUID) (*domain.Vote, error) {
	var row voteRow
	query := `SELECT ` + voteColumns + ` FROM votes WHERE option_id = $1 AND voter_id = $2`
	if err := sqlx.GetContext(ctx, r.conn(ctx), &row, query, optionID, voterID); err != nil {
		return nil, translate("get vote", err)
	}
	v := row.toDomain()
	return &v, nil
}

// UpsertVote inserts the vote or overwrites the voter's existing vote on the
// option, keeping its id and creation time. A rank already held by the voter
// on another option violates votes_voter_rank_key and surfaces as ErrConflict.
func (r *Repository) UpsertVote(ctx context.Context, vote *domain.Vote) (*domain.Vote, error) {
	query := `
		INSERT INTO votes (` + voteColumns + `)
		VALUES (:id, :poll_id, :option_id, :voter_id, :value, :rank, :numeric_value, :created_at, :updated_at)
		ON CONFLICT (option_id, voter_id) DO UPDATE SET
			value = EXCLUDED.value,
			rank = EXCLUDED.rank,
			numeric_value = EXCLUDED.numeric_value,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + voteColumns
	rows, err := sqlx.NamedQueryContext(ctx, r.conn(ctx), query, fromVote(vote))
	if err != nil {
		return nil, translate("upsert vote", err)
	}
	defer closeRows(rows, r.logger)

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, translate("upsert vote", err)
		}
		return nil, &domain.RepositoryError{Op: "upsert vote", Err: errors.New("no row returned")}
	}
	var row voteRow
	if err := rows.StructScan(&row); err != nil {
		return nil, translate("upsert vote", err)
	}
	v := row.toDomain()
	return &v, nil
}

func (r *Repository) DeleteVote(ctx context.Context, optionID, voterID uuid.UUID) (bool, error) {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM votes WHERE option_id = $1 AND voter_id = $2`, optionID, voterID)
	if err != nil {
		return false, translate("delete vote", err)
	}
	n, err := res.RowsAffected()
	return n > 0, translate("delete vote", err)
}

func (r *Repository) DeleteVoterVotes(ctx context.Context, pollID, voterID uuid.UUID) (int, error) {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM votes WHERE poll_id = $1 AND voter_id = $2`, pollID, voterID)
	if err != nil {
		return 0, translate("delete voter votes", err)
	}
	n, err := res.RowsAffected()
	return int(n), translate("delete voter votes", err)
}

// FindVoteByRank returns nil without error when the voter holds no vote at rank.
func (r *Repository) FindVoteByRank(ctx context.Context, pollID, voterID uuid.UUID, rank int) (*domain.Vote, error) {
	var row voteRow
	query := `SELECT ` + voteColumns + ` FROM votes WHERE poll_id = $1 AND voter_id = $2 AND rank = $3`
	err := sqlx.GetContext(ctx, r.conn(ctx), &row, query, pollID, voterID, rank)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translate("find vote by rank", err)
	}
	v := row.toDomain()
	return &v, nil
}

func (r *Repository) ListVotes(ctx context.Context, pollID uuid.UUID) ([]domain.Vote, error) {
	query := `SELECT ` + voteColumns + ` FROM votes WHERE poll_id = $1 ORDER BY created_at, id`
	return r.selectVotes(ctx, "list votes", query, pollID)
}

func (r *Repository) ListOptionVotes(ctx context.Context, optionID uuid.UUID) ([]domain.Vote, error) {
	query := `SELECT ` + voteColumns + ` FROM votes WHERE option_id = $1 ORDER BY created_at, id`
	return r.selectVotes(ctx, "list option votes", query, optionID)
}

func (r *Repository) selectVotes(ctx context.Context, op, query string, arg interface{}) ([]domain.Vote, error) {
	var rows []voteRow
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &rows, query, arg); err != nil {
		return nil, translate(op, err)
	}
	votes := make([]domain.Vote, len(rows))
	for i, row := range rows {
		votes[i] = row.toDomain()
	}
	return votes, nil
}

func (r *Repository) DeleteOptionVotes(ctx context.Context, optionID uuid.UUID) (int, error) {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM votes WHERE option_id = $1`, optionID)
	if err != nil {
		return 0, translate("delete option votes", err)
	}
	n, err := res.RowsAffected()
	return int(n), translate("delete option votes", err)
}

// CountVoters counts distinct voters with at least one vote on a counted option.
func (r *Repository) CountVoters(ctx context.Context, pollID uuid.UUID) (int, error) {
	var n int
	query := `
		SELECT COUNT(DISTINCT v.voter_id)
		FROM votes v
		JOIN poll_options o ON o.id = v.option_id
		WHERE v.poll_id = $1 AND o.status <> $2`
	if err := sqlx.GetContext(ctx, r.conn(ctx), &n, query, pollID, domain.OptionRemoved); err != nil {
		return 0, translate("count voters", err)
	}
	return n, nil
}
