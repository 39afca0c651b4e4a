package queuexpg

import (
	"context"

	"github.com/chatdesk/courier/pkg/queuex"
)

// PushDeadLetter persists a dead-letter record.
func (s *PgStore) PushDeadLetter(ctx context.Context, rec *queuex.DeadLetterRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courier_dead_letters (
			id, queue, payload, error_message, error_detail,
			attempt_count, failed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.Queue, []byte(rec.Payload), rec.ErrorMessage,
		nullable(rec.ErrorDetail), rec.AttemptCount, rec.FailedAt,
	)
	if err != nil {
		return pgErrors.NewWithCause(ErrQuery, err).WithDetail("dead_letter_id", rec.ID)
	}
	return nil
}

// LeaseDeadLetters atomically claims up to limit un-notified records,
// marking them notified. SKIP LOCKED keeps concurrent alert workers from
// double-reporting.
func (s *PgStore) LeaseDeadLetters(ctx context.Context, limit int) ([]*queuex.DeadLetterRecord, error) {
	rows, err := s.db.QueryxContext(ctx, `
		UPDATE courier_dead_letters
		SET notified_at = NOW()
		WHERE id IN (
			SELECT id FROM courier_dead_letters
			WHERE notified_at IS NULL
			ORDER BY failed_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		RETURNING `+deadLetterColumns,
		limit,
	)
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrQuery, err)
	}
	defer rows.Close()

	var records []*queuex.DeadLetterRecord
	for rows.Next() {
		var row deadLetterRow
		if err := rows.StructScan(&row); err != nil {
			return nil, pgErrors.NewWithCause(ErrQuery, err)
		}
		records = append(records, row.toRecord())
	}
	if err := rows.Err(); err != nil {
		return nil, pgErrors.NewWithCause(ErrQuery, err)
	}
	return records, nil
}

// ListDeadLetters returns records newest-first plus the total count.
func (s *PgStore) ListDeadLetters(ctx context.Context, limit, offset int) ([]*queuex.DeadLetterRecord, int, error) {
	var total int
	if err := s.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM courier_dead_letters`,
	).Scan(&total); err != nil {
		return nil, 0, pgErrors.NewWithCause(ErrQuery, err)
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT `+deadLetterColumns+`
		FROM courier_dead_letters
		ORDER BY failed_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, pgErrors.NewWithCause(ErrQuery, err)
	}
	defer rows.Close()

	var records []*queuex.DeadLetterRecord
	for rows.Next() {
		var row deadLetterRow
		if err := rows.StructScan(&row); err != nil {
			return nil, 0, pgErrors.NewWithCause(ErrQuery, err)
		}
		records = append(records, row.toRecord())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, pgErrors.NewWithCause(ErrQuery, err)
	}
	return records, total, nil
}
