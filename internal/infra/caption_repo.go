package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const captionSchema = `
CREATE TABLE IF NOT EXISTS caption_run (
	session_id     TEXT PRIMARY KEY,
	stage          TEXT NOT NULL,
	language       TEXT NOT NULL DEFAULT '',
	total_captions INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS caption (
	session_id  TEXT NOT NULL REFERENCES caption_run(session_id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	text        TEXT NOT NULL,
	start_time  DOUBLE PRECISION NOT NULL,
	end_time    DOUBLE PRECISION NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

type PostgresCaptionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCaptionRepo(pool *pgxpool.Pool) ports.CaptionRepository {
	return &PostgresCaptionRepo{pool: pool}
}

// Migrate creates the caption tables when missing.
func (r *PostgresCaptionRepo) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, captionSchema); err != nil {
		return fmt.Errorf("migrate caption schema: %w", err)
	}
	return nil
}

// saveRunQuery replaces every column of an earlier run of the same session.
const saveRunQuery = `
		INSERT INTO caption_run (session_id, stage, language, total_captions, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE
		SET stage = EXCLUDED.stage,
		    language = EXCLUDED.language,
		    total_captions = EXCLUDED.total_captions,
		    error = EXCLUDED.error,
		    started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at
	`

func (r *PostgresCaptionRepo) SaveRun(ctx context.Context, run *models.PipelineRun) error {
	_, err := r.pool.Exec(ctx, saveRunQuery,
		run.SessionID,
		string(run.Stage),
		run.Language,
		run.TotalCaptions,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (r *PostgresCaptionRepo) InsertCaption(ctx context.Context, sessionID string, c models.Caption) error {
	query := `
		INSERT INTO caption (session_id, seq, text, start_time, end_time, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, seq) DO UPDATE
		SET text = EXCLUDED.text
	`
	_, err := r.pool.Exec(ctx, query, sessionID, c.Sequence, c.Text, c.StartTime, c.EndTime, c.Confidence)
	if err != nil {
		return fmt.Errorf("insert caption: %w", err)
	}
	return nil
}

func (r *PostgresCaptionRepo) DeleteCaptions(ctx context.Context, sessionID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM caption WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete captions: %w", err)
	}
	return nil
}

func (r *PostgresCaptionRepo) GetRun(ctx context.Context, sessionID string) (*models.PipelineRun, error) {
	query := `
		SELECT session_id, stage, language, total_captions, error, started_at, finished_at
		FROM caption_run
		WHERE session_id = $1
	`
	var run models.PipelineRun
	var stage string
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&run.SessionID,
		&stage,
		&run.Language,
		&run.TotalCaptions,
		&run.Error,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	run.Stage = models.Stage(stage)
	return &run, nil
}

func (r *PostgresCaptionRepo) ListCaptions(ctx context.Context, sessionID string) ([]models.Caption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seq, text, start_time, end_time, confidence
		 FROM caption
		 WHERE session_id = $1
		 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list captions: %w", err)
	}

	captions, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Caption])
	if err != nil {
		return nil, fmt.Errorf("list captions: %w", err)
	}
	return captions, nil
}
