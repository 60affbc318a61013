package ports

import (
	"context"

	"github.com/Vovarama1992/livecaptions/internal/models"
)

type CaptionRepository interface {
	SaveRun(ctx context.Context, run *models.PipelineRun) error
	InsertCaption(ctx context.Context, sessionID string, c models.Caption) error
	// DeleteCaptions drops the captions of a previous run on the same session.
	DeleteCaptions(ctx context.Context, sessionID string) error
	GetRun(ctx context.Context, sessionID string) (*models.PipelineRun, error)
	ListCaptions(ctx context.Context, sessionID string) ([]models.Caption, error)
}
