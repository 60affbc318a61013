package ports

import (
	"context"
	"io"

	"github.com/Vovarama1992/livecaptions/internal/models"
)

type STTService interface {
	Recognize(ctx context.Context, audio io.Reader, filename, mimeType, language string) (*models.Transcript, error)
}
