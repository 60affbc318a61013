package ports

import "github.com/Vovarama1992/livecaptions/internal/models"

type RunDispatcher interface {
	Submit(job models.PipelineJob) error
	Cancel(sessionID string) bool
}
