package stations

import (
	"context"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
)

// S5Translate translates one caption at a time. A failed translation keeps
// the original text so the caption is still delivered.
type S5Translate struct {
	tr      ports.TranslationService
	timeout time.Duration
	log     *logger.ZapLogger
}

func NewS5Translate(tr ports.TranslationService, timeout time.Duration, log *logger.ZapLogger) *S5Translate {
	return &S5Translate{tr: tr, timeout: timeout, log: log}
}

// Run returns the translated caption. On failure it returns c unchanged
// together with a translation error.
func (s *S5Translate) Run(ctx context.Context, c models.Caption, source, target string) (models.Caption, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := s.tr.Translate(ctx, c.Text, source, target)
	if err != nil {
		err = apperr.New(apperr.KindTranslation, "translate caption", err)
		s.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "[S5][FALLBACK] keeping original text",
			Fields: map[string]any{
				"seq":    c.Sequence,
				"target": target,
				"text":   trim(c.Text, 120),
			},
			Error: err,
		})
		return c, err
	}

	c.Text = out
	return c, nil
}
