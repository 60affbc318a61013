package domain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
	"go.uber.org/multierr"
)

const repoTimeout = 5 * time.Second

type AudioFetcher interface {
	Run(ctx context.Context, pageURL string) (string, error)
}

type AudioExtractor interface {
	Run(ctx context.Context, inputPath string) (string, error)
}

type Transcriber interface {
	Run(ctx context.Context, audioPath string) ([]models.Caption, error)
}

type CaptionTranslator interface {
	Run(ctx context.Context, c models.Caption, source, target string) (models.Caption, error)
}

type PipelineStations struct {
	Fetch      AudioFetcher
	Extract    AudioExtractor
	Transcribe Transcriber
	Translate  CaptionTranslator
}

// CaptionPipeline turns one media file into a stream of caption events.
type CaptionPipeline struct {
	st       PipelineStations
	notifier ports.Notifier
	repo     ports.CaptionRepository
	baseLang string
	defLang  string
	log      *logger.ZapLogger
}

func NewCaptionPipeline(
	st PipelineStations,
	notifier ports.Notifier,
	repo ports.CaptionRepository,
	baseLanguage, defaultLanguage string,
	log *logger.ZapLogger,
) *CaptionPipeline {
	return &CaptionPipeline{
		st:       st,
		notifier: notifier,
		repo:     repo,
		baseLang: baseLanguage,
		defLang:  defaultLanguage,
		log:      log,
	}
}

// pipelineRun carries the mutable state of one Run.
type pipelineRun struct {
	ctx   context.Context
	job   models.PipelineJob
	run   *models.PipelineRun
	temps []string
}

// Run processes job to completion, error or cancellation. It emits exactly
// one terminal event unless ctx is cancelled, in which case it stops emitting.
// Every temporary file, including the job's input, is removed before it returns.
func (p *CaptionPipeline) Run(ctx context.Context, job models.PipelineJob) *models.PipelineRun {
	target, ok := ResolveLanguage(job.TargetLanguage, p.defLang)
	if !ok && job.TargetLanguage != "" {
		p.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "[PIPE] unsupported language, using default",
			Fields:  map[string]any{"session": job.SessionID, "requested": job.TargetLanguage, "used": target},
		})
	}

	r := &pipelineRun{
		ctx: ctx,
		job: job,
		run: &models.PipelineRun{
			SessionID: job.SessionID,
			Stage:     models.StageQueued,
			Language:  target,
			StartedAt: time.Now(),
		},
	}
	if job.InputPath != "" {
		r.temps = append(r.temps, job.InputPath)
	}
	defer p.cleanup(r)

	p.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[PIPE][START]",
		Fields: map[string]any{
			"session":  job.SessionID,
			"language": target,
			"url":      job.SourceURL != "",
		},
	})

	if ctx.Err() != nil {
		p.finish(r, models.StageCancelled, nil)
		return r.run
	}
	p.save(r)
	if err := p.persist(r, func(ctx context.Context) error {
		return p.repo.DeleteCaptions(ctx, job.SessionID)
	}); err != nil {
		p.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "[PIPE] previous captions not cleared",
			Fields:  map[string]any{"session": job.SessionID},
			Error:   err,
		})
	}

	captions, err := p.prepare(r)
	if err != nil {
		p.fail(r, err)
		return r.run
	}

	translate := p.st.Translate != nil && !SameLanguage(target, p.baseLang)
	if translate {
		p.stage(r, models.StageTranslating, fmt.Sprintf("Translating captions to %s...", target))
	} else {
		p.stage(r, models.StageStreaming, "Streaming captions...")
	}

	for i, c := range captions {
		if ctx.Err() != nil {
			p.finish(r, models.StageCancelled, nil)
			return r.run
		}
		c.Sequence = i
		if translate {
			c, _ = p.st.Translate.Run(ctx, c, p.baseLang, target)
			if ctx.Err() != nil {
				p.finish(r, models.StageCancelled, nil)
				return r.run
			}
		}

		p.emit(r, models.EventCaption, c)
		r.run.TotalCaptions++
		if err := p.persist(r, func(ctx context.Context) error {
			return p.repo.InsertCaption(ctx, job.SessionID, c)
		}); err != nil {
			p.log.Log(logger.LogEntry{
				Level:   "warn",
				Message: "[PIPE] caption not persisted",
				Fields:  map[string]any{"session": job.SessionID, "seq": i},
				Error:   err,
			})
		}
	}

	p.emit(r, models.EventTranscriptionComplete, models.CompletePayload{
		TotalCaptions: r.run.TotalCaptions,
		Language:      target,
	})
	p.finish(r, models.StageComplete, nil)
	return r.run
}

// prepare runs the fetch, extract and transcribe stages.
func (p *CaptionPipeline) prepare(r *pipelineRun) ([]models.Caption, error) {
	input := r.job.InputPath

	p.stage(r, models.StageExtracting, "Extracting audio...")
	if r.job.SourceURL != "" {
		if p.st.Fetch == nil {
			return nil, apperr.Newf(apperr.KindValidation, "fetch audio", "url sources are not enabled")
		}
		fetched, err := p.st.Fetch.Run(r.ctx, r.job.SourceURL)
		if err != nil {
			return nil, err
		}
		r.temps = append(r.temps, fetched)
		input = fetched
	}
	if input == "" {
		return nil, apperr.Newf(apperr.KindValidation, "pipeline", "job has no input")
	}

	audio, err := p.st.Extract.Run(r.ctx, input)
	if err != nil {
		return nil, err
	}
	r.temps = append(r.temps, audio)

	p.stage(r, models.StageTranscribing, "Transcribing audio...")
	return p.st.Transcribe.Run(r.ctx, audio)
}

func (p *CaptionPipeline) stage(r *pipelineRun, s models.Stage, msg string) {
	r.run.Stage = s
	p.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[PIPE][STAGE]",
		Fields:  map[string]any{"session": r.job.SessionID, "stage": string(s)},
	})
	p.emit(r, models.EventStatus, models.StatusPayload{Message: msg})
}

// emit drops events once the run is cancelled.
func (p *CaptionPipeline) emit(r *pipelineRun, kind models.EventKind, payload any) {
	if r.ctx.Err() != nil {
		return
	}
	p.notifier.Send(r.job.SessionID, kind, payload)
}

func (p *CaptionPipeline) fail(r *pipelineRun, err error) {
	if r.ctx.Err() != nil {
		p.finish(r, models.StageCancelled, err)
		return
	}
	p.emit(r, models.EventError, models.ErrorPayload{
		Message: err.Error(),
		Kind:    string(apperr.KindOf(err)),
	})
	p.finish(r, models.StageErrored, err)
}

func (p *CaptionPipeline) finish(r *pipelineRun, s models.Stage, err error) {
	now := time.Now()
	r.run.Stage = s
	r.run.FinishedAt = &now
	if err != nil {
		r.run.Error = err.Error()
	}
	p.save(r)

	entry := logger.LogEntry{
		Level:   "info",
		Message: "[PIPE][DONE]",
		Fields: map[string]any{
			"session":  r.job.SessionID,
			"stage":    string(s),
			"captions": r.run.TotalCaptions,
			"dur":      now.Sub(r.run.StartedAt).String(),
		},
	}
	if s == models.StageErrored {
		entry.Level = "error"
		entry.Error = err
	}
	p.log.Log(entry)
}

func (p *CaptionPipeline) save(r *pipelineRun) {
	if err := p.persist(r, func(ctx context.Context) error {
		return p.repo.SaveRun(ctx, r.run)
	}); err != nil {
		p.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "[PIPE] run state not persisted",
			Fields:  map[string]any{"session": r.job.SessionID, "stage": string(r.run.Stage)},
			Error:   err,
		})
	}
}

// persist keeps repository writes alive after the run is cancelled.
func (p *CaptionPipeline) persist(r *pipelineRun, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), repoTimeout)
	defer cancel()
	return fn(ctx)
}

func (p *CaptionPipeline) cleanup(r *pipelineRun) {
	var errs error
	for _, path := range r.temps {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		p.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "[PIPE] temp files not removed",
			Fields:  map[string]any{"session": r.job.SessionID, "count": len(multierr.Errors(errs))},
			Error:   errs,
		})
	}
}
