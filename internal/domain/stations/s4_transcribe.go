package stations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
)

var audioMIME = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".webm": "audio/webm",
}

// S4Transcribe sends the extracted audio to speech-to-text once and turns
// the word timings into captions.
type S4Transcribe struct {
	stt             ports.STTService
	language        string
	wordsPerCaption int
	timeout         time.Duration
	log             *logger.ZapLogger
}

func NewS4Transcribe(
	stt ports.STTService,
	language string,
	wordsPerCaption int,
	timeout time.Duration,
	log *logger.ZapLogger,
) *S4Transcribe {
	return &S4Transcribe{
		stt:             stt,
		language:        language,
		wordsPerCaption: wordsPerCaption,
		timeout:         timeout,
		log:             log,
	}
}

func (s *S4Transcribe) Run(ctx context.Context, audioPath string) ([]models.Caption, error) {
	start := time.Now()

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, apperr.New(apperr.KindTranscription, "transcribe", err)
	}
	defer f.Close()

	name := filepath.Base(audioPath)
	mime, ok := audioMIME[strings.ToLower(filepath.Ext(name))]
	if !ok {
		mime = "audio/wav"
	}

	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S4][START]",
		Fields:  map[string]any{"file": name, "language": s.language},
	})

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tr, err := s.stt.Recognize(ctx, f, name, mime, s.language)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("speech-to-text timed out after %s: %w", s.timeout, err)
		}
		s.log.Log(logger.LogEntry{Level: "error", Message: "[S4][ERR]", Error: err})
		return nil, apperr.New(apperr.KindTranscription, "transcribe", err)
	}

	caps := SegmentCaptions(tr, s.wordsPerCaption)
	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S4][OK]",
		Fields: map[string]any{
			"tokens":   len(tr.Tokens),
			"captions": len(caps),
			"text":     trim(tr.Text, 120),
			"dur":      time.Since(start).String(),
		},
	})
	return caps, nil
}

// SegmentCaptions groups tokens into consecutive windows of n words.
// Times are converted from milliseconds to seconds and confidence is the
// window average. Without tokens a non-empty transcript becomes one caption
// at 0..0, and an empty one yields none.
func SegmentCaptions(tr *models.Transcript, n int) []models.Caption {
	if tr == nil {
		return nil
	}
	if n <= 0 {
		n = 1
	}

	if len(tr.Tokens) == 0 {
		text := strings.TrimSpace(tr.Text)
		if text == "" {
			return nil
		}
		return []models.Caption{{Text: text, Confidence: tr.Confidence}}
	}

	caps := make([]models.Caption, 0, (len(tr.Tokens)+n-1)/n)
	for i := 0; i < len(tr.Tokens); i += n {
		window := tr.Tokens[i:min(i+n, len(tr.Tokens))]

		words := make([]string, 0, len(window))
		var conf float64
		for _, tok := range window {
			words = append(words, tok.Word)
			conf += tok.Confidence
		}

		caps = append(caps, models.Caption{
			Sequence:   len(caps),
			Text:       strings.Join(words, " "),
			StartTime:  window[0].StartMs / 1000,
			EndTime:    window[len(window)-1].EndMs / 1000,
			Confidence: conf / float64(len(window)),
		})
	}
	return caps
}
