package stations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/google/uuid"
)

const maxErrPreview = 512

// S2ExtractAudio decodes the audio track of a media file into 16 kHz mono
// PCM and writes it out as a wav file.
type S2ExtractAudio struct {
	bin     string
	tempDir string
	timeout time.Duration
	log     *logger.ZapLogger
}

func NewS2ExtractAudio(bin, tempDir string, timeout time.Duration, log *logger.ZapLogger) *S2ExtractAudio {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &S2ExtractAudio{bin: bin, tempDir: tempDir, timeout: timeout, log: log}
}

// Run returns the path of the extracted wav file. The caller owns it.
// On error no output file is left behind.
func (s *S2ExtractAudio) Run(ctx context.Context, inputPath string) (string, error) {
	start := time.Now()
	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S2][START]",
		Fields:  map[string]any{"input": filepath.Base(inputPath)},
	})

	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return "", apperr.New(apperr.KindExtraction, "extract audio", err)
	}
	outPath := filepath.Join(s.tempDir, "audio_"+uuid.NewString()[:8]+".wav")

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	n, err := s.extract(ctx, inputPath, outPath)
	if err != nil {
		_ = os.Remove(outPath)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("ffmpeg timed out after %s", s.timeout)
		}
		s.log.Log(logger.LogEntry{Level: "error", Message: "[S2][ERR]", Error: err})
		return "", apperr.New(apperr.KindExtraction, "extract audio", err)
	}
	if n == 0 {
		_ = os.Remove(outPath)
		s.log.Log(logger.LogEntry{Level: "error", Message: "[S2][EMPTY]"})
		return "", apperr.Newf(apperr.KindExtraction, "extract audio", "no audio stream in input")
	}

	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S2][OK]",
		Fields: map[string]any{
			"bytes":      n,
			"approx_sec": float64(n) / bytesPerSecond,
			"dur":        time.Since(start).String(),
		},
	})
	return outPath, nil
}

func (s *S2ExtractAudio) extract(ctx context.Context, inputPath, outPath string) (int64, error) {
	f, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	wav, err := NewWAVWriter(f)
	if err != nil {
		f.Close()
		return 0, err
	}

	err = s.decode(ctx, inputPath, wav)
	if cerr := wav.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	return wav.DataSize(), nil
}

// decode runs ffmpeg and copies its PCM output into w.
func (s *S2ExtractAudio) decode(ctx context.Context, inputPath string, w io.Writer) error {
	cmd := exec.CommandContext(
		ctx,
		s.bin,
		"-loglevel", "error",
		"-nostdin",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprint(channels),
		"-ar", fmt.Sprint(sampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	stderr := newTailBuffer(maxErrPreview)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	_, copyErr := io.Copy(w, stdout)
	if copyErr != nil {
		// nobody drains stdout any more, so ffmpeg would block on it
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if copyErr != nil {
		return fmt.Errorf("write pcm: %w", copyErr)
	}
	if waitErr != nil {
		if msg := stderr.String(); msg != "" {
			return fmt.Errorf("%w: %s", waitErr, msg)
		}
		return waitErr
	}
	return nil
}
