package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/config"
	"github.com/Vovarama1992/livecaptions/internal/delivery"
	ws "github.com/Vovarama1992/livecaptions/internal/delivery/ws"
	"github.com/Vovarama1992/livecaptions/internal/domain"
	"github.com/Vovarama1992/livecaptions/internal/domain/stations"
	"github.com/Vovarama1992/livecaptions/internal/infra"
	"github.com/Vovarama1992/livecaptions/internal/ports"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 30 * time.Second

type app struct {
	cfg       *config.Config
	zap       *zap.Logger
	log       *logger.ZapLogger
	pool      *pgxpool.Pool
	repo      ports.CaptionRepository
	assembler *domain.UploadAssembler
	janitor   *domain.Janitor
}

func newZap(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// buildApp wires everything both commands need: config, logging, the caption
// repository and the upload side.
func buildApp(cmd *cobra.Command) (*app, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv("CAPTIONS_CONFIG_PATH", path); err != nil {
			return nil, err
		}
	}
	cfg, source, err := config.Load()
	if err != nil {
		return nil, err
	}

	zcore, err := newZap(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zl := logger.NewZapLogger(zcore.Sugar())
	zl.Log(logger.LogEntry{
		Level:   "info",
		Message: "config loaded",
		Fields:  map[string]any{"source": source, "backend": cfg.Upload.Backend},
	})

	a := &app{cfg: cfg, zap: zcore, log: zl}
	ctx := cmd.Context()

	// CAPTIONS
	if cfg.Database.URL != "" {
		pool, err := infra.NewPgxPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		repo := infra.NewPostgresCaptionRepo(pool)
		if err := repo.(*infra.PostgresCaptionRepo).Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		a.pool = pool
		a.repo = repo
	} else {
		zl.Log(logger.LogEntry{Level: "warn", Message: "DATABASE_URL is not set; caption history is kept in memory"})
		a.repo = infra.NewMemoryCaptionRepo()
	}

	// UPLOADS
	store, err := newChunkStore(ctx, cfg.Upload)
	if err != nil {
		a.close()
		return nil, err
	}
	a.assembler, err = domain.NewUploadAssembler(store, domain.AssemblerOptions{
		UploadDir:         cfg.Upload.UploadDir,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		MaxFileSize:       cfg.Upload.MaxFileSize,
	}, zl)
	if err != nil {
		a.close()
		return nil, err
	}
	a.janitor = domain.NewJanitor(
		a.assembler,
		cfg.Upload.SessionTTL,
		cfg.Upload.SweepInterval,
		zl,
		cfg.Pipeline.TempDir, cfg.Upload.UploadDir,
	)
	return a, nil
}

func newChunkStore(ctx context.Context, cfg config.UploadConfig) (ports.ChunkStore, error) {
	if cfg.Backend != "s3" {
		return infra.NewFSChunkStore(cfg.StagingDir)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return infra.NewS3ChunkStore(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.zap.Sync()
}

func (a *app) serve(parent context.Context) error {
	defer a.close()
	cfg := a.cfg
	zl := a.log

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Sarvam.APIKey == "" {
		zl.Log(logger.LogEntry{Level: "warn", Message: "SARVAM_API_KEY is not set; transcription will fail"})
	}
	if cfg.Pipeline.CookiesFile == "" {
		zl.Log(logger.LogEntry{Level: "warn", Message: "YTDLP_COOKIES_FILE is not set; yt-dlp may fail on YouTube"})
	}

	// SARVAM CLIENT
	sarvam := infra.NewSarvamClient(infra.SarvamOptions{
		BaseURL:        cfg.Sarvam.BaseURL,
		APIKey:         cfg.Sarvam.APIKey,
		STTModel:       cfg.Sarvam.STTModel,
		TranslateModel: cfg.Sarvam.TranslateModel,
		TranslateMode:  cfg.Sarvam.TranslateMode,
	})

	// STATIONS
	p := cfg.Pipeline
	st := domain.PipelineStations{
		Fetch:      stations.NewS1FetchAudio(p.YTDLPPath, p.CookiesFile, p.TempDir, p.FetchTimeout, zl),
		Extract:    stations.NewS2ExtractAudio(p.FFmpegPath, p.TempDir, p.ExtractTimeout, zl),
		Transcribe: stations.NewS4Transcribe(sarvam, p.BaseLanguage, p.WordsPerCaption, p.TranscribeTimeout, zl),
		Translate:  stations.NewS5Translate(sarvam, p.TranslateTimeout, zl),
	}

	// WS HUB + NOTIFIER
	hub := ws.NewHub(zl)
	notifier := ws.NewNotifier(hub, p.EventBuffer, p.SendTimeout, zl)
	defer notifier.Close()

	// PIPELINE
	pipeline := domain.NewCaptionPipeline(st, notifier, a.repo, p.BaseLanguage, p.DefaultLanguage, zl)
	runs := domain.NewDispatcher(pipeline, p.MaxConcurrentRuns, zl)

	go a.janitor.Run(ctx)

	// HANDLERS
	hUpload := delivery.NewUploadHandler(a.assembler, runs, notifier, cfg.Server.MaxChunkBytes, zl)
	hCaptions := delivery.NewCaptionHandler(a.repo, runs, a.assembler.Cleanup, zl)

	var auth ports.TokenValidator
	if cfg.Server.AuthToken != "" {
		auth = domain.NewAuthService(cfg.Server.AuthToken)
	}

	// ROUTER
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Auth"},
		AllowCredentials: true,
	}))
	delivery.RegisterRoutes(r, auth, hUpload, hCaptions, ws.WSHandler(hub, runs, notifier, zl))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Log(logger.LogEntry{
			Level:   "info",
			Message: "server started",
			Fields:  map[string]any{"port": cfg.Server.Port},
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			zl.Log(logger.LogEntry{Level: "error", Message: "server crashed", Error: err})
			return err
		}
	case <-ctx.Done():
	}

	zl.Log(logger.LogEntry{Level: "info", Message: "shutting down"})
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		zl.Log(logger.LogEntry{Level: "warn", Message: "http shutdown", Error: err})
	}
	if err := runs.Shutdown(shutCtx); err != nil {
		zl.Log(logger.LogEntry{Level: "warn", Message: "pipeline runs still active at exit", Error: err})
	}
	return nil
}
