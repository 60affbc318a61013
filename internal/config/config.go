package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upload   UploadConfig   `yaml:"upload"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Sarvam   SarvamConfig   `yaml:"sarvam"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	// AuthToken enables the X-Auth check when non-empty.
	AuthToken     string `yaml:"authToken"`
	MaxChunkBytes int64  `yaml:"maxChunkBytes"`
}

type UploadConfig struct {
	Backend           string        `yaml:"backend"` // fs | s3
	UploadDir         string        `yaml:"uploadDir"`
	StagingDir        string        `yaml:"stagingDir"`
	MaxFileSize       int64         `yaml:"maxFileSize"`
	AllowedExtensions []string      `yaml:"allowedExtensions"`
	SessionTTL        time.Duration `yaml:"sessionTTL"`
	SweepInterval     time.Duration `yaml:"sweepInterval"`
	S3Bucket          string        `yaml:"s3Bucket"`
	S3Prefix          string        `yaml:"s3Prefix"`
}

type PipelineConfig struct {
	TempDir           string        `yaml:"tempDir"`
	FFmpegPath        string        `yaml:"ffmpegPath"`
	YTDLPPath         string        `yaml:"ytdlpPath"`
	CookiesFile       string        `yaml:"cookiesFile"`
	WordsPerCaption   int           `yaml:"wordsPerCaption"`
	BaseLanguage      string        `yaml:"baseLanguage"`
	DefaultLanguage   string        `yaml:"defaultLanguage"`
	MaxConcurrentRuns int           `yaml:"maxConcurrentRuns"`
	ExtractTimeout    time.Duration `yaml:"extractTimeout"`
	FetchTimeout      time.Duration `yaml:"fetchTimeout"`
	TranscribeTimeout time.Duration `yaml:"transcribeTimeout"`
	TranslateTimeout  time.Duration `yaml:"translateTimeout"`
	EventBuffer       int           `yaml:"eventBuffer"`
	SendTimeout       time.Duration `yaml:"sendTimeout"`
}

type SarvamConfig struct {
	BaseURL        string `yaml:"baseURL"`
	APIKey         string `yaml:"apiKey"`
	STTModel       string `yaml:"sttModel"`
	TranslateModel string `yaml:"translateModel"`
	TranslateMode  string `yaml:"translateMode"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8080",
			AllowedOrigins: []string{"*"},
			MaxChunkBytes:  64 << 20,
		},
		Upload: UploadConfig{
			Backend:     "fs",
			UploadDir:   "./uploads",
			StagingDir:  "./temp_chunks",
			MaxFileSize: 5 << 30,
			AllowedExtensions: []string{
				"mp4", "mov", "avi", "mkv", "flv", "wmv", "webm", "m4v", "mpg", "mpeg", "3gp",
			},
			SessionTTL:    24 * time.Hour,
			SweepInterval: 15 * time.Minute,
			S3Prefix:      "uploads",
		},
		Pipeline: PipelineConfig{
			TempDir:           "./temp_audio",
			FFmpegPath:        "ffmpeg",
			YTDLPPath:         "yt-dlp",
			WordsPerCaption:   8,
			BaseLanguage:      "en-IN",
			DefaultLanguage:   "en-IN",
			MaxConcurrentRuns: 4,
			ExtractTimeout:    5 * time.Minute,
			FetchTimeout:      10 * time.Minute,
			TranscribeTimeout: 5 * time.Minute,
			TranslateTimeout:  30 * time.Second,
			EventBuffer:       64,
			SendTimeout:       5 * time.Second,
		},
		Sarvam: SarvamConfig{
			BaseURL:        "https://api.sarvam.ai",
			STTModel:       "saarika:v2",
			TranslateModel: "mayura:v1",
			TranslateMode:  "formal",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load applies defaults, then the first YAML file found, then environment overrides.
// It returns the source the file layer came from.
func Load() (*Config, string, error) {
	cfg := Default()

	src, err := loadFromFile(&cfg)
	if err != nil {
		return nil, "", err
	}

	if err := loadFromEnv(&cfg); err != nil {
		return nil, "", err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, src, nil
}

func loadFromFile(cfg *Config) (string, error) {
	paths := []string{
		os.Getenv("CAPTIONS_CONFIG_PATH"),
		"./config.yaml",
		"./config/config.yaml",
	}

	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read config %s: %w", p, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return "", fmt.Errorf("parse config %s: %w", p, err)
		}
		return p, nil
	}

	return "built-in defaults", nil
}

func loadFromEnv(cfg *Config) error {
	str := map[string]*string{
		"PORT":                   &cfg.Server.Port,
		"AUTH_TOKEN":             &cfg.Server.AuthToken,
		"UPLOAD_BACKEND":         &cfg.Upload.Backend,
		"UPLOAD_DIR":             &cfg.Upload.UploadDir,
		"STAGING_DIR":            &cfg.Upload.StagingDir,
		"S3_BUCKET":              &cfg.Upload.S3Bucket,
		"S3_PREFIX":              &cfg.Upload.S3Prefix,
		"TEMP_AUDIO_DIR":         &cfg.Pipeline.TempDir,
		"FFMPEG_PATH":            &cfg.Pipeline.FFmpegPath,
		"YTDLP_PATH":             &cfg.Pipeline.YTDLPPath,
		"YTDLP_COOKIES_FILE":     &cfg.Pipeline.CookiesFile,
		"BASE_LANGUAGE":          &cfg.Pipeline.BaseLanguage,
		"DEFAULT_LANGUAGE":       &cfg.Pipeline.DefaultLanguage,
		"SARVAM_BASE_URL":        &cfg.Sarvam.BaseURL,
		"SARVAM_API_KEY":         &cfg.Sarvam.APIKey,
		"DATABASE_URL":           &cfg.Database.URL,
		"CAPTIONS_LOG_LEVEL":     &cfg.Logging.Level,
		"SARVAM_STT_MODEL":       &cfg.Sarvam.STTModel,
		"SARVAM_TRANSLATE_MODEL": &cfg.Sarvam.TranslateModel,
	}
	for key, dst := range str {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}

	if val := os.Getenv("ALLOWED_ORIGINS"); val != "" {
		cfg.Server.AllowedOrigins = splitList(val)
	}
	if val := os.Getenv("ALLOWED_EXTENSIONS"); val != "" {
		cfg.Upload.AllowedExtensions = splitList(val)
	}

	ints := map[string]*int{
		"WORDS_PER_CAPTION":   &cfg.Pipeline.WordsPerCaption,
		"MAX_CONCURRENT_RUNS": &cfg.Pipeline.MaxConcurrentRuns,
	}
	for key, dst := range ints {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	int64s := map[string]*int64{
		"MAX_FILE_SIZE":   &cfg.Upload.MaxFileSize,
		"MAX_CHUNK_BYTES": &cfg.Server.MaxChunkBytes,
	}
	for key, dst := range int64s {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"SESSION_TTL":        &cfg.Upload.SessionTTL,
		"SWEEP_INTERVAL":     &cfg.Upload.SweepInterval,
		"EXTRACT_TIMEOUT":    &cfg.Pipeline.ExtractTimeout,
		"FETCH_TIMEOUT":      &cfg.Pipeline.FetchTimeout,
		"TRANSCRIBE_TIMEOUT": &cfg.Pipeline.TranscribeTimeout,
		"TRANSLATE_TIMEOUT":  &cfg.Pipeline.TranslateTimeout,
	}
	for key, dst := range durations {
		if val := os.Getenv(key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is empty")
	}
	switch c.Upload.Backend {
	case "fs":
	case "s3":
		if c.Upload.S3Bucket == "" {
			return fmt.Errorf("upload.s3Bucket is required for s3 backend")
		}
	default:
		return fmt.Errorf("unknown upload.backend %q", c.Upload.Backend)
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		return fmt.Errorf("upload.allowedExtensions is empty")
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.maxFileSize must be positive")
	}
	if c.Pipeline.WordsPerCaption <= 0 {
		return fmt.Errorf("pipeline.wordsPerCaption must be positive")
	}
	if c.Pipeline.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("pipeline.maxConcurrentRuns must be positive")
	}
	for name, d := range map[string]time.Duration{
		"extractTimeout":    c.Pipeline.ExtractTimeout,
		"fetchTimeout":      c.Pipeline.FetchTimeout,
		"transcribeTimeout": c.Pipeline.TranscribeTimeout,
		"translateTimeout":  c.Pipeline.TranslateTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("pipeline.%s must be positive", name)
		}
	}
	return nil
}
