package models

import "time"

type Caption struct {
	Sequence   int     `json:"-" db:"seq"`
	Text       string  `json:"text" db:"text"`
	StartTime  float64 `json:"start_time" db:"start_time"` // seconds
	EndTime    float64 `json:"end_time" db:"end_time"`
	Confidence float64 `json:"confidence" db:"confidence"`
}

// Token is one timestamped word from the speech service, times in milliseconds.
type Token struct {
	Word       string
	StartMs    float64
	EndMs      float64
	Confidence float64
}

type Transcript struct {
	Text       string
	Confidence float64
	Language   string
	Tokens     []Token
}

type Stage string

const (
	StageQueued       Stage = "queued"
	StageExtracting   Stage = "extracting"
	StageTranscribing Stage = "transcribing"
	StageTranslating  Stage = "translating"
	StageStreaming    Stage = "streaming"
	StageComplete     Stage = "complete"
	StageErrored      Stage = "errored"
	StageCancelled    Stage = "cancelled"
)

// PipelineJob is the unit of work handed to the dispatcher.
// Exactly one of InputPath and SourceURL is set.
type PipelineJob struct {
	SessionID      string
	InputPath      string
	SourceURL      string
	TargetLanguage string
}

type PipelineRun struct {
	SessionID     string     `db:"session_id"`
	Stage         Stage      `db:"stage"`
	Language      string     `db:"language"`
	TotalCaptions int        `db:"total_captions"`
	Error         string     `db:"error"`
	StartedAt     time.Time  `db:"started_at"`
	FinishedAt    *time.Time `db:"finished_at"`
}
