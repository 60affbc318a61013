package models

import "regexp"

type Chunk struct {
	SessionID   string
	Index       int
	TotalChunks int
	Filename    string
	Language    string
}

type MergedFile struct {
	SessionID string
	Path      string
	Size      int64
}

// UploadResult is either a received chunk or a completed merge.
type UploadResult struct {
	Complete   bool
	ChunkIndex int
	Merged     *MergedFile
	// Duplicate marks a chunk that arrived after its session was already merged.
	Duplicate bool
}

type UploadStats struct {
	UploadedFiles int `json:"uploaded_files"`
	ActiveUploads int `json:"active_uploads"`
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidSessionID reports whether id is usable as a storage namespace.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id) && id != "." && id != ".."
}
