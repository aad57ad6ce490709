package domain

import "time"

// CorpusFile is one document discovered under the two-level corpus layout
// <root>/<group>/<expert>/<file>. Name is the tracked identifier; Path is
// where the bytes live.
type CorpusFile struct {
	Group  string
	Expert string
	Name   string
	Path   string
}

// PassReport summarizes one ingestion pass.
type PassReport struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Groups       int           `json:"groups"`
	Experts      int           `json:"experts"`
	NewFiles     int           `json:"new_files"`
	SkippedFiles int           `json:"skipped_files"`
	FailedFiles  int           `json:"failed_files"`
	Chunks       int           `json:"chunks"`
}
