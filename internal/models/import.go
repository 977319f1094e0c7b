package models

import "time"

// ImportSource locates one scraping run's output.
type ImportSource struct {
	DataDir      string
	FilesDir     string
	DeleteSource bool
}

// ImportReport summarises one import run.
type ImportReport struct {
	Source           string    `json:"source"`
	Read             int       `json:"read"`
	Inserted         int       `json:"inserted"`
	SkippedExisting  int       `json:"skipped_existing"`
	SkippedDuplicate int       `json:"skipped_duplicate"`
	SkippedInvalid   int       `json:"skipped_invalid"`
	InsertedRefs     []string  `json:"inserted_refs"`
	Warnings         []string  `json:"warnings"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}
