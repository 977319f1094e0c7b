package models

import "time"

// Script launch outcomes.
const (
	ScriptStarted   = "started"
	ScriptCompleted = "completed"
	ScriptTimeout   = "timeout"
	ScriptFailed    = "failed"
)

// ScriptLaunch reports what happened to a launch request.
type ScriptLaunch struct {
	ScriptID  string        `json:"script_id"`
	Status    string        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Import    *ImportReport `json:"import,omitempty"`
}

// ScrapingProgress mirrors the progress file written by the scrapers.
type ScrapingProgress struct {
	Status             string  `json:"status"`
	Current            int     `json:"current"`
	Total              int     `json:"total"`
	Message            string  `json:"message"`
	Timestamp          string  `json:"timestamp"`
	Percentage         float64 `json:"percentage"`
	DownloadsSuccess   int     `json:"downloads_success"`
	DownloadsFailed    int     `json:"downloads_failed"`
	ExtractionsSuccess int     `json:"extractions_success"`
	ExtractionsFailed  int     `json:"extractions_failed"`
}
