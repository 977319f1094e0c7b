package dto

// ImportRequest tunes a manual import run. Source directories always come
// from configuration.
type ImportRequest struct {
	DeleteSource bool `json:"delete_source"`
}
