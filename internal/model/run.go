package model

// TagEvent is the payload of a tag-push webhook delivery
type TagEvent struct {
	Repo   string `json:"repo"`
	Tag    string `json:"tag"`
	Commit string `json:"commit,omitempty"` // advisory; the checkout resolves the tag itself
}

// RunInfo represents a publish run for API responses
type RunInfo struct {
	ID         string `json:"id"`
	Repo       string `json:"repo"`
	Tag        string `json:"tag"`
	Channel    string `json:"channel"`
	Package    string `json:"package"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	Artifact   string `json:"artifact,omitempty"`
	Download   string `json:"download,omitempty"`
	Size       int64  `json:"size"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	StartedAt  int64  `json:"startedAt"`
	FinishedAt int64  `json:"finishedAt,omitempty"`
}
