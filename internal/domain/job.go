package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type JobType string

const (
	JobTypeSearchIndexers  JobType = "search_indexers"
	JobTypeDownload        JobType = "download"
	JobTypeAudibleRefresh  JobType = "audible_refresh"
	JobTypePlexLibraryScan JobType = "plex_library_scan"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

func IsKnownJobType(t JobType) bool {
	switch t {
	case JobTypeSearchIndexers, JobTypeDownload, JobTypeAudibleRefresh, JobTypePlexLibraryScan:
		return true
	}
	return false
}

func IsKnownJobStatus(s JobStatus) bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed:
		return true
	}
	return false
}

type Job struct {
	ID      string
	Type    JobType
	Payload json.RawMessage

	Status      JobStatus
	Attempts    int
	MaxAttempts int
	ScheduledAt time.Time

	// Claim bookkeeping, set while a worker holds the job. The reaper uses
	// HeartbeatAt to recover jobs from crashed workers.
	ClaimedBy   *string
	HeartbeatAt *time.Time

	StartedAt    *time.Time
	CompletedAt  *time.Time
	Result       json.RawMessage
	ErrorMessage *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the job can never change status again.
// A job returned to the queue for another attempt is "queued", not terminal.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// JobPayload is implemented by every per-type payload struct. Payloads are
// validated at enqueue time so a malformed job can never reach a processor.
type JobPayload interface {
	JobType() JobType
	Validate() error
}

// AudiobookRef is the slice of audiobook metadata a job carries with it.
// RuntimeMinutes feeds the ranking engine's size plausibility check and is
// zero when Audible metadata has not been refreshed yet.
type AudiobookRef struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Author         string `json:"author"`
	RuntimeMinutes int    `json:"runtimeMinutes,omitempty"`
}

func (a AudiobookRef) validate() error {
	if a.ID == "" {
		return fmt.Errorf("audiobook id is required")
	}
	if a.Title == "" {
		return fmt.Errorf("audiobook title is required")
	}
	return nil
}

type SearchIndexersPayload struct {
	RequestID string       `json:"requestId"`
	Audiobook AudiobookRef `json:"audiobook"`
}

func (SearchIndexersPayload) JobType() JobType { return JobTypeSearchIndexers }

func (p SearchIndexersPayload) Validate() error {
	if p.RequestID == "" {
		return fmt.Errorf("request id is required")
	}
	return p.Audiobook.validate()
}

type DownloadPayload struct {
	RequestID string           `json:"requestId"`
	Audiobook AudiobookRef     `json:"audiobook"`
	Candidate CandidateRelease `json:"candidate"`
}

func (DownloadPayload) JobType() JobType { return JobTypeDownload }

func (p DownloadPayload) Validate() error {
	if p.RequestID == "" {
		return fmt.Errorf("request id is required")
	}
	if err := p.Audiobook.validate(); err != nil {
		return err
	}
	if p.Candidate.GUID == "" && p.Candidate.DownloadURL == "" {
		return fmt.Errorf("candidate needs a guid or download url")
	}
	return nil
}

type AudibleRefreshPayload struct {
	AudiobookID string `json:"audiobookId"`
	ASIN        string `json:"asin"`
}

func (AudibleRefreshPayload) JobType() JobType { return JobTypeAudibleRefresh }

func (p AudibleRefreshPayload) Validate() error {
	if p.AudiobookID == "" {
		return fmt.Errorf("audiobook id is required")
	}
	if p.ASIN == "" {
		return fmt.Errorf("asin is required")
	}
	return nil
}

type PlexLibraryScanPayload struct {
	// Reason is informational: "post_download" or "nightly".
	Reason string `json:"reason"`
}

func (PlexLibraryScanPayload) JobType() JobType { return JobTypePlexLibraryScan }

func (PlexLibraryScanPayload) Validate() error { return nil }

// MarshalPayload validates a payload and renders the JSON stored on the job row.
func MarshalPayload(p JobPayload) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", p.JobType(), err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.JobType(), err)
	}
	return raw, nil
}

// DecodePayload unmarshals a job's raw payload into dst and re-runs
// validation, so a row corrupted after enqueue is caught before processing.
func DecodePayload(job *Job, dst JobPayload) error {
	if job.Type != dst.JobType() {
		return fmt.Errorf("job %s has type %s, payload wants %s", job.ID, job.Type, dst.JobType())
	}
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", job.Type, err)
	}
	return dst.Validate()
}
