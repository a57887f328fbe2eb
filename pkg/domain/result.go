package domain

import "time"

// Trigger identifies what initiated an ingestion task.
type Trigger string

// recognized triggers
const (
	TriggerManual Trigger = "manual"
	TriggerCron   Trigger = "cron"
	TriggerAPI    Trigger = "api"
)

// Task is one unit of queued ingestion work, one feed URL per task.
// Attempt starts at 1 and is incremented by the queue on each redelivery.
type Task struct {
	URL     string  `json:"url"`
	Trigger Trigger `json:"trigger"`
	Attempt int     `json:"attempt"`
}

// EntryFailure describes a single entry that could not be reconciled.
type EntryFailure struct {
	ExternalID string `json:"externalId,omitempty"`
	Link       string `json:"link,omitempty"`
	Reason     string `json:"reason"`
}

// ImportResult is the audit record of one ingestion task execution.
// It is written exactly once at the end of the task and never mutated.
type ImportResult struct {
	ID            int64          `json:"id"`
	SourceURL     string         `json:"sourceUrl"`
	Timestamp     time.Time      `json:"timestamp"`
	TotalFetched  int            `json:"totalFetched"`
	TotalImported int            `json:"totalImported"`
	NewJobs       int            `json:"newJobs"`
	UpdatedJobs   int            `json:"updatedJobs"`
	FailedJobs    int            `json:"failedJobs"`
	Failures      []EntryFailure `json:"failures"`
}
