package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskKind names a unit of background work
type TaskKind string

const (
	TaskSyncRun     TaskKind = "sync_run"
	TaskFilterBatch TaskKind = "filter_batch"
	TaskExtract     TaskKind = "extract"
	TaskRewrite     TaskKind = "rewrite"
	TaskEnrich      TaskKind = "enrich"
	TaskImage       TaskKind = "image"
	TaskDistribute  TaskKind = "distribute"
	TaskSiteTerms   TaskKind = "site_terms"
)

// Envelope is an opaque queued task
type Envelope struct {
	ID         int64           `json:"id"`
	Kind       TaskKind        `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	GroupID    string          `json:"group_id"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// DeadLetter is an envelope that exhausted its retries or failed permanently
type DeadLetter struct {
	ID         int64           `json:"id"`
	EnvelopeID int64           `json:"envelope_id"`
	Kind       TaskKind        `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	GroupID    string          `json:"group_id"`
	Attempts   int             `json:"attempts"`
	Reason     string          `json:"reason"`
	FailedAt   time.Time       `json:"failed_at"`
}

// Task payloads

type SyncRunPayload struct {
	SettingID int64 `json:"setting_id"`
}

type FilterBatchPayload struct {
	SettingID  int64   `json:"setting_id"`
	ArticleIDs []int64 `json:"article_ids"`
}

// ExtractPayload carries the route so extraction knows whether to rewrite or promote
type ExtractPayload struct {
	ArticleID int64 `json:"article_id"`
	Promote   bool  `json:"promote"`
}

// ArticlePayload drives the rewrite task; Promote publishes the source text as is
type ArticlePayload struct {
	ArticleID int64 `json:"article_id"`
	Promote   bool  `json:"promote,omitempty"`
}

type FinishedPayload struct {
	FinishedID int64 `json:"finished_id"`
}

type DistributePayload struct {
	FinishedID int64 `json:"finished_id"`
	SiteID     int64 `json:"site_id"`
}

type SiteTermsPayload struct {
	SiteID int64 `json:"site_id"`
}

// SettingGroup is the queue group for work spawned by a sync setting
func SettingGroup(settingID int64) string {
	return fmt.Sprintf("setting:%d", settingID)
}
