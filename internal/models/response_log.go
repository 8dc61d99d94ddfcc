package models

import "time"

// LogGroup classifies a response log entry by pipeline stage
type LogGroup string

const (
	GroupIngest     LogGroup = "ingest"
	GroupFilter     LogGroup = "filter"
	GroupExtract    LogGroup = "extract"
	GroupRewrite    LogGroup = "rewrite"
	GroupEnrich     LogGroup = "enrich"
	GroupImage      LogGroup = "image"
	GroupDistribute LogGroup = "distribute"
	GroupTerms      LogGroup = "terms"
	GroupQueue      LogGroup = "queue"
)

// SourceType names the entity a log entry refers to
type SourceType string

const (
	SourceSetting  SourceType = "sync_setting"
	SourceArticleT SourceType = "source_article"
	SourceFinished SourceType = "finished_article"
	SourceSite     SourceType = "site"
)

// ResponseLogEntry is an immutable audit record of one external call
type ResponseLogEntry struct {
	ID         int64         `json:"id"`
	Group      LogGroup      `json:"group"`
	SourceType SourceType    `json:"source_type"`
	SourceID   int64         `json:"source_id"`
	Request    string        `json:"request"`
	Response   string        `json:"response"`
	Duration   time.Duration `json:"duration"`
	Cost       int           `json:"cost"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}
