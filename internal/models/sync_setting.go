package models

import "time"

// KeywordLocation selects where a keyword must appear for an item to be kept
type KeywordLocation string

const (
	LocationTitle        KeywordLocation = "title"
	LocationBody         KeywordLocation = "body"
	LocationTitleOrBody  KeywordLocation = "title_or_body"
	LocationTitleAndBody KeywordLocation = "title_and_body"
)

// SettingStatus controls whether the scheduler picks a setting up
type SettingStatus string

const (
	StatusDraft   SettingStatus = "draft"
	StatusPublish SettingStatus = "publish"
)

// SyncTotals are the running counters updated after every sync run
type SyncTotals struct {
	Found    int `json:"found"`
	Existing int `json:"existing"`
	New      int `json:"new"`
	Omitted  int `json:"omitted"`
}

// Add accumulates another run's counters
func (t SyncTotals) Add(o SyncTotals) SyncTotals {
	return SyncTotals{
		Found:    t.Found + o.Found,
		Existing: t.Existing + o.Existing,
		New:      t.New + o.New,
		Omitted:  t.Omitted + o.Omitted,
	}
}

// SyncSetting is a named ingestion configuration
type SyncSetting struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name" validate:"required,max=120"`
	Keywords          []string        `json:"keywords"`
	KeywordLocation   KeywordLocation `json:"keyword_location" validate:"omitempty,oneof=title body title_or_body title_and_body"`
	Category          string          `json:"category"`
	Language          string          `json:"language" validate:"omitempty,len=2"`
	Country           string          `json:"country" validate:"omitempty,len=2"`
	Provider          Provider        `json:"provider" validate:"required,oneof=news tweet"`
	WindowHours       int             `json:"window_hours" validate:"gte=0,lte=720"`
	FilteringEnabled  bool            `json:"filtering_enabled"`
	LiveMode          bool            `json:"live_mode"`
	UseActualSource   bool            `json:"use_actual_source"`
	Audience          string          `json:"audience"`
	CustomInstruction string          `json:"custom_instruction"`
	Status            SettingStatus   `json:"status" validate:"omitempty,oneof=draft publish"`
	Totals            SyncTotals      `json:"totals"`
	LastRunAt         *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Route is the post-ingestion path a new item takes
type Route string

const (
	RouteFilter  Route = "filter"
	RouteLive    Route = "live"
	RouteActual  Route = "actual_source"
	RouteRewrite Route = "rewrite"
)

// Route evaluates the routing policy in priority order
func (s SyncSetting) Route() Route {
	switch {
	case s.FilteringEnabled:
		return RouteFilter
	case s.LiveMode:
		return RouteLive
	case s.UseActualSource:
		return RouteActual
	default:
		return RouteRewrite
	}
}

// GroupID is the queue group all of this setting's envelopes share
func (s SyncSetting) GroupID() string {
	return SettingGroup(s.ID)
}
