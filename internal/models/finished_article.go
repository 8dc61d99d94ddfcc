package models

import (
	"fmt"
	"time"
)

// ArticleState is the FinishedArticle state machine. Transitions only move
// forward; Failed is terminal and reachable from any state.
type ArticleState string

const (
	StatePending              ArticleState = "pending"
	StateTitleReady           ArticleState = "title_ready"
	StateEnriched             ArticleState = "enriched"
	StateReadyForDistribution ArticleState = "ready_for_distribution"
	StateFailed               ArticleState = "failed"
)

var stateRank = map[ArticleState]int{
	StatePending:              0,
	StateTitleReady:           1,
	StateEnriched:             2,
	StateReadyForDistribution: 3,
}

// CanAdvance reports whether moving from s to next is a forward transition
func (s ArticleState) CanAdvance(next ArticleState) bool {
	if s == StateFailed {
		return false
	}
	if next == StateFailed {
		return true
	}
	from, ok1 := stateRank[s]
	to, ok2 := stateRank[next]
	return ok1 && ok2 && to > from
}

// Predecessors lists every state from which next is reachable
func (s ArticleState) Predecessors() []ArticleState {
	var out []ArticleState
	for _, st := range []ArticleState{StatePending, StateTitleReady, StateEnriched, StateReadyForDistribution} {
		if st.CanAdvance(s) {
			out = append(out, st)
		}
	}
	return out
}

// SocialCopy holds per-network promotional text
type SocialCopy struct {
	Twitter  string `json:"twitter,omitempty"`
	Facebook string `json:"facebook,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
}

// Empty reports whether no variant was generated
func (s SocialCopy) Empty() bool {
	return s.Twitter == "" && s.Facebook == "" && s.LinkedIn == ""
}

// DeliveryStatus is the latest per-site outcome kept on the article
type DeliveryStatus struct {
	Status    string    `json:"status"`
	RemoteID  string    `json:"remote_id,omitempty"`
	RemoteURL string    `json:"remote_url,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

const (
	DeliveryQueued = "queued"
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// FinishedArticle is the AI-generated publishable unit
type FinishedArticle struct {
	ID              int64                     `json:"id"`
	GUID            string                    `json:"guid"`
	SourceArticleID int64                     `json:"source_article_id"`
	SyncSettingID   int64                     `json:"sync_setting_id"`
	Title           string                    `json:"title"`
	Body            string                    `json:"body"`
	Meta            string                    `json:"meta"`
	Social          SocialCopy                `json:"social"`
	Tags            []string                  `json:"tags"`
	Category        string                    `json:"category"`
	ImageURL        string                    `json:"image_url,omitempty"`
	State           ArticleState              `json:"state"`
	FailureReason   string                    `json:"failure_reason,omitempty"`
	DeliveryLog     map[string]DeliveryStatus `json:"delivery_log"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// SiteDeliveryRecord is one remote reference per (article, site, remote id)
type SiteDeliveryRecord struct {
	ID                int64     `json:"id"`
	FinishedArticleID int64     `json:"finished_article_id"`
	SiteID            int64     `json:"site_id"`
	RemoteID          string    `json:"remote_id"`
	RemoteURL         string    `json:"remote_url"`
	Attempts          int       `json:"attempts"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SiteKey is the delivery-log key for a site
func SiteKey(siteID int64) string {
	return fmt.Sprintf("%d", siteID)
}
