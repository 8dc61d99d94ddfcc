package distribute

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/bilgisen/newswire/internal/models"
)

// Payload is the provider-agnostic article body posted to a site
type Payload struct {
	GUID     string            `json:"guid"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Markdown string            `json:"markdown"`
	Meta     string            `json:"meta"`
	Tags     []string          `json:"tags"`
	Image    string            `json:"image,omitempty"`
	Category string            `json:"category,omitempty"`
	Social   models.SocialCopy `json:"social"`
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// BuildPayload renders the article for delivery. The category is mapped
// onto an existing site category when the site knows one by that name.
func BuildPayload(a *models.FinishedArticle, siteCategories []string) (Payload, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(a.Body), &buf); err != nil {
		return Payload{}, fmt.Errorf("render body: %w", err)
	}
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return Payload{
		GUID:     a.GUID,
		Title:    a.Title,
		Body:     buf.String(),
		Markdown: a.Body,
		Meta:     a.Meta,
		Tags:     tags,
		Image:    a.ImageURL,
		Category: MatchCategory(a.Category, siteCategories),
		Social:   a.Social,
	}, nil
}

// MatchCategory returns the site's spelling of category, or category itself
// when the site has no matching entry.
func MatchCategory(category string, known []string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return ""
	}
	for _, k := range known {
		if strings.EqualFold(strings.TrimSpace(k), category) {
			return k
		}
	}
	return category
}
