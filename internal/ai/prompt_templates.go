package ai

import (
	"fmt"
	"strings"
)

// PromptTemplates contains the prompt templates for each generation step
var PromptTemplates = struct {
	Selection string
	Rewrite   string
	Meta      string
	Social    string
	Tags      string
}{
	Selection: `You are a news editor choosing stories for this audience: %s.
Below is a numbered list of candidate stories. Pick the ones this audience would find interesting and worth publishing.
%s
Respond with a valid JSON object of this shape and nothing else:
{"selected": [<id>, <id>, ...]}
Only use ids from the list. An empty list is allowed.

Candidates:
%s`,

	Rewrite: `You are an expert journalist and SEO writer.
Rewrite the following news article in your own words for this audience: %s.
Requirements:
1. Title: catchy, factual, under 70 characters
2. Body: well-structured markdown with paragraphs, no title heading, at least three paragraphs
3. Keep every fact from the source, never invent quotes or numbers
%s
Respond as a valid JSON object with these fields:
- title (string)
- body (markdown formatted string)

Source article:
Title: %s

Content: %s`,

	Meta: `Write an SEO meta description (1-2 sentences, under 160 characters) for this article.
Respond as a valid JSON object: {"meta": "<description>"}

Title: %s

Content: %s`,

	Social: `Write promotional social media copy for this article.
- twitter: under 260 characters, may include up to two hashtags
- facebook: 1-3 sentences
- linkedin: 2-3 professional sentences
Respond as a valid JSON object with the fields twitter, facebook and linkedin.

Title: %s

Content: %s`,

	Tags: `Suggest 5-7 short topical tags for this article.
Respond as a valid JSON object: {"tags": ["tag", ...]}

Title: %s

Content: %s`,
}

// SelectionCandidate is one entry of a filtering prompt
type SelectionCandidate struct {
	ID      int64
	Title   string
	Snippet string
}

// BuildSelectionPrompt enumerates the batch for the filtering step
func BuildSelectionPrompt(audience, instruction string, candidates []SelectionCandidate) string {
	var list strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&list, "[%d] %s", c.ID, escapeForPrompt(c.Title))
		if snippet := escapeForPrompt(truncateRunes(c.Snippet, 280)); snippet != "" {
			fmt.Fprintf(&list, " - %s", snippet)
		}
		list.WriteString("\n")
	}
	return fmt.Sprintf(PromptTemplates.Selection, escapeForPrompt(audience), instructionLine(instruction), list.String())
}

// BuildRewritePrompt creates the title/body generation prompt
func BuildRewritePrompt(audience, instruction, title, content string) string {
	return fmt.Sprintf(PromptTemplates.Rewrite,
		escapeForPrompt(audience),
		instructionLine(instruction),
		escapeForPrompt(title),
		escapeForPrompt(content))
}

func BuildMetaPrompt(title, body string) string {
	return fmt.Sprintf(PromptTemplates.Meta, escapeForPrompt(title), escapeForPrompt(truncateRunes(body, 4000)))
}

func BuildSocialPrompt(title, body string) string {
	return fmt.Sprintf(PromptTemplates.Social, escapeForPrompt(title), escapeForPrompt(truncateRunes(body, 4000)))
}

func BuildTagsPrompt(title, body string) string {
	return fmt.Sprintf(PromptTemplates.Tags, escapeForPrompt(title), escapeForPrompt(truncateRunes(body, 4000)))
}

func instructionLine(instruction string) string {
	instruction = escapeForPrompt(instruction)
	if instruction == "" {
		return ""
	}
	return "Additional instruction: " + instruction
}

// escapeForPrompt escapes special characters for use in prompts
func escapeForPrompt(s string) string {
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
