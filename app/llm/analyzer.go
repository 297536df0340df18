package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"
)

// maxPromptChars caps how much article text goes into a prompt.
const maxPromptChars = 16000

// Analysis is the pedagogical metadata derived from an article.
type Analysis struct {
	Archetype          string   `json:"archetype"`
	Domain             string   `json:"domain"`
	Complexity         string   `json:"complexity"`
	Thesis             string   `json:"thesis"`
	KeyConcepts        []string `json:"key_concepts"`
	Language           string   `json:"language"`
	ReadingTimeMinutes int      `json:"reading_time_minutes"`
}

type Analyzer struct {
	client  *Client
	prompts Prompts
}

func NewAnalyzer(client *Client, prompts Prompts) *Analyzer {
	return &Analyzer{client: client, prompts: prompts}
}

// Analyze derives reading metadata from article text.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*Analysis, error) {
	reply, err := a.client.Chat(ctx, a.prompts.AnalyzerSystem, truncate(text, maxPromptChars))
	if err != nil {
		return nil, fmt.Errorf("analysis call failed: %w", err)
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(extractJSON(reply)), &analysis); err != nil {
		return nil, newError(CodeBadResponse, 0, fmt.Errorf("unparseable analysis: %w", err))
	}

	if analysis.Thesis == "" || len(analysis.KeyConcepts) == 0 {
		return nil, newError(CodeBadResponse, 0, fmt.Errorf("analysis is missing thesis or key concepts"))
	}

	analysis.Language = normalizeLanguage(analysis.Language)

	slog.Debug("Article analyzed",
		"archetype", analysis.Archetype,
		"complexity", analysis.Complexity,
		"concepts", len(analysis.KeyConcepts),
		"language", analysis.Language)

	return &analysis, nil
}

// normalizeLanguage canonicalizes whatever language label the model
// reported ("English", "en-us", ...) into a BCP-47 tag.
func normalizeLanguage(lang string) string {
	if lang == "" {
		return ""
	}

	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	return tag.String()
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}

	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
