package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Question is one curiosity question, ordered within its set.
type Question struct {
	Order    int    `json:"order"`
	Question string `json:"question"`
	Concept  string `json:"concept"`
}

type Generator struct {
	client  *Client
	prompts Prompts
}

func NewGenerator(client *Client, prompts Prompts) *Generator {
	return &Generator{client: client, prompts: prompts}
}

func (g *Generator) Model() string {
	return g.client.Model()
}

// Generate produces the ordered curiosity questions for an article, guided
// by its analysis.
func (g *Generator) Generate(ctx context.Context, analysis *Analysis, text string) ([]Question, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write exactly %d curiosity questions.\n\n", g.prompts.QuestionCount)
	fmt.Fprintf(&b, "Thesis: %s\n", analysis.Thesis)
	fmt.Fprintf(&b, "Key concepts: %s\n", strings.Join(analysis.KeyConcepts, "; "))
	fmt.Fprintf(&b, "Complexity: %s\n\n", analysis.Complexity)
	fmt.Fprintf(&b, "Article:\n%s", truncate(text, maxPromptChars))

	reply, err := g.client.Chat(ctx, g.prompts.GeneratorSystem, b.String())
	if err != nil {
		return nil, fmt.Errorf("question generation call failed: %w", err)
	}

	var questions []Question
	if err := json.Unmarshal([]byte(extractJSON(reply)), &questions); err != nil {
		return nil, newError(CodeBadResponse, 0, fmt.Errorf("unparseable questions: %w", err))
	}

	if len(questions) == 0 {
		return nil, newError(CodeBadResponse, 0, fmt.Errorf("no questions generated"))
	}

	for i := range questions {
		questions[i].Order = i + 1
		questions[i].Question = strings.TrimSpace(questions[i].Question)
		if questions[i].Question == "" {
			return nil, newError(CodeBadResponse, 0, fmt.Errorf("question %d is empty", i+1))
		}
	}

	slog.Debug("Questions generated", "count", len(questions))

	return questions, nil
}
