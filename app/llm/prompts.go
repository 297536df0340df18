package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultAnalyzerSystem = `You are a reading coach analyzing an article for a learner.
Respond with a single JSON object and nothing else, using exactly these keys:
"archetype" (one of: news, explainer, opinion, research, narrative, tutorial),
"domain" (the article's subject area, a short phrase),
"complexity" (one of: introductory, intermediate, advanced),
"thesis" (one sentence stating the article's central claim),
"key_concepts" (3 to 6 short strings),
"language" (BCP-47 tag of the article's language),
"reading_time_minutes" (integer estimate for an average reader).`

const defaultGeneratorSystem = `You are a reading coach writing curiosity questions: short questions a
reader should hold in mind while reading, each tied to one of the article's
key concepts. Questions must be answerable from the article and must not
give the answer away. Respond with a single JSON array and nothing else;
each element is an object with keys "question" and "concept".`

// Prompts holds the system prompts and generation settings, overridable
// from a YAML file.
type Prompts struct {
	AnalyzerSystem  string `yaml:"analyzer_system"`
	GeneratorSystem string `yaml:"generator_system"`
	QuestionCount   int    `yaml:"question_count"`
}

func DefaultPrompts() Prompts {
	return Prompts{
		AnalyzerSystem:  defaultAnalyzerSystem,
		GeneratorSystem: defaultGeneratorSystem,
		QuestionCount:   4,
	}
}

// LoadPrompts reads YAML overrides from path, falling back to the defaults
// for any field left unset. An empty path returns the defaults.
func LoadPrompts(path string) (Prompts, error) {
	prompts := DefaultPrompts()
	if path == "" {
		return prompts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return prompts, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var override Prompts
	if err := yaml.Unmarshal(data, &override); err != nil {
		return prompts, fmt.Errorf("failed to parse prompts file: %w", err)
	}

	if override.AnalyzerSystem != "" {
		prompts.AnalyzerSystem = override.AnalyzerSystem
	}
	if override.GeneratorSystem != "" {
		prompts.GeneratorSystem = override.GeneratorSystem
	}
	if override.QuestionCount > 0 {
		prompts.QuestionCount = override.QuestionCount
	}

	return prompts, nil
}
