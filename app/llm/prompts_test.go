package llm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPromptsEmptyPathReturnsDefaults(t *testing.T) {
	prompts, err := LoadPrompts("")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if prompts.AnalyzerSystem == "" || prompts.GeneratorSystem == "" {
		t.Error("Expected default system prompts")
	}
	if prompts.QuestionCount != 4 {
		t.Errorf("Expected default question count 4, got %d", prompts.QuestionCount)
	}
}

func TestLoadPromptsPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yml")
	content := "question_count: 6\nanalyzer_system: custom analyzer prompt\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	prompts, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if prompts.QuestionCount != 6 {
		t.Errorf("Expected question count 6, got %d", prompts.QuestionCount)
	}
	if prompts.AnalyzerSystem != "custom analyzer prompt" {
		t.Errorf("Expected overridden analyzer prompt, got %q", prompts.AnalyzerSystem)
	}
	if prompts.GeneratorSystem != DefaultPrompts().GeneratorSystem {
		t.Error("Expected generator prompt to keep its default")
	}
}

func TestLoadPromptsMissingFile(t *testing.T) {
	if _, err := LoadPrompts("/nonexistent/prompts.yml"); err == nil {
		t.Error("Expected error for missing file, got none")
	}
}
