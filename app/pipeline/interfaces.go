package pipeline

import (
	"context"

	"github.com/curioread/curioread/app/llm"
	"github.com/curioread/curioread/app/scrape"
)

// Scraper fetches a URL and extracts readable content.
type Scraper interface {
	Run(ctx context.Context, url string) (*scrape.Result, error)
}

// Analyzer derives pedagogical metadata from article text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*llm.Analysis, error)
}

// Generator produces curiosity questions from an analysis and text.
type Generator interface {
	Generate(ctx context.Context, analysis *llm.Analysis, text string) ([]llm.Question, error)
	Model() string
}

// ContentStore persists scraped article bodies.
type ContentStore interface {
	Put(articleID, name string, data []byte) (string, error)
	Get(relPath string) ([]byte, error)
}
