package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

const (
	fetchTimeout = 30 * time.Second
	maxBodySize  = 10 << 20 // 10 MiB
)

type Kind string

const (
	KindArticle Kind = "article"
	KindPDF     Kind = "pdf"
)

// Result is the output of a successful scrape. HTML holds the sanitized
// readable content for KindArticle; PDF holds the raw bytes for KindPDF.
type Result struct {
	Kind     Kind
	HTML     string
	Text     string
	PDF      []byte
	Title    string
	Byline   string
	Excerpt  string
	SiteName string
	Language string
}

type Scraper struct {
	httpClient *http.Client
	sanitizer  *bluemonday.Policy
	userAgent  string
	minLength  int
}

func NewScraper(httpClient *http.Client, userAgent string, minLength int) *Scraper {
	return &Scraper{
		httpClient: httpClient,
		sanitizer:  bluemonday.UGCPolicy(),
		userAgent:  userAgent,
		minLength:  minLength,
	}
}

// Run fetches the URL and extracts readable content. Failures come back as
// *Error so callers can distinguish retryable fetch problems from content
// that will never parse.
func (s *Scraper) Run(ctx context.Context, rawURL string) (*Result, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, newError(CodeInvalidURL, 0, err)
	}

	data, contentType, err := s.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if strings.Contains(contentType, "application/pdf") {
		slog.Debug("Fetched PDF document", "url", rawURL, "size", len(data))
		return &Result{Kind: KindPDF, PDF: data, Title: pageURL.Path}, nil
	}

	return s.extract(data, pageURL)
}

func (s *Scraper) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", rawURL, nil)
	if err != nil {
		return nil, "", newError(CodeInvalidURL, 0, err)
	}

	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", newError(CodeFetchFailed, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", newError(CodeFetchFailed, resp.StatusCode,
			fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, "", newError(CodeFetchFailed, 0, fmt.Errorf("failed to read response body: %w", err))
	}

	return data, resp.Header.Get("Content-Type"), nil
}

func (s *Scraper) extract(data []byte, pageURL *url.URL) (*Result, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, newError(CodeReadabilityEmpty, 0, fmt.Errorf("response body is empty"))
	}

	result := &Result{Kind: KindArticle}

	// Page-level metadata comes from the raw document; readability only
	// sees the cleaned body.
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data)); err == nil {
		s.collectMetadata(doc, result)
	}

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return nil, newError(CodeReadabilityEmpty, 0, fmt.Errorf("failed to extract content: %w", err))
	}

	var textBuf strings.Builder
	if err := article.RenderText(&textBuf); err != nil {
		return nil, newError(CodeReadabilityEmpty, 0, fmt.Errorf("failed to render text: %w", err))
	}
	result.Text = strings.TrimSpace(textBuf.String())

	if result.Text == "" {
		return nil, newError(CodeReadabilityEmpty, 0, fmt.Errorf("no content extracted"))
	}
	if len(result.Text) < s.minLength {
		return nil, newError(CodeContentTooShort, 0,
			fmt.Errorf("extracted text is %d chars, need %d", len(result.Text), s.minLength))
	}

	var htmlBuf strings.Builder
	if err := article.RenderHTML(&htmlBuf); err == nil {
		result.HTML = s.sanitizer.Sanitize(htmlBuf.String())
	}

	slog.Debug("Content extracted successfully",
		"url", pageURL.String(),
		"title", result.Title,
		"text_length", len(result.Text))

	return result, nil
}

func (s *Scraper) collectMetadata(doc *goquery.Document, result *Result) {
	meta := func(selectors ...string) string {
		for _, sel := range selectors {
			if v, ok := doc.Find(sel).Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	result.Title = meta(`meta[property="og:title"]`, `meta[name="twitter:title"]`)
	if result.Title == "" {
		result.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	result.Byline = meta(`meta[name="author"]`, `meta[property="article:author"]`)
	result.Excerpt = meta(`meta[property="og:description"]`, `meta[name="description"]`)
	result.SiteName = meta(`meta[property="og:site_name"]`)

	if lang, ok := doc.Find("html").Attr("lang"); ok {
		result.Language = strings.TrimSpace(lang)
	}
}
