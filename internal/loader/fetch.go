package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/rag"
)

// defaultFetchTimeout bounds each page fetch when the caller passes a nil client.
const defaultFetchTimeout = 30 * time.Second

// userAgent is sent with every fetch request.
const userAgent = "hbrag/1.0 (handbook ingestion)"

// FetchURLs retrieves each URL in order and returns one Document per page,
// using the URL as the Document ID. Pages are read as plain text; a non-200
// response or transport failure aborts the whole fetch. A nil client uses a
// client with a 30s timeout.
func FetchURLs(ctx context.Context, client *http.Client, urls []string) ([]rag.Document, error) {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	log := logging.FromContext(ctx)

	docs := make([]rag.Document, 0, len(urls))
	for _, u := range urls {
		text, err := fetch(ctx, client, u)
		if err != nil {
			return nil, fmt.Errorf("loader: fetch failed for %s: %w", u, err)
		}
		docs = append(docs, rag.Document{ID: u, Text: text})
		log.Debug("loader: fetched document", slog.String("url", u), slog.Int("chars", len(text)))
	}
	return docs, nil
}

// fetch retrieves the raw text content of a URL.
func fetch(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/plain, text/markdown, text/html")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	return string(body), nil
}
