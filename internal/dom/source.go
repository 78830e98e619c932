package dom

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// FetchSource opens documents by fetching the URL and parsing the body into a
// StaticDocument. Suitable for server-rendered pages.
type FetchSource struct {
	client *resty.Client
	logger *zap.Logger
}

// NewFetchSource builds a fetcher with the given timeout and default headers.
func NewFetchSource(timeout time.Duration, headers map[string]string, logger *zap.Logger) *FetchSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	for k, v := range headers {
		client.SetHeader(k, v)
	}
	return &FetchSource{
		client: client,
		logger: logger.Named("fetch"),
	}
}

func (f *FetchSource) Open(ctx context.Context, url string) (Document, error) {
	if strings.HasPrefix(url, "file://") {
		return FileSource{}.Open(ctx, url)
	}

	start := time.Now()
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode())
	}

	doc, err := ParseStatic(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, err
	}

	f.logger.Debug("Fetched document.",
		zap.String("url", url),
		zap.Int("bytes", len(resp.Body())),
		zap.Duration("elapsed", time.Since(start)))
	return doc, nil
}

// FileSource opens documents from the local filesystem. Used by the one-shot
// CLI against saved pages and by tests.
type FileSource struct{}

func (FileSource) Open(_ context.Context, url string) (Document, error) {
	path := strings.TrimPrefix(url, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document file: %w", err)
	}
	defer f.Close()
	return ParseStatic(f)
}

// LiveSource attaches to an externally running browser over its remote
// debugging endpoint and opens URLs as live documents. The browser process
// itself is owned by the orchestration layer.
type LiveSource struct {
	debugURL string
	logger   *zap.Logger
}

func NewLiveSource(debugURL string, logger *zap.Logger) *LiveSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveSource{debugURL: debugURL, logger: logger.Named("livesource")}
}

func (s *LiveSource) Open(ctx context.Context, url string) (Document, error) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(Detach(ctx), s.debugURL)
	pageCtx, cancelPage := chromedp.NewContext(allocCtx)

	navCtx, cancel := CombineContext(pageCtx, ctx)
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		cancelPage()
		cancelAlloc()
		return nil, fmt.Errorf("failed to open %s in browser: %w", url, err)
	}

	s.logger.Debug("Attached live document.", zap.String("url", url))
	doc := NewLive(pageCtx, s.logger)
	doc.closers = append(doc.closers, cancelAlloc, cancelPage)
	return doc, nil
}
