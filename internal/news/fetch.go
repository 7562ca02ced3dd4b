package news

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

// Fetcher pulls items from RSS/Atom/JSON feeds.
type Fetcher struct {
	config Config
	client *http.Client
}

// NewFetcher creates a fetcher. The HTTP client is shared by all feeds.
func NewFetcher(config Config) *Fetcher {
	if config.Parallelism <= 0 {
		config.Parallelism = 4
	}
	return &Fetcher{config: config, client: &http.Client{}}
}

// Fetch parses every feed concurrently, each under the per-feed timeout.
// Failing feeds are logged and skipped. An error is returned only when the
// context is done or every feed failed.
func (f *Fetcher) Fetch(ctx context.Context, feedURLs []string) ([]Item, error) {
	if len(feedURLs) == 0 {
		return nil, nil
	}

	slots := make([][]Item, len(feedURLs))
	errs := make([]error, len(feedURLs))

	var g errgroup.Group
	g.SetLimit(f.config.Parallelism)
	for i, url := range feedURLs {
		g.Go(func() error {
			items, err := f.fetchOne(ctx, url)
			if err != nil {
				log.Printf("[NEWS] feed skipped: %s: %v", url, err)
				errs[i] = err
				return nil
			}
			slots[i] = items
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Item
	failed := 0
	for i := range slots {
		if errs[i] != nil {
			failed++
			continue
		}
		out = append(out, slots[i]...)
	}
	if failed == len(feedURLs) {
		return nil, fmt.Errorf("news: all %d feeds failed: %w", failed, errors.Join(errs...))
	}
	log.Printf("[NEWS] fetched %d items from %d/%d feeds", len(out), len(feedURLs)-failed, len(feedURLs))
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, url string) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	// gofeed parsers keep per-parse state, so one per feed.
	parser := gofeed.NewParser()
	parser.Client = f.client
	feed, err := parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	now := time.Now()
	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		published := now
		if entry.PublishedParsed != nil {
			published = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			published = *entry.UpdatedParsed
		}

		summary := entry.Description
		if summary == "" {
			summary = entry.Content
		}

		items = append(items, Item{
			Title:     entry.Title,
			Summary:   summary,
			URL:       entry.Link,
			Source:    feed.Title,
			Published: published,
		})
	}
	return items, nil
}
