// Package ingest pulls articles from the feed service into the store,
// deduplicating by external id and normalizing content for analysis.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fundradar/radar/internal/model"
	"github.com/fundradar/radar/internal/store"
	"github.com/fundradar/radar/pkg/feed"
)

// Stats summarizes one ingestion pass.
type Stats struct {
	Fetched    int
	New        int
	Duplicates int
	Dropped    int
}

// Ingestor walks the paginated feed listing and persists new items.
type Ingestor struct {
	store      store.Store
	feed       feed.Client
	pageLimit  int
	maxPages   int
	maxTextLen int
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithPageLimit sets the listing page size.
func WithPageLimit(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.pageLimit = n
		}
	}
}

// WithMaxPages caps how many pages one pass may walk.
func WithMaxPages(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.maxPages = n
		}
	}
}

// WithMaxTextLen caps extracted article text length.
func WithMaxTextLen(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.maxTextLen = n
		}
	}
}

// New creates an Ingestor with 100-item pages, a 100-page cap and a
// 15000-rune text cap.
func New(st store.Store, fc feed.Client, opts ...Option) *Ingestor {
	in := &Ingestor{
		store:      st,
		feed:       fc,
		pageLimit:  100,
		maxPages:   100,
		maxTextLen: 15000,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest fetches every article published inside [windowStart,
// windowEnd]. The listing is ordered newest first, so articles past
// the window end are skipped while pagination continues, and
// pagination stops at the first page containing an article older than
// the window start. A failed detail fetch drops that one article and
// continues.
func (in *Ingestor) Ingest(ctx context.Context, windowStart, windowEnd time.Time) (Stats, error) {
	var stats Stats
	offset := 0

	for page := 0; page < in.maxPages; page++ {
		articles, err := in.feed.ListArticles(ctx, feed.ListParams{Limit: in.pageLimit, Offset: offset})
		if err != nil {
			return stats, eris.Wrap(err, "ingest: list articles")
		}
		if len(articles) == 0 {
			break
		}

		pastWindow := false
		for _, a := range articles {
			stats.Fetched++
			if a.PublishedAt().After(windowEnd) {
				stats.Dropped++
				zap.L().Debug("article past window end",
					zap.String("external_id", a.ID),
					zap.Time("published_at", a.PublishedAt()))
				continue
			}
			if a.PublishedAt().Before(windowStart) {
				pastWindow = true
				continue
			}
			switch err := in.ingestOne(ctx, a); {
			case err == nil:
				stats.New++
			case eris.Is(err, errDuplicate):
				stats.Duplicates++
			default:
				stats.Dropped++
				zap.L().Warn("article dropped",
					zap.String("external_id", a.ID),
					zap.String("title", a.Title),
					zap.Error(err))
			}
		}

		if pastWindow || len(articles) < in.pageLimit {
			break
		}
		offset += len(articles)
	}

	zap.L().Info("ingestion finished",
		zap.Int("fetched", stats.Fetched),
		zap.Int("new", stats.New),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("dropped", stats.Dropped))
	return stats, nil
}

var errDuplicate = eris.New("ingest: duplicate article")

func (in *Ingestor) ingestOne(ctx context.Context, a feed.Article) error {
	existing, err := in.store.GetItemByExternalID(ctx, a.ID)
	if err != nil {
		return eris.Wrap(err, "ingest: lookup item")
	}
	if existing != nil {
		return errDuplicate
	}

	detail, err := in.feed.GetArticleDetail(ctx, a.ID)
	if err != nil {
		return eris.Wrap(err, "ingest: fetch detail")
	}

	text := Truncate(HTMLToText(detail.Content), in.maxTextLen)
	item := &model.Item{
		ExternalID:  a.ID,
		SourceID:    a.SourceID,
		SourceName:  a.SourceName,
		Title:       a.Title,
		URL:         a.URL,
		PublishedAt: a.PublishedAt(),
		RawHTML:     detail.Content,
		Text:        text,
		ContentHash: Fingerprint(a.Title, text),
		Status:      model.ItemStatusPending,
	}
	if err := in.store.CreateItem(ctx, item); err != nil {
		return eris.Wrap(err, "ingest: store item")
	}
	return nil
}

// RefreshContent re-fetches detail for pending items whose text is
// still empty, e.g. after a detail fetch succeeded with an empty body
// or a partial earlier run. An item that stays empty after the
// re-fetch is marked skipped so classification never sees it; a
// failed re-fetch leaves the item pending for the next run. Returns
// the refreshed and skipped counts.
func (in *Ingestor) RefreshContent(ctx context.Context, windowStart time.Time) (refreshed, skipped int, err error) {
	items, err := in.store.ListPendingItems(ctx, windowStart)
	if err != nil {
		return 0, 0, eris.Wrap(err, "ingest: list pending items")
	}

	for _, item := range items {
		if item.Text != "" {
			continue
		}
		detail, err := in.feed.GetArticleDetail(ctx, item.ExternalID)
		if err != nil {
			zap.L().Warn("content refresh failed",
				zap.String("external_id", item.ExternalID),
				zap.Error(err))
			continue
		}
		text := Truncate(HTMLToText(detail.Content), in.maxTextLen)
		if text == "" {
			if err := in.store.UpdateItemStatus(ctx, item.ID, model.ItemStatusSkipped); err != nil {
				return refreshed, skipped, eris.Wrap(err, "ingest: skip empty item")
			}
			skipped++
			zap.L().Info("item skipped, no content",
				zap.String("external_id", item.ExternalID),
				zap.String("title", item.Title))
			continue
		}
		hash := Fingerprint(item.Title, text)
		if err := in.store.UpdateItemContent(ctx, item.ID, detail.Content, text, hash); err != nil {
			return refreshed, skipped, eris.Wrap(err, "ingest: update item content")
		}
		refreshed++
	}
	return refreshed, skipped, nil
}
