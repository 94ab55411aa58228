package aggregate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shouni/go-news-digest/pkg/aggregate"
	"github.com/shouni/go-news-digest/pkg/source"
	"github.com/shouni/go-news-digest/pkg/types"
)

// stubAdapter は、固定の結果を返すテスト用の source.Adapter 実装です。
type stubAdapter struct {
	src     types.Source
	entries []types.Entry
	err     error
}

func (s *stubAdapter) Source() types.Source {
	return s.src
}

func (s *stubAdapter) Fetch(ctx context.Context, cfg source.Config) ([]types.Entry, error) {
	if s.err != nil {
		return nil, s.err
	}
	// Aggregator 側の後段処理と干渉しないようコピーを返す
	out := make([]types.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// stubExtractor は、すべてのエントリに固定の画像候補を1件与えます。
type stubExtractor struct{}

func (stubExtractor) Extract(ctx context.Context, entry *types.Entry) []types.ImageReference {
	return []types.ImageReference{{URL: "https://example.com/" + entry.ID + ".png", Kind: types.KindOGImage}}
}

func mkEntry(src types.Source, title, url string, published *time.Time) types.Entry {
	return types.Entry{
		ID:          types.EntryID(src, title, url),
		Source:      src,
		Title:       title,
		URL:         url,
		PublishedAt: published,
	}
}

func srcConfig(src types.Source, limit int, entries []types.Entry, err error) aggregate.SourceConfig {
	return aggregate.SourceConfig{
		Adapter: &stubAdapter{src: src, entries: entries, err: err},
		Config:  source.Config{Limit: limit},
	}
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()

	t.Run("empty_source_set_yields_empty_valid_result", func(t *testing.T) {
		agg := aggregate.New(nil, aggregate.Options{})
		result := agg.Aggregate(ctx, nil)
		assert.NotNil(t, result)
		assert.Empty(t, result)
	})

	t.Run("failed_source_equals_omitted_source", func(t *testing.T) {
		okEntries := []types.Entry{
			mkEntry(types.SourceHackerNews, "A1", "https://example.com/a1", nil),
			mkEntry(types.SourceHackerNews, "A2", "https://example.com/a2", nil),
		}
		ok := srcConfig(types.SourceHackerNews, 5, okEntries, nil)
		broken := srcConfig(types.SourceFeed, 5, nil, errors.New("unreachable"))

		agg := aggregate.New(nil, aggregate.Options{})
		withBroken := agg.Aggregate(ctx, []aggregate.SourceConfig{ok, broken})
		withoutBroken := agg.Aggregate(ctx, []aggregate.SourceConfig{ok})

		assert.Equal(t, withoutBroken, withBroken)
	})

	t.Run("dedup_keeps_first_occurrence_across_sources", func(t *testing.T) {
		sharedURL := "https://example.com/shared"

		sourceA := []types.Entry{
			mkEntry(types.SourceHackerNews, "A1", sharedURL, nil),
			mkEntry(types.SourceHackerNews, "A2", "https://example.com/a2", nil),
		}
		sourceB := []types.Entry{
			mkEntry(types.SourceArxiv, "B1", "https://example.com/b1", nil),
		}
		sourceC := []types.Entry{
			mkEntry(types.SourceCustom, "C1", "https://example.com/c1", nil),
			mkEntry(types.SourceCustom, "C2", "https://example.com/c2", nil),
			mkEntry(types.SourceCustom, "C3", sharedURL, nil), // A1 と同じ正規URL
		}

		agg := aggregate.New(nil, aggregate.Options{})
		result := agg.Aggregate(ctx, []aggregate.SourceConfig{
			srcConfig(types.SourceHackerNews, 2, sourceA, nil),
			srcConfig(types.SourceArxiv, 1, sourceB, nil),
			srcConfig(types.SourceCustom, 3, sourceC, nil),
		})

		// 2 + 1 + 3 - 1 (重複) = 5 件
		assert.Len(t, result, 5)

		// 重複IDが存在しないこと
		seen := make(map[string]bool)
		for _, e := range result {
			assert.False(t, seen[e.ID], "duplicate id: %s", e.ID)
			seen[e.ID] = true
		}

		// 初出（ソースA側）が残り、後勝ちしないこと
		sharedID := types.EntryID(types.SourceHackerNews, "A1", sharedURL)
		for _, e := range result {
			if e.ID == sharedID {
				assert.Equal(t, types.SourceHackerNews, e.Source)
				assert.Equal(t, "A1", e.Title)
			}
		}
	})

	t.Run("per_source_limit_truncates_before_merge", func(t *testing.T) {
		entries := []types.Entry{
			mkEntry(types.SourceFeed, "F1", "https://example.com/f1", nil),
			mkEntry(types.SourceFeed, "F2", "https://example.com/f2", nil),
			mkEntry(types.SourceFeed, "F3", "https://example.com/f3", nil),
		}
		agg := aggregate.New(nil, aggregate.Options{})
		result := agg.Aggregate(ctx, []aggregate.SourceConfig{
			srcConfig(types.SourceFeed, 2, entries, nil),
		})

		assert.Len(t, result, 2)
		// ソース固有の順序は保持される
		assert.Equal(t, "F1", result[0].Title)
		assert.Equal(t, "F2", result[1].Title)
	})

	t.Run("source_priority_order_is_stable", func(t *testing.T) {
		first := srcConfig(types.SourceHackerNews, 5, []types.Entry{
			mkEntry(types.SourceHackerNews, "HN", "https://example.com/hn", nil),
		}, nil)
		second := srcConfig(types.SourceArxiv, 5, []types.Entry{
			mkEntry(types.SourceArxiv, "Paper", "https://example.com/paper", nil),
		}, nil)

		agg := aggregate.New(nil, aggregate.Options{})
		result := agg.Aggregate(ctx, []aggregate.SourceConfig{first, second})

		assert.Len(t, result, 2)
		assert.Equal(t, types.SourceHackerNews, result[0].Source)
		assert.Equal(t, types.SourceArxiv, result[1].Source)
	})

	t.Run("date_filter_keeps_undated_entries", func(t *testing.T) {
		inRange := time.Date(2024, 2, 5, 12, 0, 0, 0, time.UTC)
		before := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
		after := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2024, 2, 28, 23, 59, 59, 0, time.UTC)

		entries := []types.Entry{
			mkEntry(types.SourceFeed, "InRange", "https://example.com/in", &inRange),
			mkEntry(types.SourceFeed, "TooOld", "https://example.com/old", &before),
			mkEntry(types.SourceFeed, "TooNew", "https://example.com/new", &after),
			mkEntry(types.SourceFeed, "Undated", "https://example.com/undated", nil),
		}

		agg := aggregate.New(nil, aggregate.Options{From: &from, To: &to})
		result := agg.Aggregate(ctx, []aggregate.SourceConfig{
			srcConfig(types.SourceFeed, 10, entries, nil),
		})

		titles := make([]string, 0, len(result))
		for _, e := range result {
			titles = append(titles, e.Title)
		}
		assert.Equal(t, []string{"InRange", "Undated"}, titles)
	})

	t.Run("extractor_enriches_every_entry", func(t *testing.T) {
		entries := []types.Entry{
			mkEntry(types.SourceHackerNews, "A", "https://example.com/a", nil),
			mkEntry(types.SourceHackerNews, "B", "https://example.com/b", nil),
		}
		agg := aggregate.New(stubExtractor{}, aggregate.Options{ExtractConcurrency: 2})
		result := agg.Aggregate(ctx, []aggregate.SourceConfig{
			srcConfig(types.SourceHackerNews, 5, entries, nil),
		})

		assert.Len(t, result, 2)
		for _, e := range result {
			assert.Len(t, e.Images, 1)
			assert.Equal(t, types.KindOGImage, e.Images[0].Kind)
		}
	})

	t.Run("entry_without_title_and_url_is_dropped", func(t *testing.T) {
		entries := []types.Entry{
			{ID: "empty"},
			mkEntry(types.SourceCustom, "Valid", "https://example.com/v", nil),
		}
		agg := aggregate.New(nil, aggregate.Options{})
		result := agg.Aggregate(ctx, []aggregate.SourceConfig{
			srcConfig(types.SourceCustom, 10, entries, nil),
		})

		assert.Len(t, result, 1)
		assert.Equal(t, "Valid", result[0].Title)
	})
}
