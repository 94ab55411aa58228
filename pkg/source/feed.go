package source

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log"
	"strings"

	"github.com/mmcdole/gofeed"
	textUtils "github.com/shouni/go-utils/text"

	"github.com/shouni/go-news-digest/pkg/types"
)

const (
	// DefaultFeedLimit は、フィードから取得する件数の既定値です。
	DefaultFeedLimit = 10
	// maxSummaryLength は、要約テキストの最大文字数（rune単位）です。
	maxSummaryLength = 500
)

// FeedAdapter は、任意の RSS/Atom フィードを Entry 列へ変換するアダプターです。
type FeedAdapter struct {
	fetcher Fetcher
}

// NewFeedAdapter は、新しい FeedAdapter を初期化します。
func NewFeedAdapter(fetcher Fetcher) (*FeedAdapter, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("source.NewFeedAdapter: Fetcher cannot be nil")
	}
	return &FeedAdapter{fetcher: fetcher}, nil
}

// Source は Adapter インターフェースを満たします。
func (a *FeedAdapter) Source() types.Source {
	return types.SourceFeed
}

// Fetch は、cfg.URL のフィードを取得・パースし、各アイテムを Entry に変換します。
// 公開日時を持たないアイテムは PublishedAt を未設定のまま返します。
func (a *FeedAdapter) Fetch(ctx context.Context, cfg Config) ([]types.Entry, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("フィードURLが設定されていません")
	}

	body, err := a.fetcher.FetchBytes(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得失敗 (URL: %s): %w", cfg.URL, err)
	}

	feed, err := parseFeedBytes(body)
	if err != nil {
		return nil, fmt.Errorf("フィードのパース失敗 (URL: %s): %w", cfg.URL, err)
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultFeedLimit
	}

	entries := make([]types.Entry, 0, limit)
	for _, item := range feed.Items {
		entry, ok := feedItemToEntry(item, types.SourceFeed, cfg.Name)
		if !ok {
			log.Printf("フィードアイテムをスキップしました (URL: %s, タイトル: %q)", cfg.URL, item.Title)
			continue
		}
		entries = append(entries, entry)
		if len(entries) >= limit {
			break
		}
	}

	return entries, nil
}

// parseFeedBytes は、取得済みのバイト配列を gofeed でパースします。
func parseFeedBytes(body []byte) (*gofeed.Feed, error) {
	fp := gofeed.NewParser()
	return fp.Parse(bytes.NewReader(body))
}

// feedItemToEntry は、gofeed のアイテム1件を Entry に変換します。
// リンクを持たないアイテムは下流で参照不能となるため変換失敗を返します。
func feedItemToEntry(item *gofeed.Item, src types.Source, sourceName string) (types.Entry, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return types.Entry{}, false
	}

	title := decodeText(item.Title)
	if title == "" {
		return types.Entry{}, false
	}

	summary := item.Description
	if summary == "" {
		summary = item.Content
	}

	entry := types.Entry{
		ID:          types.EntryID(src, item.GUID, link),
		Source:      src,
		Title:       title,
		Summary:     truncate(decodeText(summary), maxSummaryLength),
		URL:         link,
		PublishedAt: item.PublishedParsed,
	}

	if sourceName != "" {
		entry.Extra = map[string]any{"source_name": sourceName}
	}

	// enclosure に画像があれば、発見順の先頭候補として記録する
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if strings.HasPrefix(enc.Type, "image/") {
			entry.Images = append(entry.Images, types.ImageReference{
				URL:  enc.URL,
				Kind: types.KindEnclosure,
			})
			break
		}
	}

	return entry, true
}

// decodeText は、HTMLエスケープされたテキストを復号し、空白を正規化します。
func decodeText(s string) string {
	return textUtils.NormalizeText(html.UnescapeString(s))
}

// truncate は、テキストを最大 n 文字（rune単位）に切り詰めます。
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
