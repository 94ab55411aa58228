package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	textUtils "github.com/shouni/go-utils/text"

	"github.com/shouni/go-news-digest/pkg/types"
)

const (
	// DefaultHackerNewsEndpoint は、Algolia の Hacker News 検索 API のエンドポイントです。
	DefaultHackerNewsEndpoint = "https://hn.algolia.com/api/v1/search"
	// DefaultHackerNewsLimit は、取得件数の既定値です。
	DefaultHackerNewsLimit = 8
	// DefaultHackerNewsQuery は、検索キーワードの既定値です。
	DefaultHackerNewsQuery = "AI"

	// hnOverfetchFactor は、points 上位を選別するために limit の何倍を取得するかを定めます。
	hnOverfetchFactor = 20
	// hnMaxAgeDays は、保持する記事の最大経過日数です。これより古い記事は捨てられます。
	hnMaxAgeDays = 180

	hnItemURLFormat = "https://news.ycombinator.com/item?id=%s"
)

// HackerNewsAdapter は、Hacker News 検索 API (JSON) を Entry 列へ変換するアダプターです。
type HackerNewsAdapter struct {
	fetcher  Fetcher
	endpoint string
}

// NewHackerNewsAdapter は、新しい HackerNewsAdapter を初期化します。
func NewHackerNewsAdapter(fetcher Fetcher) (*HackerNewsAdapter, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("source.NewHackerNewsAdapter: Fetcher cannot be nil")
	}
	return &HackerNewsAdapter{
		fetcher:  fetcher,
		endpoint: DefaultHackerNewsEndpoint,
	}, nil
}

// hnHit は、検索 API レスポンス内の1件分の構造です。
type hnHit struct {
	ObjectID   string `json:"objectID"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Points     int    `json:"points"`
	Author     string `json:"author"`
	CreatedAtI int64  `json:"created_at_i"`
}

type hnSearchResponse struct {
	Hits []hnHit `json:"hits"`
}

// Source は Adapter インターフェースを満たします。
func (a *HackerNewsAdapter) Source() types.Source {
	return types.SourceHackerNews
}

// Fetch は、検索 API を1回呼び出し、points 降順で上位の記事を Entry として返します。
// 古すぎる記事と重複URLはスキップされます。
func (a *HackerNewsAdapter) Fetch(ctx context.Context, cfg Config) ([]types.Entry, error) {
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultHackerNewsLimit
	}
	query := cfg.Query
	if query == "" {
		query = DefaultHackerNewsQuery
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("tags", "story")
	params.Set("hitsPerPage", strconv.Itoa(limit*hnOverfetchFactor))

	body, err := a.fetcher.FetchBytes(ctx, a.endpoint+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("hacker news の取得失敗: %w", err)
	}

	var res hnSearchResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("hacker news レスポンスのパース失敗: %w", err)
	}

	// points 降順に並べ替えてから選別する（API の既定順は関連度順のため）
	hits := res.Hits
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Points > hits[j].Points
	})

	cutoff := time.Now().UTC().AddDate(0, 0, -hnMaxAgeDays)
	seen := make(map[string]struct{}, limit)

	entries := make([]types.Entry, 0, limit)
	for _, hit := range hits {
		title := textUtils.NormalizeText(hit.Title)
		if title == "" {
			continue // タイトルを持たない項目は不正として読み飛ばす
		}

		var publishedAt *time.Time
		if hit.CreatedAtI > 0 {
			t := time.Unix(hit.CreatedAtI, 0).UTC()
			if t.Before(cutoff) {
				continue
			}
			publishedAt = &t
		}

		link := hit.URL
		if link == "" {
			// 外部URLを持たない投稿（Ask HN など）は HN 上のディスカッションを正規URLとする
			link = fmt.Sprintf(hnItemURLFormat, hit.ObjectID)
		}
		// 検証を通った項目だけがURLの枠を消費する。不正な項目や古すぎる項目が
		// 同じURLを持つ後続の有効な項目を影で落とさないようにする
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}

		entries = append(entries, types.Entry{
			ID:          types.EntryID(types.SourceHackerNews, hit.ObjectID, link),
			Source:      types.SourceHackerNews,
			Title:       title,
			URL:         link,
			PublishedAt: publishedAt,
			Extra: map[string]any{
				"points": hit.Points,
				"author": hit.Author,
			},
		})

		if len(entries) >= limit {
			break
		}
	}

	return entries, nil
}
