package source

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	textUtils "github.com/shouni/go-utils/text"

	"github.com/shouni/go-news-digest/pkg/types"
)

const (
	// DefaultArxivEndpoint は、arXiv の export API エンドポイントです。
	DefaultArxivEndpoint = "http://export.arxiv.org/api/query"
	// DefaultArxivQuery は、検索クエリの既定値です。
	DefaultArxivQuery = "artificial intelligence OR machine learning"
	// DefaultArxivLimit は、取得する論文数の既定値です。
	DefaultArxivLimit = 2

	// arxivMaxResults は、選別前に API へ要求する件数です。
	arxivMaxResults = 20
	// arxivMaxAgeDays は、対象日未指定時に保持する論文の最大経過日数です。
	arxivMaxAgeDays = 30
	// arxivSummaryLength は、論文要約の最大文字数（rune単位）です。
	arxivSummaryLength = 300

	arxivAbsURLFormat = "https://arxiv.org/abs/%s"
)

// arxivVersionSuffix は、arXiv ID 末尾のバージョン表記 (v1, v2, ...) にマッチします。
var arxivVersionSuffix = regexp.MustCompile(`v\d+$`)

// ArxivAdapter は、arXiv のリスティング API (Atom) を Entry 列へ変換するアダプターです。
// 論文ページ内の図版発見は images パッケージの抽出段が担当します。
type ArxivAdapter struct {
	fetcher  Fetcher
	endpoint string
}

// NewArxivAdapter は、新しい ArxivAdapter を初期化します。
func NewArxivAdapter(fetcher Fetcher) (*ArxivAdapter, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("source.NewArxivAdapter: Fetcher cannot be nil")
	}
	return &ArxivAdapter{
		fetcher:  fetcher,
		endpoint: DefaultArxivEndpoint,
	}, nil
}

// Source は Adapter インターフェースを満たします。
func (a *ArxivAdapter) Source() types.Source {
	return types.SourceArxiv
}

// Fetch は、投稿日降順で論文リスティングを取得し、日付条件を満たすものを Entry として返します。
// cfg.TargetDate が設定された場合はその日に公開された論文のみを、
// 未設定の場合は直近 arxivMaxAgeDays 日以内の論文を返します。
func (a *ArxivAdapter) Fetch(ctx context.Context, cfg Config) ([]types.Entry, error) {
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultArxivLimit
	}
	query := cfg.Query
	if query == "" {
		query = DefaultArxivQuery
	}

	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(arxivMaxResults))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")

	body, err := a.fetcher.FetchBytes(ctx, a.endpoint+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("arxiv の取得失敗: %w", err)
	}

	feed, err := parseFeedBytes(body)
	if err != nil {
		return nil, fmt.Errorf("arxiv レスポンスのパース失敗: %w", err)
	}

	oldest := time.Now().UTC().AddDate(0, 0, -arxivMaxAgeDays)
	seen := make(map[string]struct{}, limit)

	entries := make([]types.Entry, 0, limit)
	for _, item := range feed.Items {
		arxivID := extractArxivID(item.GUID)
		if arxivID == "" {
			continue
		}
		if _, ok := seen[arxivID]; ok {
			continue
		}
		seen[arxivID] = struct{}{}

		published := item.PublishedParsed
		if published != nil {
			if cfg.TargetDate != nil {
				// 対象日指定時は、その日に公開された論文のみを採用する
				y1, m1, d1 := published.UTC().Date()
				y2, m2, d2 := cfg.TargetDate.UTC().Date()
				if y1 != y2 || m1 != m2 || d1 != d2 {
					continue
				}
			} else if published.Before(oldest) {
				continue
			}
		}

		title := textUtils.NormalizeText(item.Title)
		if title == "" {
			continue
		}

		link := fmt.Sprintf(arxivAbsURLFormat, arxivID)
		entries = append(entries, types.Entry{
			ID:          types.EntryID(types.SourceArxiv, arxivID, link),
			Source:      types.SourceArxiv,
			Title:       title,
			Summary:     truncate(textUtils.NormalizeText(item.Description), arxivSummaryLength),
			URL:         link,
			PublishedAt: published,
			Extra: map[string]any{
				"arxiv_id": arxivID,
				"authors":  joinAuthors(item),
			},
		})

		if len(entries) >= limit {
			break
		}
	}

	return entries, nil
}

// extractArxivID は、Atom エントリの ID (例: http://arxiv.org/abs/2401.01234v2)
// からバージョン表記を除いた arXiv ID を取り出します。
func extractArxivID(guid string) string {
	const marker = "/abs/"
	idx := strings.LastIndex(guid, marker)
	if idx < 0 {
		return ""
	}
	id := guid[idx+len(marker):]
	return arxivVersionSuffix.ReplaceAllString(id, "")
}

// joinAuthors は、アイテムの著者名をカンマ区切りで連結します。
func joinAuthors(item *gofeed.Item) string {
	names := make([]string, 0, len(item.Authors))
	for _, author := range item.Authors {
		if author != nil && author.Name != "" {
			names = append(names, author.Name)
		}
	}
	return strings.Join(names, ", ")
}
