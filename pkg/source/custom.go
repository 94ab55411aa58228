package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shouni/go-news-digest/pkg/types"
)

// DefaultCustomLimit は、カスタムソースから取得する件数の既定値です。
const DefaultCustomLimit = 5

// JSON ペイロード内でアイテムリストを探すキーの候補（優先順）。
var customListKeys = []string{"data", "items", "results", "articles"}

// アイテム内の各フィールドを探すキーの候補（優先順）。
var (
	customTitleKeys   = []string{"title", "name", "headline"}
	customLinkKeys    = []string{"url", "link", "href", "sourceUrl"}
	customSummaryKeys = []string{"summary", "description", "content", "abstract"}
	customDateKeys    = []string{"published", "publish_time", "created_at", "pubDate", "date"}
	customImageKeys   = []string{"image", "imageUrl", "thumbnail", "imgUrl"}
)

// customTimeLayouts は、公開日時文字列の解釈に試行するレイアウトです。
var customTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// CustomAdapter は、形式が事前に分からない URL を Entry 列へ変換するアダプターです。
// ペイロードの先頭バイトで JSON API かどうかを判定し、JSON でなければ
// RSS/Atom フィードとしてのパースにフォールバックします。
type CustomAdapter struct {
	fetcher Fetcher
}

// NewCustomAdapter は、新しい CustomAdapter を初期化します。
func NewCustomAdapter(fetcher Fetcher) (*CustomAdapter, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("source.NewCustomAdapter: Fetcher cannot be nil")
	}
	return &CustomAdapter{fetcher: fetcher}, nil
}

// Source は Adapter インターフェースを満たします。
func (a *CustomAdapter) Source() types.Source {
	return types.SourceCustom
}

// Fetch は、cfg.URL の内容を取得し、形式を自動判定して Entry 列へ変換します。
// 判定した形式として解釈できない場合はエラーを返します。
func (a *CustomAdapter) Fetch(ctx context.Context, cfg Config) ([]types.Entry, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("カスタムソースのURLが設定されていません")
	}

	body, err := a.fetcher.FetchBytes(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("カスタムソースの取得失敗 (URL: %s): %w", cfg.URL, err)
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultCustomLimit
	}

	// 先頭バイトによる形式判定: '{' / '[' で始まるペイロードは JSON API として扱う。
	// Content-Type だけでは判別できない配信元が多いため、実データを根拠とする。
	// JSON に見えるペイロードをフィードとして再解釈することはしない
	// （gofeed は中身のない JSON も空の JSON Feed として受理してしまうため）。
	if looksLikeJSON(body) {
		entries, err := a.parseJSONItems(body, limit, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("カスタムソースの JSON 解釈失敗 (URL: %s): %w", cfg.URL, err)
		}
		return entries, nil
	}

	feed, err := parseFeedBytes(body)
	if err != nil {
		return nil, fmt.Errorf("カスタムソースをフィードとして解釈できません (URL: %s): %w", cfg.URL, err)
	}

	entries := make([]types.Entry, 0, limit)
	for _, item := range feed.Items {
		entry, ok := feedItemToEntry(item, types.SourceCustom, cfg.Name)
		if !ok {
			continue
		}
		entries = append(entries, entry)
		if len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

// looksLikeJSON は、ペイロードが JSON ドキュメントで始まるかを判定します。
func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// parseJSONItems は、list-of-objects 形式の JSON ペイロードを Entry 列へ変換します。
// タイトルとリンクの両方を欠くアイテムは下流で扱えないため捨てられます。
func (a *CustomAdapter) parseJSONItems(body []byte, limit int, sourceName string) ([]types.Entry, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("JSONのデコード失敗: %w", err)
	}

	items, err := findItemList(doc)
	if err != nil {
		return nil, err
	}

	entries := make([]types.Entry, 0, limit)
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		title := firstString(item, customTitleKeys)
		link := firstString(item, customLinkKeys)
		if title == "" && link == "" {
			continue
		}
		if link == "" {
			// リンクなしの項目は参照不能のため不正アイテムとして読み飛ばす
			continue
		}

		entry := types.Entry{
			ID:          types.EntryID(types.SourceCustom, "", link),
			Source:      types.SourceCustom,
			Title:       decodeText(title),
			Summary:     truncate(decodeText(firstString(item, customSummaryKeys)), maxSummaryLength),
			URL:         link,
			PublishedAt: parseCustomTime(firstString(item, customDateKeys)),
		}
		if sourceName != "" {
			entry.Extra = map[string]any{"source_name": sourceName}
		}
		if img := firstString(item, customImageKeys); img != "" {
			entry.Images = append(entry.Images, types.ImageReference{
				URL:  img,
				Kind: types.KindThumbnail,
			})
		}

		entries = append(entries, entry)
		if len(entries) >= limit {
			break
		}
	}

	return entries, nil
}

// findItemList は、トップレベル配列または既知のキー配下の配列を探します。
func findItemList(doc any) ([]any, error) {
	switch v := doc.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range customListKeys {
			if list, ok := v[key].([]any); ok {
				return list, nil
			}
		}
	}
	return nil, fmt.Errorf("アイテムリストが見つかりません")
}

// firstString は、候補キーのうち最初に見つかった空でない文字列値を返します。
func firstString(item map[string]any, keys []string) string {
	for _, key := range keys {
		if s, ok := item[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// parseCustomTime は、複数のレイアウトを試して公開日時を解釈します。
// 解釈できない場合は nil を返し、そのエントリは日付フィルタの対象外となります。
func parseCustomTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range customTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
