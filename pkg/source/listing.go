package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	textUtils "github.com/shouni/go-utils/text"

	"github.com/shouni/go-news-digest/pkg/types"
)

const (
	// DefaultListingLimit は、リスティングページから取得する件数の既定値です。
	DefaultListingLimit = 5

	// リンクテキストを記事タイトルとみなす文字数の範囲（rune単位）。
	// これより短いものはナビゲーション、長いものは本文断片の可能性が高い。
	minListingTitleLen = 10
	maxListingTitleLen = 100
)

// defaultListingKeywords は、採用条件となるトピックキーワードの既定値です。
// 対象サイトが中国語圏のため、既定値も中国語の用語を含みます。
var defaultListingKeywords = []string{
	"AI", "人工智能", "机器学习", "深度学习", "LLM", "大模型", "智能", "ChatGPT", "GPT",
}

// listingSkipKeywords は、ナビゲーションやフッターのリンクを示すテキストです。
var listingSkipKeywords = []string{
	"登录", "注册", "首页", "关于", "联系", "友情链接", "广告", "合作", "招聘",
}

// ListingSite は、事前定義されたリスティングソースの1サイト分の設定です。
type ListingSite struct {
	Name string
	URL  string
}

// PredefinedListings は、キーで参照できる既知のリスティングソースです。
var PredefinedListings = map[string]ListingSite{
	"36kr-ai":     {Name: "36氪AI", URL: "https://36kr.com/information/AI/"},
	"sina-tech":   {Name: "新浪科技", URL: "https://tech.sina.com.cn/"},
	"zhihu-daily": {Name: "知乎日报", URL: "https://daily.zhihu.com/"},
}

// ListingAdapter は、記事一覧を並べた HTML ページを Entry 列へ変換するアダプターです。
// フィードを配信しないサイト向けに、アンカーのテキストとリンク先から記事を推定します。
type ListingAdapter struct {
	fetcher Fetcher
}

// NewListingAdapter は、新しい ListingAdapter を初期化します。
func NewListingAdapter(fetcher Fetcher) (*ListingAdapter, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("source.NewListingAdapter: Fetcher cannot be nil")
	}
	return &ListingAdapter{fetcher: fetcher}, nil
}

// Source は Adapter インターフェースを満たします。
func (a *ListingAdapter) Source() types.Source {
	return types.SourceListing
}

// Fetch は、cfg.URL のページからキーワードに合致する記事リンクを文書順に収集します。
// タイトルが短すぎる/長すぎるリンク、ナビゲーションらしいリンク、重複URLはスキップされます。
// リスティングページは公開日時を提供しないため、PublishedAt は未設定のままです。
func (a *ListingAdapter) Fetch(ctx context.Context, cfg Config) ([]types.Entry, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("リスティングソースのURLが設定されていません")
	}

	body, err := a.fetcher.FetchBytes(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("リスティングページの取得失敗 (URL: %s): %w", cfg.URL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("リスティングページのパース失敗 (URL: %s): %w", cfg.URL, err)
	}

	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("リスティングURLが不正です (URL: %s): %w", cfg.URL, err)
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultListingLimit
	}
	keywords := cfg.Keywords
	if len(keywords) == 0 {
		keywords = defaultListingKeywords
	}

	seen := make(map[string]struct{}, limit)
	entries := make([]types.Entry, 0, limit)

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return true
		}

		title := textUtils.NormalizeText(s.Text())
		if n := utf8.RuneCountInString(title); n < minListingTitleLen || n > maxListingTitleLen {
			return true
		}
		if containsAny(title, listingSkipKeywords) {
			return true
		}
		if !containsAny(title, keywords) {
			return true
		}

		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		link := base.ResolveReference(ref).String()
		if _, ok := seen[link]; ok {
			return true
		}
		seen[link] = struct{}{}

		entry := types.Entry{
			ID:     types.EntryID(types.SourceListing, "", link),
			Source: types.SourceListing,
			Title:  title,
			URL:    link,
		}
		if cfg.Name != "" {
			entry.Extra = map[string]any{"source_name": cfg.Name}
		}
		entries = append(entries, entry)
		return len(entries) < limit
	})

	return entries, nil
}

// containsAny は、文字列がキーワードのいずれかを含むかを判定します。
func containsAny(s string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
