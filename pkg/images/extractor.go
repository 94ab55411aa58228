package images

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shouni/go-news-digest/pkg/types"
)

// ----------------------------------------------------------------------
// 依存性の定義 (DIP)
// ----------------------------------------------------------------------

// Fetcher は、ページの生バイト配列を取得する機能のインターフェースを定義します。
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// ----------------------------------------------------------------------
// 定数定義
// ----------------------------------------------------------------------

const (
	// MaxFiguresPerEntry は、1エントリあたりの図版候補の上限数です。
	MaxFiguresPerEntry = 5
	// MinFigureDimension は、寸法が判明している図版の最小ピクセル数です。
	// これ未満の画像はアイコンとみなして除外します。
	MinFigureDimension = 200

	arxivHTMLURLFormat = "https://arxiv.org/html/%s/"
	ogImageSelector    = `meta[property="og:image"]`
)

// formulaKeywords は、数式レンダリング画像を示すファイル名/altテキストのパターンです。
var formulaKeywords = []string{"formula", "inline", "math", "tex", "equation"}

// Extractor は、Entry のソース種別に応じた画像候補の発見とフィルタリングを行います。
type Extractor struct {
	fetcher Fetcher
}

// NewExtractor は、新しい Extractor のインスタンスを生成します。
func NewExtractor(fetcher Fetcher) (*Extractor, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("images.NewExtractor: Fetcher cannot be nil")
	}
	return &Extractor{fetcher: fetcher}, nil
}

// ----------------------------------------------------------------------
// メイン関数
// ----------------------------------------------------------------------

// Extract は、Entry に対して画像候補の発見とフィルタリングを行い、
// 発見順を保った候補列を返します。アダプターが先に記録した候補
// （enclosure / thumbnail）は先頭に保持されます。
// ページ取得の失敗は候補ゼロ件に縮退し、エラーにはなりません。
func (e *Extractor) Extract(ctx context.Context, entry *types.Entry) []types.ImageReference {
	var discovered []types.ImageReference

	switch entry.Source {
	case types.SourceArxiv:
		discovered = e.extractFigures(ctx, entry)
	case types.SourceHackerNews, types.SourceCustom, types.SourceListing:
		// 既に候補を持つエントリに対してページ取得を重ねない
		if len(entry.Images) == 0 {
			discovered = e.extractOGImage(ctx, entry.URL)
		}
	default:
		// フィードソースは enclosure のみ（追加のページ取得は行わない）
	}

	merged := make([]types.ImageReference, 0, len(entry.Images)+len(discovered))
	merged = append(merged, entry.Images...)
	merged = append(merged, discovered...)

	return filterCandidates(merged)
}

// extractOGImage は、リンク先ページの og:image メタタグから候補を最大1件発見します。
func (e *Extractor) extractOGImage(ctx context.Context, pageURL string) []types.ImageReference {
	if pageURL == "" {
		return nil
	}

	body, err := e.fetcher.FetchBytes(ctx, pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	content, ok := doc.Find(ogImageSelector).First().Attr("content")
	content = strings.TrimSpace(content)
	if !ok || content == "" {
		return nil
	}

	return []types.ImageReference{{URL: content, Kind: types.KindOGImage}}
}

// extractFigures は、arXiv 論文の HTML ページから図版候補を文書順に列挙します。
// 数式画像・アイコン・小さすぎる画像は除外し、上限 MaxFiguresPerEntry 件で打ち切ります。
func (e *Extractor) extractFigures(ctx context.Context, entry *types.Entry) []types.ImageReference {
	arxivID, _ := entry.Extra["arxiv_id"].(string)
	if arxivID == "" {
		return nil
	}

	pageURL := fmt.Sprintf(arxivHTMLURLFormat, arxivID)
	body, err := e.fetcher.FetchBytes(ctx, pageURL)
	if err != nil {
		log.Printf("図版ページの取得に失敗しました (arXiv: %s): %v", arxivID, err)
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{}, MaxFiguresPerEntry)
	figures := make([]types.ImageReference, 0, MaxFiguresPerEntry)

	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return true
		}

		alt, _ := s.Attr("alt")
		if matchesFormulaPattern(src) || matchesFormulaPattern(alt) {
			return true
		}
		if strings.Contains(strings.ToLower(src), "icon") {
			return true
		}
		if isIconSized(s) {
			return true
		}

		abs := resolveImageURL(base, src)
		if abs == "" {
			return true
		}
		if _, ok := seen[abs]; ok {
			return true
		}
		seen[abs] = struct{}{}

		figures = append(figures, types.ImageReference{URL: abs, Kind: types.KindFigure})
		return len(figures) < MaxFiguresPerEntry
	})

	return figures
}

// ----------------------------------------------------------------------
// フィルタリング
// ----------------------------------------------------------------------

// filterCandidates は、ソースを問わない共通フィルタを適用します。
// data URI と構文不正な URL は候補として残しません。
func filterCandidates(candidates []types.ImageReference) []types.ImageReference {
	if len(candidates) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]types.ImageReference, 0, len(candidates))
	for _, c := range candidates {
		if c.URL == "" || strings.HasPrefix(c.URL, "data:") {
			continue
		}
		if !isValidImageURL(c.URL) {
			continue
		}
		if _, ok := seen[c.URL]; ok {
			continue
		}
		seen[c.URL] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// isValidImageURL は、候補URLが絶対HTTP(S) URLとして妥当かを検証します。
func isValidImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// matchesFormulaPattern は、数式レンダリング画像の命名規約に一致するかを判定します。
func matchesFormulaPattern(s string) bool {
	lower := strings.ToLower(s)
	for _, keyword := range formulaKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// isIconSized は、寸法属性が判明している場合にアイコンサイズかどうかを判定します。
// 寸法が不明な画像は除外しません。
func isIconSized(s *goquery.Selection) bool {
	width := dimensionAttr(s, "width", "data-width")
	height := dimensionAttr(s, "height", "data-height")
	if width <= 0 || height <= 0 {
		return false
	}
	return width < MinFigureDimension || height < MinFigureDimension
}

func dimensionAttr(s *goquery.Selection, names ...string) int {
	for _, name := range names {
		if v, ok := s.Attr(name); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// resolveImageURL は、相対パスやスキーム相対URLをページURL基準の絶対URLへ解決します。
func resolveImageURL(base *url.URL, src string) string {
	ref, err := url.Parse(src)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
