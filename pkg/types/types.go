package types

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// Source は、Entry の取得元を表すタグです。
type Source string

const (
	// SourceHackerNews は、Hacker News (Algolia Search API) を表します。
	SourceHackerNews Source = "hacker_news"
	// SourceArxiv は、arXiv の論文リスティング API を表します。
	SourceArxiv Source = "arxiv"
	// SourceFeed は、任意の RSS/Atom フィードを表します。
	SourceFeed Source = "feed"
	// SourceListing は、記事一覧を並べた HTML ページをスクレイプするソースを表します。
	SourceListing Source = "listing"
	// SourceCustom は、形式自動判定の自由形式ソースを表します。
	SourceCustom Source = "custom"
)

// 画像候補の分類タグ。ファイル名生成と下流のキャプション付けに使用されます。
const (
	KindOGImage   = "og-image"  // リンク先ページの og:image メタタグ
	KindFigure    = "figure"    // 論文ページ内の図版
	KindEnclosure = "enclosure" // フィードの enclosure 画像
	KindThumbnail = "thumbnail" // JSON API のサムネイルフィールド
)

// ImageReference は、Entry に紐づく1枚の画像候補を表します。
// LocalPath はダウンロード成功後にのみ設定されます。
type ImageReference struct {
	URL       string `json:"url"`
	Kind      string `json:"kind"`
	LocalPath string `json:"local_path,omitempty"`
}

// Entry は、ソースアダプターが生成する正規化済みコンテンツの単位です。
// アダプターが生成した後は不変として扱い、後段（抽出・ダウンロード）は
// Images のフィルタリングと LocalPath の付与のみを行います。
type Entry struct {
	ID          string           `json:"id"`
	Source      Source           `json:"source"`
	Title       string           `json:"title"`
	Summary     string           `json:"summary,omitempty"`
	URL         string           `json:"url"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
	Images      []ImageReference `json:"image_candidates,omitempty"`
	Extra       map[string]any   `json:"extra,omitempty"`
}

// EntryID は、Entry の安定識別子を導出します。
// 正規URLがあればそのSHA-1ハッシュを用いることで、複数ソースから同一URLが
// 観測された場合に重複排除段で衝突するようにします。URLがない場合は
// ソース名とソース固有IDの組にフォールバックします。
func EntryID(source Source, nativeID, canonicalURL string) string {
	if canonicalURL != "" {
		h := sha1.Sum([]byte(canonicalURL))
		return hex.EncodeToString(h[:])
	}
	return string(source) + ":" + nativeID
}
