package source

import (
	"context"
	"time"

	"github.com/shouni/go-news-digest/pkg/types"
)

// ----------------------------------------------------------------------
// 依存性の定義 (DIP)
// ----------------------------------------------------------------------

// Fetcher は、URLからコンテンツの生バイト配列を取得する機能のインターフェースを定義します。
// 各アダプターは httpkit.Client の具象型ではなく、この抽象に依存します。
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// ----------------------------------------------------------------------
// アダプターのコントラクト
// ----------------------------------------------------------------------

// Config は、1ソース分の取得パラメータを保持します。
// 各フィールドの解釈はアダプターに委ねられます。
type Config struct {
	// Limit は取得する Entry 数の上限です。0以下の場合はアダプターの既定値が使われます。
	Limit int
	// Query は検索キーワードです（Hacker News / arXiv で使用）。
	Query string
	// URL は取得先のフィード/API の URL です（フィード / カスタムソースで使用）。
	URL string
	// Name は出力に記録するソース表示名です（カスタムソースで使用）。
	Name string
	// TargetDate が設定された場合、日付セマンティクスを持つソースは
	// この日に公開された項目のみを返します（arXiv で使用）。
	TargetDate *time.Time
	// Keywords は採用条件となるトピックキーワードです（リスティングソースで使用）。
	// 空の場合はアダプターの既定キーワードが使われます。
	Keywords []string
}

// Adapter は、1つのデータソースを正規化済みの Entry 列へ変換するコントラクトです。
// 個々の不正な項目はスキップされ、ソース全体の失敗のみがエラーとして返されます。
type Adapter interface {
	// Source は、このアダプターが生成する Entry の Source タグを返します。
	Source() types.Source
	// Fetch は、設定に従ってソースを取得し、0件以上の Entry を返します。
	Fetch(ctx context.Context, cfg Config) ([]types.Entry, error)
}
