package aggregate

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shouni/go-news-digest/pkg/source"
	"github.com/shouni/go-news-digest/pkg/types"
)

// DefaultExtractConcurrency は、画像候補抽出の最大同時実行数の既定値です。
// 対象ホストへの負荷を抑えるため小さめに保ちます。
const DefaultExtractConcurrency = 4

// Extractor は、1エントリ分の画像候補を発見・フィルタする機能のインターフェースです。
type Extractor interface {
	Extract(ctx context.Context, entry *types.Entry) []types.ImageReference
}

// SourceConfig は、1ソース分のアダプターと取得設定の組です。
// sources スライス内の並び順が、マージ時のソース優先順になります。
type SourceConfig struct {
	Adapter source.Adapter
	Config  source.Config
}

// Options は、Aggregator の動作設定です。
type Options struct {
	// From / To は日付範囲フィルタです。nil の側は制約なしを意味します。
	// タイムスタンプを持たないエントリは範囲に関わらず常に保持されます。
	From *time.Time
	To   *time.Time
	// ExtractConcurrency は、画像候補抽出の最大同時実行数です。
	ExtractConcurrency int
}

// Aggregator は、設定されたソース群の取得・抽出・フィルタ・マージ・重複排除を駆動します。
type Aggregator struct {
	extractor Extractor
	opts      Options
}

// New は、新しい Aggregator を初期化します。
// extractor が nil の場合、画像候補の抽出段はスキップされます。
func New(extractor Extractor, opts Options) *Aggregator {
	if opts.ExtractConcurrency <= 0 {
		opts.ExtractConcurrency = DefaultExtractConcurrency
	}
	return &Aggregator{
		extractor: extractor,
		opts:      opts,
	}
}

// Aggregate は、ソース群を並列に取得し、順序付けされた重複のない Entry 列を返します。
// 1ソースの全面的な失敗はそのソースを空扱いにするだけで、他ソースへ影響しません。
// 空のソース設定は空の（有効な）結果を返します。
func (a *Aggregator) Aggregate(ctx context.Context, sources []SourceConfig) []types.Entry {
	if len(sources) == 0 {
		return []types.Entry{}
	}

	// 1. 各ソースを並列に取得する。マージはすべてのソースの完了を待つ
	//    （遅いソースが結果から黙って脱落しないためのバリア）。
	perSource := make([][]types.Entry, len(sources))
	var wg sync.WaitGroup
	for i, sc := range sources {
		wg.Add(1)
		go func(i int, sc SourceConfig) {
			defer wg.Done()
			entries, err := sc.Adapter.Fetch(ctx, sc.Config)
			if err != nil {
				log.Printf("ソース %s の取得に失敗、このソースを除外して続行します: %v", sc.Adapter.Source(), err)
				return
			}
			perSource[i] = entries
		}(i, sc)
	}
	wg.Wait()

	// 2. 生き残った全エントリへ画像候補の抽出を適用する。
	a.extractAll(ctx, perSource)

	// 3. 日付範囲フィルタと、ソースごとの件数上限を適用する。
	for i, entries := range perSource {
		entries = a.filterByDate(entries)
		if limit := sources[i].Config.Limit; limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		perSource[i] = entries
	}

	// 4. ソース設定順を優先度として、各ソース内の順序を保ったままマージし、
	//    ID の初出を残して重複を排除する。
	seen := make(map[string]struct{})
	merged := make([]types.Entry, 0)
	for _, entries := range perSource {
		for _, entry := range entries {
			if entry.URL == "" && entry.Title == "" {
				continue // 下流で参照不能なエントリはマージ前に捨てる
			}
			if _, ok := seen[entry.ID]; ok {
				continue
			}
			seen[entry.ID] = struct{}{}
			merged = append(merged, entry)
		}
	}

	return merged
}

// extractAll は、バッファ付きチャネルをセマフォとして使い、
// 上限付きの並列度で全エントリの画像候補抽出を実行します。
func (a *Aggregator) extractAll(ctx context.Context, perSource [][]types.Entry) {
	if a.extractor == nil {
		return
	}

	semaphore := make(chan struct{}, a.opts.ExtractConcurrency)
	var wg sync.WaitGroup

	for si := range perSource {
		for ei := range perSource[si] {
			wg.Add(1)
			semaphore <- struct{}{}
			go func(entry *types.Entry) {
				defer wg.Done()
				defer func() { <-semaphore }()
				entry.Images = a.extractor.Extract(ctx, entry)
			}(&perSource[si][ei])
		}
	}
	wg.Wait()
}

// filterByDate は、設定された日付範囲の外にあるエントリを除外します。
// PublishedAt を持たないエントリは常に範囲内として扱います。
func (a *Aggregator) filterByDate(entries []types.Entry) []types.Entry {
	if a.opts.From == nil && a.opts.To == nil {
		return entries
	}

	out := entries[:0]
	for _, entry := range entries {
		if entry.PublishedAt == nil {
			out = append(out, entry)
			continue
		}
		t := *entry.PublishedAt
		if a.opts.From != nil && t.Before(*a.opts.From) {
			continue
		}
		if a.opts.To != nil && t.After(*a.opts.To) {
			continue
		}
		out = append(out, entry)
	}
	return out
}
