package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shouni/go-news-digest/pkg/aggregate"
	"github.com/shouni/go-news-digest/pkg/download"
	"github.com/shouni/go-news-digest/pkg/images"
	"github.com/shouni/go-news-digest/pkg/source"
	"github.com/shouni/go-news-digest/pkg/types"
)

// collectFlags は、collect サブコマンド固有のフラグを保持します。
var collectFlags struct {
	hnLimit    int
	hnQuery    string
	noHN       bool
	arxivLimit int
	arxivQuery string
	noArxiv    bool
	targetDate string // YYYY-MM-DD (arXivの対象日フィルタ)

	feedURL   string
	feedLimit int

	customURL   string
	customName  string
	customLimit int

	listingSource string
	listingURL    string
	listingName   string
	listingLimit  int

	since string // YYYY-MM-DD (日付範囲フィルタの下限)
	until string // YYYY-MM-DD (日付範囲フィルタの上限)

	output         string
	downloadImages bool
	imageDir       string
	concurrency    int
}

const dateLayout = "2006-01-02"

// digestDocument は、シリアライズされる収集結果のエンベロープです。
type digestDocument struct {
	Date        string          `json:"date"`
	GeneratedAt string          `json:"generated_at"`
	Entries     []types.Entry   `json:"entries"`
	Stats       digestStats     `json:"stats"`
	Downloads   []downloadEntry `json:"downloads,omitempty"`
}

type digestStats struct {
	Total  int `json:"total"`
	News   int `json:"news"`
	Papers int `json:"papers"`
}

type downloadEntry struct {
	URL       string `json:"url"`
	LocalPath string `json:"local_path,omitempty"`
	Error     string `json:"error,omitempty"`
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "設定されたソース群からコンテンツを収集し、正規化済みのJSONを出力します",
	Long: `Hacker News・arXiv・RSS/Atomフィード・カスタムソース・HTMLリスティングを並列に取得し、
画像候補の抽出、日付フィルタ、件数制限、重複排除を適用した結果をJSONとして出力します。
--download-images を指定すると、画像候補をローカルファイルへ解決してから出力します。`,
	Args: cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 設定の検証（ここでの不備のみが実行前の致命的エラーになる）
		opts, sources, err := buildPipelineConfig()
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			return fmt.Errorf("有効なソースが一つも設定されていません")
		}

		ctx, cancel := context.WithTimeout(context.Background(), overallTimeout())
		defer cancel()

		// 2. 依存性の初期化
		fetcher := GetGlobalFetcher()
		if fetcher == nil {
			return fmt.Errorf("HTTPクライアントの取得に失敗しました")
		}
		extractor, err := images.NewExtractor(fetcher)
		if err != nil {
			return fmt.Errorf("Extractorの初期化エラー: %w", err)
		}

		// 3. 収集パイプラインの実行
		aggregator := aggregate.New(extractor, opts)
		entries := aggregator.Aggregate(ctx, sources)
		log.Printf("収集完了: %d 件 (%d ソース)", len(entries), len(sources))

		// 4. 画像ダウンロード（任意）
		var results []download.Result
		if collectFlags.downloadImages {
			downloader := download.New(nil, collectFlags.imageDir, collectFlags.concurrency)
			results = downloader.DownloadAll(ctx, entries)
			reportDownloads(results)
		}

		// 5. 結果のシリアライズ
		doc := buildDocument(entries, results)
		if err := writeDocument(doc, collectFlags.output); err != nil {
			return err
		}

		fmt.Printf("--- 収集結果 ---\n")
		fmt.Printf("合計: %d 件 (ニュース %d, 論文 %d)\n", doc.Stats.Total, doc.Stats.News, doc.Stats.Papers)
		return nil
	},
}

// buildPipelineConfig は、フラグからアダプター構成と集約オプションを構築します。
// ソースの並び順（HN → arXiv → フィード → カスタム → リスティング）が
// マージ時の優先順になります。
func buildPipelineConfig() (aggregate.Options, []aggregate.SourceConfig, error) {
	var opts aggregate.Options

	targetDate, err := parseDateFlag(collectFlags.targetDate)
	if err != nil {
		return opts, nil, fmt.Errorf("--date が不正です: %w", err)
	}
	opts.From, err = parseDateFlag(collectFlags.since)
	if err != nil {
		return opts, nil, fmt.Errorf("--since が不正です: %w", err)
	}
	until, err := parseDateFlag(collectFlags.until)
	if err != nil {
		return opts, nil, fmt.Errorf("--until が不正です: %w", err)
	}
	if until != nil {
		// 上限日はその日一杯を含める
		end := until.AddDate(0, 0, 1).Add(-time.Second)
		opts.To = &end
	}
	opts.ExtractConcurrency = collectFlags.concurrency

	fetcher := GetGlobalFetcher()
	var sources []aggregate.SourceConfig

	if !collectFlags.noHN {
		adapter, err := source.NewHackerNewsAdapter(fetcher)
		if err != nil {
			return opts, nil, err
		}
		sources = append(sources, aggregate.SourceConfig{
			Adapter: adapter,
			Config:  source.Config{Limit: collectFlags.hnLimit, Query: collectFlags.hnQuery},
		})
	}

	if !collectFlags.noArxiv {
		adapter, err := source.NewArxivAdapter(fetcher)
		if err != nil {
			return opts, nil, err
		}
		sources = append(sources, aggregate.SourceConfig{
			Adapter: adapter,
			Config: source.Config{
				Limit:      collectFlags.arxivLimit,
				Query:      collectFlags.arxivQuery,
				TargetDate: targetDate,
			},
		})
	}

	if collectFlags.feedURL != "" {
		feedURL, err := ensureScheme(collectFlags.feedURL)
		if err != nil {
			return opts, nil, fmt.Errorf("--feed-url が不正です: %w", err)
		}
		adapter, err := source.NewFeedAdapter(fetcher)
		if err != nil {
			return opts, nil, err
		}
		sources = append(sources, aggregate.SourceConfig{
			Adapter: adapter,
			Config:  source.Config{Limit: collectFlags.feedLimit, URL: feedURL},
		})
	}

	if collectFlags.customURL != "" {
		customURL, err := ensureScheme(collectFlags.customURL)
		if err != nil {
			return opts, nil, fmt.Errorf("--custom-url が不正です: %w", err)
		}
		adapter, err := source.NewCustomAdapter(fetcher)
		if err != nil {
			return opts, nil, err
		}
		sources = append(sources, aggregate.SourceConfig{
			Adapter: adapter,
			Config: source.Config{
				Limit: collectFlags.customLimit,
				URL:   customURL,
				Name:  collectFlags.customName,
			},
		})
	}

	listingURL := collectFlags.listingURL
	listingName := collectFlags.listingName
	if collectFlags.listingSource != "" {
		site, ok := source.PredefinedListings[collectFlags.listingSource]
		if !ok {
			return opts, nil, fmt.Errorf("--listing-source が不明です: %s", collectFlags.listingSource)
		}
		listingURL = site.URL
		if listingName == "" {
			listingName = site.Name
		}
	}
	if listingURL != "" {
		listingURL, err := ensureScheme(listingURL)
		if err != nil {
			return opts, nil, fmt.Errorf("--listing-url が不正です: %w", err)
		}
		adapter, err := source.NewListingAdapter(fetcher)
		if err != nil {
			return opts, nil, err
		}
		sources = append(sources, aggregate.SourceConfig{
			Adapter: adapter,
			Config: source.Config{
				Limit: collectFlags.listingLimit,
				URL:   listingURL,
				Name:  listingName,
			},
		})
	}

	return opts, sources, nil
}

// parseDateFlag は、YYYY-MM-DD 形式の日付フラグを解釈します。空文字は未指定を意味します。
func parseDateFlag(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// buildDocument は、収集結果を出力用のエンベロープへ詰め替えます。
func buildDocument(entries []types.Entry, results []download.Result) digestDocument {
	doc := digestDocument{
		Date:        time.Now().Format(dateLayout),
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		Entries:     entries,
		Stats:       digestStats{Total: len(entries)},
	}
	if collectFlags.targetDate != "" {
		doc.Date = collectFlags.targetDate
	}
	for _, e := range entries {
		if e.Source == types.SourceArxiv {
			doc.Stats.Papers++
		} else {
			doc.Stats.News++
		}
	}
	for _, r := range results {
		de := downloadEntry{URL: r.URL, LocalPath: r.LocalPath}
		if r.Err != nil {
			de.Error = r.Err.Error()
		}
		doc.Downloads = append(doc.Downloads, de)
	}
	return doc
}

// writeDocument は、エンベロープをJSONとしてファイルまたは標準出力へ書き出します。
func writeDocument(doc digestDocument, output string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("結果のシリアライズ失敗: %w", err)
	}
	if output == "" || output == "-" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("結果の書き込み失敗 (%s): %w", output, err)
	}
	log.Printf("収集結果を保存しました: %s", output)
	return nil
}

// reportDownloads は、画像ダウンロードの結果をログへ列挙します。
func reportDownloads(results []download.Result) {
	var success, skipped, failed int
	for _, r := range results {
		switch {
		case r.Failed():
			failed++
			log.Printf("✗ 画像のダウンロード失敗 (%s): %v", r.URL, r.Err)
		case r.Skipped:
			skipped++
		default:
			success++
		}
	}
	log.Printf("画像ダウンロード完了: 成功 %d, 既存スキップ %d, 失敗 %d", success, skipped, failed)
}

func init() {
	f := collectCmd.Flags()
	f.IntVar(&collectFlags.hnLimit, "hn-limit", source.DefaultHackerNewsLimit, "Hacker News の取得件数")
	f.StringVar(&collectFlags.hnQuery, "query", source.DefaultHackerNewsQuery, "Hacker News の検索キーワード")
	f.BoolVar(&collectFlags.noHN, "no-hacker-news", false, "Hacker News を取得しない")
	f.IntVar(&collectFlags.arxivLimit, "arxiv-limit", source.DefaultArxivLimit, "arXiv の取得件数")
	f.StringVar(&collectFlags.arxivQuery, "arxiv-query", source.DefaultArxivQuery, "arXiv の検索クエリ")
	f.BoolVar(&collectFlags.noArxiv, "no-arxiv", false, "arXiv を取得しない")
	f.StringVar(&collectFlags.targetDate, "date", "", "arXiv の対象日 (YYYY-MM-DD)")
	f.StringVar(&collectFlags.feedURL, "feed-url", "", "取得する RSS/Atom フィードの URL")
	f.IntVar(&collectFlags.feedLimit, "feed-limit", source.DefaultFeedLimit, "フィードの取得件数")
	f.StringVar(&collectFlags.customURL, "custom-url", "", "カスタムソースの URL (JSON API または RSS/Atom)")
	f.StringVar(&collectFlags.customName, "custom-name", "custom", "カスタムソースの表示名")
	f.IntVar(&collectFlags.customLimit, "custom-limit", source.DefaultCustomLimit, "カスタムソースの取得件数")
	f.StringVar(&collectFlags.listingSource, "listing-source", "", "事前定義されたリスティングソースのキー (36kr-ai など)")
	f.StringVar(&collectFlags.listingURL, "listing-url", "", "スクレイプする記事一覧ページの URL")
	f.StringVar(&collectFlags.listingName, "listing-name", "", "リスティングソースの表示名")
	f.IntVar(&collectFlags.listingLimit, "listing-limit", source.DefaultListingLimit, "リスティングソースの取得件数")
	f.StringVar(&collectFlags.since, "since", "", "公開日の下限 (YYYY-MM-DD)")
	f.StringVar(&collectFlags.until, "until", "", "公開日の上限 (YYYY-MM-DD)")
	f.StringVarP(&collectFlags.output, "output", "o", "-", "出力先 JSON ファイルパス ('-' で標準出力)")
	f.BoolVar(&collectFlags.downloadImages, "download-images", false, "画像候補をローカルへダウンロードする")
	f.StringVar(&collectFlags.imageDir, "image-dir", "./images", "画像の保存先ディレクトリ")
	f.IntVar(&collectFlags.concurrency, "concurrency", aggregate.DefaultExtractConcurrency, "抽出・ダウンロードの最大同時実行数")
}
