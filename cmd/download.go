package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shouni/go-news-digest/pkg/download"
	"github.com/shouni/go-news-digest/pkg/types"
)

// downloadFlags は、download サブコマンド固有のフラグを保持します。
var downloadFlags struct {
	input       string
	output      string
	concurrency int
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "収集済みJSONの画像候補をローカルファイルへ一括ダウンロードします",
	Long: `collect が出力したJSON（エンベロープ形式またはEntry配列）を読み込み、
全エントリの画像候補を決定的なファイル名でダウンロードします。
既に存在するファイルは再取得されないため、繰り返し実行は冪等です。`,
	Args: cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := readEntries(downloadFlags.input)
		if err != nil {
			return err
		}
		fmt.Printf("読み込み: %d 件のエントリ\n", len(entries))

		ctx, cancel := context.WithTimeout(context.Background(), overallTimeout())
		defer cancel()

		downloader := download.New(nil, downloadFlags.output, downloadFlags.concurrency)
		results := downloader.DownloadAll(ctx, entries)

		var success, skipped, failed int
		for i, r := range results {
			switch {
			case r.Failed():
				failed++
				fmt.Printf("✗ [%d] %s\n     エラー: %v\n", i+1, r.URL, r.Err)
			case r.Skipped:
				skipped++
				fmt.Printf("- [%d] %s (既存: %s)\n", i+1, r.URL, r.LocalPath)
			default:
				success++
				fmt.Printf("✓ [%d] %s -> %s\n", i+1, r.URL, r.LocalPath)
			}
		}
		fmt.Printf("ダウンロード完了: 成功 %d, 既存スキップ %d, 失敗 %d\n", success, skipped, failed)

		// バッチ自体は完走するが、失敗があれば終了コードで通知する
		if failed > 0 {
			return fmt.Errorf("%d 件の画像のダウンロードに失敗しました", failed)
		}
		return nil
	},
}

// readEntries は、collect の出力JSONからエントリ列を読み込みます。
// エンベロープ形式 ({"entries": [...]}) と素の配列の両方を受け付けます。
func readEntries(path string) ([]types.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("入力ファイルの読み込み失敗 (%s): %w", path, err)
	}

	// entries キーの有無で判定する。空の配列を持つエンベロープも有効な空バッチとして扱う
	var doc struct {
		Entries *[]types.Entry `json:"entries"`
	}
	if err := json.Unmarshal(data, &doc); err == nil && doc.Entries != nil {
		return *doc.Entries, nil
	}

	var entries []types.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("入力JSONを解釈できません (%s): %w", path, err)
	}
	return entries, nil
}

func init() {
	f := downloadCmd.Flags()
	f.StringVarP(&downloadFlags.input, "input", "i", "", "入力JSONファイルパス (collect の出力)")
	f.StringVarP(&downloadFlags.output, "output", "o", "./images", "画像の保存先ディレクトリ")
	f.IntVar(&downloadFlags.concurrency, "concurrency", download.DefaultConcurrency, "最大同時ダウンロード数")

	downloadCmd.MarkFlagRequired("input")
}
