package download

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shouni/go-news-digest/pkg/types"
)

// ----------------------------------------------------------------------
// 定数とインターフェース
// ----------------------------------------------------------------------

const (
	// DefaultConcurrency は、画像ダウンロードの最大同時実行数の既定値です。
	DefaultConcurrency = 4
	// DefaultTimeout は、1画像あたりのHTTPタイムアウトです。
	DefaultTimeout = 30 * time.Second
	// DefaultExtension は、拡張子を推測できない場合に使う汎用の画像拡張子です。
	DefaultExtension = ".jpg"
	// MaxImageBytes は、1画像あたりの最大サイズです。
	MaxImageBytes = int64(10 * 1024 * 1024) // 10MB

	// サイトからのブロックを避けるためのUser-Agent
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36"
)

// Doer は、標準の *http.Client.Do() と互換性のあるHTTPクライアントのインターフェースを定義します。
// ダウンローダーは拡張子推測のためレスポンスヘッダーを必要とするため、
// バイト配列のみを返す Fetcher ではなくこの抽象に依存します。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result は、1画像分のダウンロード結果です。
// DownloadAll の戻り値は入力の画像順と一対一に対応します。
type Result struct {
	EntryID   string `json:"entry_id"`
	URL       string `json:"url"`
	Kind      string `json:"kind"`
	LocalPath string `json:"local_path,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"` // 既存ファイルにより再取得を省略した
	Err       error  `json:"-"`
}

// Failed は、この画像のダウンロードが失敗したかどうかを返します。
func (r Result) Failed() bool {
	return r.Err != nil
}

// ----------------------------------------------------------------------
// Downloader
// ----------------------------------------------------------------------

// Downloader は、Entry 群の画像候補を並列にローカルファイルへ解決します。
type Downloader struct {
	client      Doer
	outputDir   string
	concurrency int
}

// New は、新しい Downloader を初期化します。
// client が nil の場合は DefaultTimeout 付きの標準クライアントを使用します。
func New(client Doer, outputDir string, concurrency int) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Downloader{
		client:      client,
		outputDir:   outputDir,
		concurrency: concurrency,
	}
}

// job は、1画像分のダウンロード単位です。ファイル名の鍵になるのは
// Entry ID とエントリ内の画像順であり、入力スライス内の位置には依存しません。
type job struct {
	resultIdx int
	imageSeq  int
	entryID   string
	source    types.Source
	ref       *types.ImageReference
}

// DownloadAll は、全エントリの全画像候補をダウンロードし、成功した画像の
// LocalPath を書き戻します。戻り値は入力順に安定した全画像分の結果報告です。
// 個々の失敗はその画像を失敗として記録するだけで、バッチ全体は中断しません。
func (d *Downloader) DownloadAll(ctx context.Context, entries []types.Entry) []Result {
	jobs := buildJobs(entries)
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		// 出力先を用意できなければ全件を失敗として報告する
		for i, j := range jobs {
			results[i] = Result{
				EntryID: j.entryID,
				URL:     j.ref.URL,
				Kind:    j.ref.Kind,
				Err:     fmt.Errorf("出力ディレクトリの作成失敗: %w", err),
			}
		}
		return results
	}

	semaphore := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup

	for _, j := range jobs {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(j job) {
			defer wg.Done()
			defer func() { <-semaphore }()
			results[j.resultIdx] = d.downloadOne(ctx, j)
		}(j)
	}
	wg.Wait()

	return results
}

// buildJobs は、入力エントリ列から入力順の安定したジョブ列を構成します。
func buildJobs(entries []types.Entry) []job {
	var jobs []job
	for ei := range entries {
		for ii := range entries[ei].Images {
			jobs = append(jobs, job{
				resultIdx: len(jobs),
				imageSeq:  ii + 1,
				entryID:   entries[ei].ID,
				source:    entries[ei].Source,
				ref:       &entries[ei].Images[ii],
			})
		}
	}
	return jobs
}

// downloadOne は、1画像をダウンロードしてローカルファイルへ書き込みます。
// 同じ決定的ファイル名の既存ファイルがあれば再取得せず充足済みとして扱います。
func (d *Downloader) downloadOne(ctx context.Context, j job) Result {
	result := Result{
		EntryID: j.entryID,
		URL:     j.ref.URL,
		Kind:    j.ref.Kind,
	}

	stem := FilenameStem(j.source, j.ref.Kind, j.entryID, j.imageSeq)
	if existing := findExisting(d.outputDir, stem); existing != "" {
		j.ref.LocalPath = existing
		result.LocalPath = existing
		result.Skipped = true
		return result
	}

	data, contentType, err := d.fetchImage(ctx, j.ref.URL)
	if err != nil {
		result.Err = err
		return result
	}

	filename := stem + inferExtension(j.ref.URL, contentType)
	localPath := filepath.Join(d.outputDir, filename)
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		result.Err = fmt.Errorf("画像ファイルの書き込み失敗: %w", err)
		return result
	}

	j.ref.LocalPath = localPath
	result.LocalPath = localPath
	return result
}

// fetchImage は、1画像分のHTTP GETを実行し、本文とContent-Typeを返します。
func (d *Downloader) fetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("リクエストの構築失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("画像の取得失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("画像の取得失敗: ステータスコード %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("画像ではないコンテンツです: %s", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("レスポンスの読み込み失敗: %w", err)
	}
	if int64(len(data)) > MaxImageBytes {
		return nil, "", fmt.Errorf("画像が大きすぎます (> %d bytes)", MaxImageBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("レスポンスボディが空です")
	}

	return data, contentType, nil
}

// ----------------------------------------------------------------------
// 決定的なファイル名
// ----------------------------------------------------------------------

// FilenameStem は、安定した入力（ソース・分類タグ・Entry ID・エントリ内の画像順）
// のみから拡張子を除いた決定的なファイル名を構成します。入力スライス内の位置は
// 使わないため、入力集合が実行間で部分的に変わっても、変わらなかったエントリの
// ファイルだけが再利用されます。
func FilenameStem(src types.Source, kind, entryID string, imageSeq int) string {
	return fmt.Sprintf("%s_%s_%s_%d", src, kind, entryKey(entryID), imageSeq)
}

// entryKey は、Entry ID からファイル名に収まる短い安定キーを導出します。
func entryKey(entryID string) string {
	h := sha1.Sum([]byte(entryID))
	return hex.EncodeToString(h[:4])
}

// findExisting は、同じ語幹を持つ既存ファイルのパスを返します。
// 拡張子は Content-Type に依存して変わりうるため、語幹単位で判定します。
func findExisting(dir, stem string) string {
	matches, err := filepath.Glob(filepath.Join(dir, stem+".*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

// inferExtension は、URLパスまたはContent-Typeから拡張子を推測します。
// どちらからも決定できない場合は DefaultExtension を返します。
func inferExtension(imageURL, contentType string) string {
	if u, err := url.Parse(imageURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return DefaultExtension
}
