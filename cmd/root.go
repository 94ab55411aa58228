package cmd

import (
	"log"
	"time"

	clibase "github.com/shouni/go-cli-base"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/spf13/cobra"
)

// --- グローバル定数 ---

const (
	appName           = "news-digest"
	defaultTimeoutSec = 10 // 秒
	// defaultMaxRetries は 0 です。収集パイプラインは自動リトライを行いません
	// （1リクエスト1タイムアウトで失敗単位を閉じ込める設計）。
	defaultMaxRetries = 0

	// DefaultOverallTimeout は、タイムアウト未指定時のパイプライン全体の上限時間です。
	DefaultOverallTimeout = 120 * time.Second

	// overallTimeoutFactor は、クライアントタイムアウトから全体タイムアウトを
	// 導出する係数です。収集は多数のリクエストを束ねるため余裕を持たせます。
	overallTimeoutFactor = 12
)

// --- グローバル変数とフラグ構造体 ---

// AppFlags はこのアプリケーション固有の永続フラグを保持
type AppFlags struct {
	TimeoutSec int // --timeout タイムアウト
	MaxRetries int // --max-retries リトライ回数
}

var Flags AppFlags
var globalFetcher *httpkit.Client

// --- 初期化とロジック (clibaseへのコールバックとして利用) ---

// addAppPersistentFlags は、アプリケーション固有の永続フラグをルートコマンドに追加します。
func addAppPersistentFlags(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().IntVar(
		&Flags.TimeoutSec,
		"timeout",
		defaultTimeoutSec,
		"HTTPリクエストのタイムアウト時間（秒）",
	)
	rootCmd.PersistentFlags().IntVar(
		&Flags.MaxRetries,
		"max-retries",
		defaultMaxRetries,
		"HTTPリクエストのリトライ最大回数（既定では自動リトライなし）",
	)
}

// initAppPreRunE は、clibase共通処理の後に実行される、アプリケーション固有のPersistentPreRunEです。
// NOTE: clibaseの PersistentPreRunE チェーンにより、clibase.Flags.Verbose はこの関数実行前に設定済み
func initAppPreRunE(cmd *cobra.Command, args []string) error {
	timeout := time.Duration(Flags.TimeoutSec) * time.Second

	if clibase.Flags.Verbose {
		log.Printf("HTTPクライアントのタイムアウトを設定しました (Timeout: %s)。", timeout)
		log.Printf("HTTPクライアントのリトライ回数を設定しました (MaxRetries: %d)。", Flags.MaxRetries)
	}

	// 共有フェッチャーの初期化
	globalFetcher = httpkit.New(
		timeout,
		httpkit.WithMaxRetries(uint64(Flags.MaxRetries)),
	)

	return nil
}

// GetGlobalFetcher は、初期化された共有フェッチャーを返す関数 (DIの代わり)
func GetGlobalFetcher() *httpkit.Client {
	return globalFetcher
}

// overallTimeout は、パイプライン全体のタイムアウトをクライアント設定から導出します。
func overallTimeout() time.Duration {
	if Flags.TimeoutSec <= 0 {
		return DefaultOverallTimeout
	}
	return time.Duration(Flags.TimeoutSec) * overallTimeoutFactor * time.Second
}

// --- エントリポイント ---

// Execute は、clibase経由でアプリケーションの初期化とサブコマンドの登録を一括で行います。
func Execute() {
	clibase.Execute(
		appName,
		addAppPersistentFlags,
		initAppPreRunE,
		collectCmd,
		downloadCmd,
	)
}
