package source_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shouni/go-news-digest/pkg/source"
	"github.com/shouni/go-news-digest/pkg/types"
)

const testListingHTML = `<html><body>
<nav><a href="/login">登录</a> <a href="/about">关于我们与广告合作招聘信息汇总</a></nav>
<div class="feed">
  <a href="https://site.example.com/p/1">OpenAI发布全新大模型性能大幅提升</a>
  <a href="/p/2">国内人工智能初创公司完成新一轮融资</a>
  <a href="/p/2">国内人工智能初创公司完成新一轮融资</a>
  <a href="/p/3">AI快讯</a>
  <a href="/p/4">今日体育赛事回顾与明日赛程预告</a>
  <a href="/p/5">深度学习框架迎来重要版本更新发布</a>
</div>
</body></html>`

func TestListingFetch(t *testing.T) {
	ctx := context.Background()
	pageURL := "https://site.example.com/tech/"

	t.Run("collects_keyword_matching_articles_in_document_order", func(t *testing.T) {
		adapter, err := source.NewListingAdapter(fixedFetcher(testListingHTML, nil))
		assert.NoError(t, err)

		entries, err := adapter.Fetch(ctx, source.Config{URL: pageURL, Name: "科技站", Limit: 10})
		assert.NoError(t, err)
		// ナビゲーション・短すぎるタイトル・キーワード非該当・重複は落ちる
		assert.Len(t, entries, 3)

		first := entries[0]
		assert.Equal(t, types.SourceListing, first.Source)
		assert.Equal(t, "OpenAI发布全新大模型性能大幅提升", first.Title)
		assert.Equal(t, "https://site.example.com/p/1", first.URL)
		assert.Equal(t, "科技站", first.Extra["source_name"])
		// リスティングページは公開日時を提供しない
		assert.Nil(t, first.PublishedAt)

		// 相対リンクはページURL基準で解決される
		assert.Equal(t, "https://site.example.com/p/2", entries[1].URL)
		assert.Equal(t, "https://site.example.com/p/5", entries[2].URL)
	})

	t.Run("custom_keywords_override_defaults", func(t *testing.T) {
		adapter, _ := source.NewListingAdapter(fixedFetcher(testListingHTML, nil))

		entries, err := adapter.Fetch(ctx, source.Config{
			URL:      pageURL,
			Keywords: []string{"体育"},
			Limit:    10,
		})
		assert.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Equal(t, "今日体育赛事回顾与明日赛程预告", entries[0].Title)
	})

	t.Run("respects_limit", func(t *testing.T) {
		adapter, _ := source.NewListingAdapter(fixedFetcher(testListingHTML, nil))

		entries, err := adapter.Fetch(ctx, source.Config{URL: pageURL, Limit: 2})
		assert.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("missing_url_is_config_error", func(t *testing.T) {
		adapter, _ := source.NewListingAdapter(fixedFetcher(testListingHTML, nil))

		_, err := adapter.Fetch(ctx, source.Config{})
		assert.Error(t, err)
	})

	t.Run("fetch_error_is_returned", func(t *testing.T) {
		adapter, _ := source.NewListingAdapter(fixedFetcher("", errors.New("HTTPエラー: 503")))

		_, err := adapter.Fetch(ctx, source.Config{URL: pageURL})
		assert.Error(t, err)
	})

	t.Run("error_with_nil_fetcher", func(t *testing.T) {
		adapter, err := source.NewListingAdapter(nil)
		assert.Error(t, err)
		assert.Nil(t, adapter)
	})
}
