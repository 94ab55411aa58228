package download_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shouni/go-news-digest/pkg/download"
	"github.com/shouni/go-news-digest/pkg/types"
)

// fakeResponse は、1URL分の応答定義です。
type fakeResponse struct {
	status      int
	contentType string
	body        []byte
}

// fakeDoer は、URLごとに固定応答を返す download.Doer 実装です。
// 呼び出し回数を記録し、冪等性の検証に使います。
type fakeDoer struct {
	mu        sync.Mutex
	calls     int
	responses map[string]fakeResponse
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	r, ok := f.responses[req.URL.String()]
	if !ok {
		r = fakeResponse{status: http.StatusNotFound, body: []byte("not found")}
	}
	header := make(http.Header)
	if r.contentType != "" {
		header.Set("Content-Type", r.contentType)
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(r.body)),
	}, nil
}

func (f *fakeDoer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func imageEntry(src types.Source, id string, urls ...string) types.Entry {
	refs := make([]types.ImageReference, 0, len(urls))
	for _, u := range urls {
		refs = append(refs, types.ImageReference{URL: u, Kind: types.KindOGImage})
	}
	return types.Entry{ID: id, Source: src, Title: id, Images: refs}
}

func TestDownloadAll(t *testing.T) {
	ctx := context.Background()
	pngBody := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

	t.Run("writes_files_and_records_local_paths", func(t *testing.T) {
		dir := t.TempDir()
		doer := &fakeDoer{responses: map[string]fakeResponse{
			"https://example.com/a.png": {status: 200, contentType: "image/png", body: pngBody},
			"https://example.com/b.jpg": {status: 200, contentType: "image/jpeg", body: []byte("jpegdata")},
		}}
		d := download.New(doer, dir, 2)

		entries := []types.Entry{
			imageEntry(types.SourceHackerNews, "e1", "https://example.com/a.png"),
			imageEntry(types.SourceArxiv, "e2", "https://example.com/b.jpg"),
		}
		results := d.DownloadAll(ctx, entries)

		assert.Len(t, results, 2)
		// 結果は入力の画像順と一対一に対応する
		assert.Equal(t, "e1", results[0].EntryID)
		assert.Equal(t, "e2", results[1].EntryID)

		for i, r := range results {
			assert.False(t, r.Failed(), "result %d: %v", i, r.Err)
			assert.False(t, r.Skipped)
			assert.NotEmpty(t, r.LocalPath)

			data, err := os.ReadFile(r.LocalPath)
			assert.NoError(t, err)
			assert.NotEmpty(t, data)
		}

		// LocalPath はエントリ側にも書き戻される
		assert.Equal(t, results[0].LocalPath, entries[0].Images[0].LocalPath)
		assert.Equal(t, results[1].LocalPath, entries[1].Images[0].LocalPath)

		// ソース・分類タグ・Entry ID・画像順からなる決定的なファイル名
		stem1 := download.FilenameStem(types.SourceHackerNews, types.KindOGImage, "e1", 1)
		stem2 := download.FilenameStem(types.SourceArxiv, types.KindOGImage, "e2", 1)
		assert.Equal(t, stem1+".png", filepath.Base(results[0].LocalPath))
		assert.Equal(t, stem2+".jpg", filepath.Base(results[1].LocalPath))
	})

	t.Run("http_failure_isolates_to_one_image", func(t *testing.T) {
		dir := t.TempDir()
		doer := &fakeDoer{responses: map[string]fakeResponse{
			"https://example.com/ok.png": {status: 200, contentType: "image/png", body: pngBody},
			// missing.png は未登録のため 404 になる
		}}
		d := download.New(doer, dir, 2)

		entries := []types.Entry{
			imageEntry(types.SourceFeed, "e1", "https://example.com/ok.png", "https://example.com/missing.png"),
		}
		results := d.DownloadAll(ctx, entries)

		assert.Len(t, results, 2)
		assert.False(t, results[0].Failed())
		assert.True(t, results[1].Failed())
		assert.Empty(t, results[1].LocalPath)
		assert.Empty(t, entries[0].Images[1].LocalPath)
	})

	t.Run("second_run_reuses_existing_files", func(t *testing.T) {
		dir := t.TempDir()
		doer := &fakeDoer{responses: map[string]fakeResponse{
			"https://example.com/a.png": {status: 200, contentType: "image/png", body: pngBody},
		}}
		d := download.New(doer, dir, 1)

		entries := []types.Entry{imageEntry(types.SourceCustom, "e1", "https://example.com/a.png")}

		first := d.DownloadAll(ctx, entries)
		assert.False(t, first[0].Failed())
		assert.False(t, first[0].Skipped)
		callsAfterFirst := doer.callCount()

		second := d.DownloadAll(ctx, entries)
		assert.False(t, second[0].Failed())
		assert.True(t, second[0].Skipped)
		assert.Equal(t, first[0].LocalPath, second[0].LocalPath)
		// 既存ファイルの再取得は行われない
		assert.Equal(t, callsAfterFirst, doer.callCount())
	})

	t.Run("extension_falls_back_to_content_type_then_default", func(t *testing.T) {
		dir := t.TempDir()
		doer := &fakeDoer{responses: map[string]fakeResponse{
			"https://example.com/image?id=1": {status: 200, contentType: "image/png", body: pngBody},
			"https://example.com/image?id=2": {status: 200, body: []byte("rawimage")},
		}}
		d := download.New(doer, dir, 1)

		entries := []types.Entry{
			imageEntry(types.SourceFeed, "e1",
				"https://example.com/image?id=1",
				"https://example.com/image?id=2",
			),
		}
		results := d.DownloadAll(ctx, entries)

		assert.False(t, results[0].Failed())
		assert.Equal(t, ".png", filepath.Ext(results[0].LocalPath))

		assert.False(t, results[1].Failed())
		assert.Equal(t, download.DefaultExtension, filepath.Ext(results[1].LocalPath))
	})

	t.Run("non_image_content_type_is_a_failure", func(t *testing.T) {
		dir := t.TempDir()
		doer := &fakeDoer{responses: map[string]fakeResponse{
			"https://example.com/page": {status: 200, contentType: "text/html", body: []byte("<html></html>")},
		}}
		d := download.New(doer, dir, 1)

		entries := []types.Entry{imageEntry(types.SourceHackerNews, "e1", "https://example.com/page")}
		results := d.DownloadAll(ctx, entries)

		assert.True(t, results[0].Failed())
	})

	t.Run("empty_body_is_a_failure", func(t *testing.T) {
		dir := t.TempDir()
		doer := &fakeDoer{responses: map[string]fakeResponse{
			"https://example.com/empty.png": {status: 200, contentType: "image/png", body: nil},
		}}
		d := download.New(doer, dir, 1)

		entries := []types.Entry{imageEntry(types.SourceHackerNews, "e1", "https://example.com/empty.png")}
		results := d.DownloadAll(ctx, entries)

		assert.True(t, results[0].Failed())
	})

	t.Run("changed_entry_at_same_position_is_fetched_fresh", func(t *testing.T) {
		dir := t.TempDir()
		doer := &fakeDoer{responses: map[string]fakeResponse{
			"https://example.com/old.png": {status: 200, contentType: "image/png", body: []byte("OLD-IMAGE")},
			"https://example.com/new.png": {status: 200, contentType: "image/png", body: []byte("NEW-IMAGE")},
		}}
		d := download.New(doer, dir, 1)

		first := d.DownloadAll(ctx, []types.Entry{
			imageEntry(types.SourceHackerNews, "entry-x", "https://example.com/old.png"),
		})
		assert.False(t, first[0].Failed())
		assert.False(t, first[0].Skipped)

		// 別のエントリが同じ位置に来ても、前回のファイルを流用してはならない
		second := d.DownloadAll(ctx, []types.Entry{
			imageEntry(types.SourceHackerNews, "entry-y", "https://example.com/new.png"),
		})
		assert.False(t, second[0].Failed())
		assert.False(t, second[0].Skipped)
		assert.NotEqual(t, first[0].LocalPath, second[0].LocalPath)

		data, err := os.ReadFile(second[0].LocalPath)
		assert.NoError(t, err)
		assert.Equal(t, "NEW-IMAGE", string(data))

		// 変わらなかったエントリに対してのみ既存ファイルが再利用される
		third := d.DownloadAll(ctx, []types.Entry{
			imageEntry(types.SourceHackerNews, "entry-x", "https://example.com/old.png"),
		})
		assert.True(t, third[0].Skipped)
		assert.Equal(t, first[0].LocalPath, third[0].LocalPath)
	})

	t.Run("entries_without_images_yield_empty_report", func(t *testing.T) {
		d := download.New(&fakeDoer{}, t.TempDir(), 1)

		results := d.DownloadAll(ctx, []types.Entry{{ID: "e1", Title: "no images"}})
		assert.Empty(t, results)
	})
}

func TestFilenameStem(t *testing.T) {
	// 同じ入力は常に同じ語幹を生む
	a := download.FilenameStem(types.SourceArxiv, types.KindFigure, "paper-1", 2)
	b := download.FilenameStem(types.SourceArxiv, types.KindFigure, "paper-1", 2)
	assert.Equal(t, a, b)

	// Entry が異なれば語幹も異なる
	c := download.FilenameStem(types.SourceArxiv, types.KindFigure, "paper-2", 2)
	assert.NotEqual(t, a, c)
}
