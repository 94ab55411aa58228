package source_test

import (
	"context"
)

// MockFetcher はテスト用の source.Fetcher インターフェースの実装です。
// FetchBytesFunc にテストごとの応答を注入します。
type MockFetcher struct {
	FetchBytesFunc func(ctx context.Context, url string) ([]byte, error)
}

func (m *MockFetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return m.FetchBytesFunc(ctx, url)
}

// fixedFetcher は、呼び出しURLに関わらず同じボディを返すモックを作ります。
func fixedFetcher(body string, err error) *MockFetcher {
	return &MockFetcher{
		FetchBytesFunc: func(ctx context.Context, url string) ([]byte, error) {
			if err != nil {
				return nil, err
			}
			return []byte(body), nil
		},
	}
}
