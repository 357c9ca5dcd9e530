package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTextServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenRouterClient) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewOpenRouterClient(server.Client(), server.URL, "test-key")
	client.RetryDelay = 1 // リトライ待ちでテストを遅くしないのだ
	return server, client
}

func TestOpenRouterClient_GenerateText(t *testing.T) {
	t.Run("正常応答から本文を取り出せるのだ", func(t *testing.T) {
		_, client := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("認証ヘッダが違うのだ: %s", got)
			}
			w.Write([]byte(`{"choices":[{"message":{"content":"  生成された本文  "}}]}`))
		})

		got, err := client.GenerateText(context.Background(), "prompt", "test-model", 1800)
		if err != nil {
			t.Fatalf("エラーは不要なのだ: %v", err)
		}
		if got != "生成された本文" {
			t.Errorf("前後の空白が落ちていないのだ: %q", got)
		}
	})

	t.Run("一時失敗2回なら3回目で成功すること", func(t *testing.T) {
		var calls atomic.Int32
		_, client := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
		})

		if _, err := client.GenerateText(context.Background(), "p", "m", 100); err != nil {
			t.Fatalf("リトライで回復するはずなのだ: %v", err)
		}
		if calls.Load() != 3 {
			t.Errorf("呼び出し回数が違うのだ: %d", calls.Load())
		}
	})

	t.Run("4回連続失敗はリトライ上限でUpstreamErrorになること", func(t *testing.T) {
		var calls atomic.Int32
		_, client := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := client.GenerateText(context.Background(), "p", "m", 100)
		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("UpstreamErrorが欲しいのだ: %v", err)
		}
		if calls.Load() != 3 {
			t.Errorf("リトライは合計3回で打ち止めのはずなのだ: %d", calls.Load())
		}
	})

	t.Run("認証エラー(401)はリトライしないこと", func(t *testing.T) {
		var calls atomic.Int32
		_, client := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"invalid key"}}`))
		})

		_, err := client.GenerateText(context.Background(), "p", "m", 100)
		var upErr *UpstreamError
		if !errors.As(err, &upErr) || upErr.StatusCode != http.StatusUnauthorized {
			t.Fatalf("401のUpstreamErrorが欲しいのだ: %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("恒久エラーなのにリトライしてしまったのだ: %d", calls.Load())
		}
	})

	t.Run("期待フィールドの欠落はUpstreamErrorになること", func(t *testing.T) {
		_, client := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		})

		_, err := client.GenerateText(context.Background(), "p", "m", 100)
		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("UpstreamErrorが欲しいのだ: %v", err)
		}
	})

	t.Run("エラーメッセージが際限なく長くならないこと", func(t *testing.T) {
		_, client := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(strings.Repeat("x", 10000)))
		})

		_, err := client.GenerateText(context.Background(), "p", "m", 100)
		if err == nil {
			t.Fatal("エラーが欲しいのだ")
		}
		if len([]rune(err.Error())) > maxErrorMessageRunes+100 {
			t.Errorf("メッセージが切り詰められていないのだ: len=%d", len(err.Error()))
		}
	})

	t.Run("APIキー未設定なら呼び出し前に失敗すること", func(t *testing.T) {
		var calls atomic.Int32
		server, _ := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		})
		client := NewOpenRouterClient(server.Client(), server.URL, "")

		if _, err := client.GenerateText(context.Background(), "p", "m", 100); err == nil {
			t.Fatal("エラーが欲しいのだ")
		}
		if calls.Load() != 0 {
			t.Error("キー無しで外部呼び出しが走ってしまったのだ")
		}
	})
}
