// Package backend は外部生成AIサービス（テキスト・画像・音声）との通信を担うのだ。
// 認証方式やペイロードの差異はこのパッケージの中に閉じ込めて、
// 呼び出し側には能力ごとのひとつの契約だけを見せるのだよ。
package backend

import (
	"context"
	"net/http"

	"github.com/shouni/go-novel-kit/pkg/domain"
)

// Doer はHTTPリクエストを実行する最小のインターフェースです。
// 本番では go-http-kit のクライアントを、テストではスタブを渡します。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TextGenerator はテキスト生成バックエンドへの契約です。
type TextGenerator interface {
	// GenerateText はプロンプトから本文を生成します。
	// 失敗時は UpstreamError / UpstreamTimeout を返します。
	GenerateText(ctx context.Context, prompt, model string, maxTokens int) (string, error)
}

// ImageRequest は画像生成1回分の指示です。
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Width          int
	Height         int
	Steps          int
	Guidance       float64
}

// ImageGenerator は画像生成バックエンドへの契約です。
// 同期応答と、ジョブ投入＋ポーリングの非同期応答の両方を実装側が吸収します。
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*domain.Artifact, error)
}

// SpeechSynthesizer は音声合成バックエンドへの契約です。
// 長文の分割と分割音声の結合は実装側の責務です。
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*domain.Artifact, error)
}
