package backend

import (
	"context"
	"fmt"

	"github.com/shouni/go-ai-client/v2/pkg/ai/gemini"
)

// GeminiText は go-ai-client の Gemini クライアントを TextGenerator 契約に適合させるアダプターなのだ。
// リトライや認証はクライアント側が面倒を見てくれるので、ここは翻訳に徹するのだ。
type GeminiText struct {
	client gemini.GenerativeModel
}

// NewGeminiText は新しい GeminiText アダプターを生成して返すのだ。
func NewGeminiText(client gemini.GenerativeModel) *GeminiText {
	return &GeminiText{client: client}
}

// GenerateText はプロンプトをGeminiに投げて本文テキストを受け取るのだ。
// 出力トークン上限はクライアント設定側の責務なので maxTokens はここでは使わないのだ。
func (g *GeminiText) GenerateText(ctx context.Context, prompt, model string, _ int) (string, error) {
	resp, err := g.client.GenerateContent(ctx, prompt, model)
	if err != nil {
		return "", fmt.Errorf("geminiでの生成に失敗しました: %w", err)
	}
	if resp.Text == "" {
		return "", &UpstreamError{Backend: "gemini", Message: "応答テキストが空です"}
	}
	return resp.Text, nil
}
