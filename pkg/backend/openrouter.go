package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const openrouterName = "openrouter"

// レスポンス本文の読み込み上限。異常な巨大応答でメモリを食い潰さないための境界なのだ。
const maxResponseBytes = 4 << 20

// OpenRouterClient は chat/completions 互換のテキスト生成APIを叩くクライアントなのだ。
type OpenRouterClient struct {
	httpClient Doer
	baseURL    string
	apiKey     string

	// Temperature は生成の揺らぎ。ゴーストライター用途なので高めが既定なのだ。
	Temperature float64
	// RetryDelay はリトライの間隔。テストから短縮できるように公開してある。
	RetryDelay time.Duration
}

// NewOpenRouterClient は新しい OpenRouterClient を生成して返すのだ。
func NewOpenRouterClient(httpClient Doer, baseURL, apiKey string) *OpenRouterClient {
	return &OpenRouterClient{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		Temperature: 0.95,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateText はプロンプトをモデルに投げて本文テキストを受け取るのだ。
// 一時的な失敗は withRetry が既定回数まで面倒を見るのだよ。
func (c *OpenRouterClient) GenerateText(ctx context.Context, prompt, model string, maxTokens int) (string, error) {
	if c.apiKey == "" {
		return "", &UpstreamError{Backend: openrouterName, Message: "APIキーが未設定です"}
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("リクエストの組み立てに失敗しました: %w", err)
	}

	var result string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Title", "go-novel-kit")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// ネットワーク断やタイムアウトは一時的な失敗としてリトライ対象なのだ
			return &UpstreamError{Backend: openrouterName, Message: truncateMessage(err.Error())}
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return &UpstreamError{Backend: openrouterName, Message: truncateMessage(err.Error())}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			upErr := &UpstreamError{
				Backend:    openrouterName,
				StatusCode: resp.StatusCode,
				Message:    truncateMessage(string(payload)),
			}
			if retryableStatus(resp.StatusCode) {
				return upErr
			}
			return backoff.Permanent(upErr)
		}

		var decoded chatResponse
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return backoff.Permanent(&UpstreamError{Backend: openrouterName, Message: truncateMessage(err.Error())})
		}
		if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
			msg := "期待したフィールド choices[0].message.content がありません"
			if decoded.Error != nil {
				msg = truncateMessage(decoded.Error.Message)
			}
			return backoff.Permanent(&UpstreamError{Backend: openrouterName, Message: msg})
		}

		result = strings.TrimSpace(decoded.Choices[0].Message.Content)
		return nil
	}

	if err := withRetry(ctx, c.RetryDelay, op); err != nil {
		return "", err
	}
	return result, nil
}
