package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shouni/go-novel-kit/pkg/domain"
)

const replicateName = "replicate"

// 画像生成の既定値なのだ。プロンプトの上限は画像バックエンドの受理限界に合わせてある。
const (
	MaxImagePromptRunes = 300
	defaultImageWidth   = 768
	defaultImageHeight  = 1024
	defaultImageSteps   = 30
	defaultGuidance     = 7.5
)

// ReplicateClient は predictions 形式の画像生成APIを叩くクライアントなのだ。
// 即時応答（同期）と、ジョブ投入後にステータスをポーリングする非同期の両方に対応するのだ。
type ReplicateClient struct {
	httpClient Doer
	baseURL    string
	token      string

	// PollInterval はジョブ状態を確認する間隔なのだ。
	PollInterval time.Duration
	// MaxWait はポーリング全体の待機上限。超えたら UpstreamTimeout で確定的に打ち切るのだ。
	MaxWait time.Duration
	// RetryDelay は投入リクエストのリトライ間隔。
	RetryDelay time.Duration
}

// NewReplicateClient は新しい ReplicateClient を生成して返すのだ。
func NewReplicateClient(httpClient Doer, baseURL, token string, pollInterval, maxWait time.Duration) *ReplicateClient {
	return &ReplicateClient{
		httpClient:   httpClient,
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		PollInterval: pollInterval,
		MaxWait:      maxWait,
	}
}

type predictionRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// GenerateImage はプロンプトから画像を生成し、成果物への参照を返すのだ。
// ジョブが即 succeeded で返ればそのまま、そうでなければ上限付きでポーリングするのだ。
func (c *ReplicateClient) GenerateImage(ctx context.Context, req ImageRequest) (*domain.Artifact, error) {
	if c.token == "" {
		return nil, &UpstreamError{Backend: replicateName, Message: "APIトークンが未設定です"}
	}

	input := map[string]any{
		"prompt":              TruncatePrompt(req.Prompt),
		"width":               orDefault(req.Width, defaultImageWidth),
		"height":              orDefault(req.Height, defaultImageHeight),
		"num_inference_steps": orDefault(req.Steps, defaultImageSteps),
		"guidance_scale":      orDefaultFloat(req.Guidance, defaultGuidance),
	}
	if req.NegativePrompt != "" {
		input["negative_prompt"] = req.NegativePrompt
	}

	body, err := json.Marshal(predictionRequest{Version: req.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("リクエストの組み立てに失敗しました: %w", err)
	}

	// 1. ジョブの投入（ここだけリトライ付き）
	var pred prediction
	op := func() error {
		p, err := c.doPrediction(ctx, http.MethodPost, c.baseURL+"/v1/predictions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		pred = *p
		return nil
	}
	if err := withRetry(ctx, c.RetryDelay, op); err != nil {
		return nil, err
	}

	// 2. 終端ステータスならここで確定
	if artifact, done, err := c.finalize(pred); done {
		if err != nil {
			return nil, err
		}
		c.hydrate(ctx, artifact)
		return artifact, nil
	}

	// 3. 非同期ジョブのポーリング。無限ループは許さないのだ。
	artifact, err := c.poll(ctx, pred)
	if err != nil {
		return nil, err
	}
	c.hydrate(ctx, artifact)
	return artifact, nil
}

// hydrate はURL参照の成果物から実データを取り込むのだ。出力URLには寿命があるので今やるのだ。
// 取得に失敗してもURL参照のまま返す。生成そのものは成功しているのだ。
func (c *ReplicateClient) hydrate(ctx context.Context, artifact *domain.Artifact) {
	if artifact == nil || artifact.URL == "" || len(artifact.Data) > 0 {
		return
	}
	data, mime, err := FetchArtifactData(ctx, c.httpClient, artifact.URL)
	if err != nil {
		slog.WarnContext(ctx, "生成画像のダウンロードに失敗したのだ。URL参照のまま続行するのだ", "url", artifact.URL, "error", err)
		return
	}
	artifact.Data = data
	if mime != "" {
		artifact.MimeType = mime
	}
}

// poll はジョブの状態を一定間隔で確認し、成功・失敗・待機上限のどれかに必ず決着させるのだ。
func (c *ReplicateClient) poll(ctx context.Context, pred prediction) (*domain.Artifact, error) {
	pollURL := pred.URLs.Get
	if pollURL == "" {
		pollURL = fmt.Sprintf("%s/v1/predictions/%s", c.baseURL, pred.ID)
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxWait := c.MaxWait
	if maxWait <= 0 {
		maxWait = 2 * time.Minute
	}

	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, &UpstreamTimeout{Backend: replicateName, Waited: maxWait}
			}
			p, err := c.doPrediction(ctx, http.MethodGet, pollURL, nil)
			if err != nil {
				// 認証エラーなど恒久的な失敗は待っても直らないので即座に打ち切るのだ
				var upErr *UpstreamError
				if errors.As(err, &upErr) && upErr.StatusCode >= 400 && !retryableStatus(upErr.StatusCode) {
					return nil, upErr
				}
				// それ以外の一時エラーは次の周回に任せる。上限が最終防衛線なのだ。
				continue
			}
			if artifact, done, err := c.finalize(*p); done {
				return artifact, err
			}
		}
	}
}

// finalize は終端ステータスの判定を行います。done=false はまだ処理中の意味です。
func (c *ReplicateClient) finalize(pred prediction) (*domain.Artifact, bool, error) {
	switch pred.Status {
	case "succeeded":
		url, err := firstOutputURL(pred.Output)
		if err != nil {
			return nil, true, &UpstreamError{Backend: replicateName, Message: truncateMessage(err.Error())}
		}
		return &domain.Artifact{Kind: domain.ArtifactImage, URL: url}, true, nil
	case "failed", "canceled":
		msg := pred.Error
		if msg == "" {
			msg = "ジョブが " + pred.Status + " で終了しました"
		}
		return nil, true, &UpstreamError{Backend: replicateName, Message: truncateMessage(msg)}
	default:
		return nil, false, nil
	}
}

// doPrediction はAPIを1回呼び、predictionとしてデコードして返します。
func (c *ReplicateClient) doPrediction(ctx context.Context, method, url string, body io.Reader) (*prediction, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Backend: replicateName, Message: truncateMessage(err.Error())}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &UpstreamError{Backend: replicateName, Message: truncateMessage(err.Error())}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upErr := &UpstreamError{
			Backend:    replicateName,
			StatusCode: resp.StatusCode,
			Message:    truncateMessage(string(payload)),
		}
		if retryableStatus(resp.StatusCode) {
			return nil, upErr
		}
		return nil, backoff.Permanent(upErr)
	}

	var pred prediction
	if err := json.Unmarshal(payload, &pred); err != nil {
		return nil, backoff.Permanent(&UpstreamError{Backend: replicateName, Message: truncateMessage(err.Error())})
	}
	return &pred, nil
}

// firstOutputURL は output フィールドから先頭の画像参照を取り出すのだ。
// バックエンドによって文字列単体と配列の両方の形があるのだ。
func firstOutputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("output フィールドがありません")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0] != "" {
		return list[0], nil
	}
	return "", fmt.Errorf("output から画像参照を取り出せません")
}

// TruncatePrompt は画像バックエンドの受理上限に合わせてプロンプトを切り詰めます。
func TruncatePrompt(prompt string) string {
	return TruncatePromptTo(prompt, MaxImagePromptRunes)
}

// TruncatePromptTo は指定ルーン数でプロンプトを切り詰めるのだ。
// 末尾にスタイル指定を足す側は、その分を差し引いた上限でこちらを使うのだ。
func TruncatePromptTo(prompt string, maxRunes int) string {
	runes := []rune(strings.TrimSpace(prompt))
	if maxRunes < 0 {
		maxRunes = 0
	}
	if len(runes) <= maxRunes {
		return string(runes)
	}
	return string(runes[:maxRunes])
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultFloat(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
