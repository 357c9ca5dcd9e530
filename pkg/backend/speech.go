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
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shouni/go-novel-kit/pkg/domain"
)

const elevenlabsName = "elevenlabs"

// DefaultChunkRunes は1回のリクエストに載せる本文の上限なのだ。
// 長文を一発で投げると音声バックエンドに弾かれるのだ。
const DefaultChunkRunes = 1000

// ElevenLabsClient は text-to-speech 形式の音声合成APIを叩くクライアントなのだ。
// 長文はチャンクに分割してリクエストし、返ってきた音声を連結してひと続きにするのだ。
type ElevenLabsClient struct {
	httpClient Doer
	baseURL    string
	apiKey     string

	// ChunkRunes はチャンク分割の上限。0なら既定値を使うのだ。
	ChunkRunes int
	// RetryDelay はリトライの間隔。
	RetryDelay time.Duration
	// ModelID は使用する合成モデル。
	ModelID string
}

// NewElevenLabsClient は新しい ElevenLabsClient を生成して返すのだ。
func NewElevenLabsClient(httpClient Doer, baseURL, apiKey string) *ElevenLabsClient {
	return &ElevenLabsClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		ModelID:    "eleven_monolingual_v1",
	}
}

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize は本文をチャンクごとに合成し、連結した音声を返すのだ。
// MP3ストリームは単純連結でそのまま再生できるのだよ。
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text, voice string) (*domain.Artifact, error) {
	if c.apiKey == "" {
		return nil, &UpstreamError{Backend: elevenlabsName, Message: "APIキーが未設定です"}
	}

	maxRunes := c.ChunkRunes
	if maxRunes <= 0 {
		maxRunes = DefaultChunkRunes
	}
	chunks := SplitChunks(text, maxRunes)
	if len(chunks) == 0 {
		return nil, &UpstreamError{Backend: elevenlabsName, Message: "合成する本文が空です"}
	}

	var audio bytes.Buffer
	for i, chunk := range chunks {
		data, err := c.synthesizeChunk(ctx, chunk, voice)
		if err != nil {
			return nil, fmt.Errorf("チャンク %d/%d の合成に失敗しました: %w", i+1, len(chunks), err)
		}
		audio.Write(data)
	}

	return &domain.Artifact{
		Kind:     domain.ArtifactAudio,
		Data:     audio.Bytes(),
		MimeType: "audio/mpeg",
	}, nil
}

// synthesizeChunk は1チャンク分をリトライ付きで合成します。
func (c *ElevenLabsClient) synthesizeChunk(ctx context.Context, chunk, voice string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{Text: chunk, ModelID: c.ModelID})
	if err != nil {
		return nil, fmt.Errorf("リクエストの組み立てに失敗しました: %w", err)
	}

	endpoint := c.baseURL + "/v1/text-to-speech/" + url.PathEscape(voice)

	var data []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("xi-api-key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &UpstreamError{Backend: elevenlabsName, Message: truncateMessage(err.Error())}
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return &UpstreamError{Backend: elevenlabsName, Message: truncateMessage(err.Error())}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			upErr := &UpstreamError{
				Backend:    elevenlabsName,
				StatusCode: resp.StatusCode,
				Message:    truncateMessage(string(payload)),
			}
			if retryableStatus(resp.StatusCode) {
				return upErr
			}
			return backoff.Permanent(upErr)
		}

		if len(payload) == 0 {
			return backoff.Permanent(&UpstreamError{Backend: elevenlabsName, Message: "音声データが空です"})
		}
		data = payload
		return nil
	}

	if err := withRetry(ctx, c.RetryDelay, op); err != nil {
		return nil, err
	}
	return data, nil
}

// LocalSynthesizer はリモートが全滅したときの最後の砦なのだ。
// ローカルの espeak-ng でWAVを生成する、低品質だが確実に鳴るフォールバックなのだ。
type LocalSynthesizer struct {
	// Command は使用する合成コマンド。空なら espeak-ng を探すのだ。
	Command string
}

// Synthesize はローカルコマンドで本文をWAVに変換します。
// 声の指定はローカル合成では再現できないため無視します。
func (l *LocalSynthesizer) Synthesize(ctx context.Context, text, _ string) (*domain.Artifact, error) {
	command := l.Command
	if command == "" {
		command = "espeak-ng"
	}

	normalized := normalizeSpeechText(text)
	if normalized == "" {
		return nil, errors.New("合成する本文が空です")
	}

	cmd := exec.CommandContext(ctx, command, "--stdout", normalized)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ローカル音声合成 (%s) に失敗しました: %w", command, err)
	}

	return &domain.Artifact{
		Kind:     domain.ArtifactAudio,
		Data:     out.Bytes(),
		MimeType: "audio/wav",
	}, nil
}

// FallbackSynthesizer はプライマリの失敗時に代替実装へ切り替えるストラテジーなのだ。
// 代替は品質面の保証がない「とりあえず鳴る」実装である点に注意なのだ。
type FallbackSynthesizer struct {
	Primary  SpeechSynthesizer
	Fallback SpeechSynthesizer
}

// Synthesize はまずプライマリを試し、リトライ尽きで失敗したらフォールバックに委ねるのだ。
func (f *FallbackSynthesizer) Synthesize(ctx context.Context, text, voice string) (*domain.Artifact, error) {
	artifact, err := f.Primary.Synthesize(ctx, text, voice)
	if err == nil {
		return artifact, nil
	}
	if f.Fallback == nil {
		return nil, err
	}

	slog.Warn("プライマリの音声合成が失敗したのでフォールバックに切り替えるのだ", "error", err)

	artifact, fbErr := f.Fallback.Synthesize(ctx, text, voice)
	if fbErr != nil {
		return nil, errors.Join(err, fbErr)
	}
	return artifact, nil
}
