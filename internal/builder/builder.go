package builder

import (
	"context"
	"fmt"

	"github.com/shouni/go-ai-client/v2/pkg/ai/gemini"
	"github.com/shouni/go-text-format/pkg/builder"
	"google.golang.org/genai"

	"github.com/shouni/go-novel-kit/internal/config"
	"github.com/shouni/go-novel-kit/internal/prompt"
	"github.com/shouni/go-novel-kit/pkg/artifactcache"
	"github.com/shouni/go-novel-kit/pkg/backend"
	"github.com/shouni/go-novel-kit/pkg/pipeline"
	"github.com/shouni/go-novel-kit/pkg/publisher"
	"github.com/shouni/go-novel-kit/pkg/session"
)

// InitializeAIClient は gemini クライアントを初期化します。
func InitializeAIClient(ctx context.Context, apiKey string) (gemini.GenerativeModel, error) {
	if apiKey == "" {
		// openrouter だけで動かす構成では Gemini クライアントは不要なのだ
		return nil, nil
	}
	clientConfig := gemini.Config{
		APIKey:      apiKey,
		Temperature: genai.Ptr(float32(config.DefaultTemperature)),
	}
	aiClient, err := gemini.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("AIクライアントの初期化に失敗しました: %w", err)
	}
	return aiClient, nil
}

// InitializeTextGenerator は設定されたプロバイダのテキスト生成クライアントを構築するのだ。
func InitializeTextGenerator(appCtx *AppContext) (backend.TextGenerator, error) {
	cfg := appCtx.Config
	switch cfg.TextProvider {
	case "gemini":
		if appCtx.aiClient == nil {
			return nil, fmt.Errorf("GEMINI_API_KEY が未設定です")
		}
		return backend.NewGeminiText(appCtx.aiClient), nil
	case "openrouter", "":
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY が未設定です")
		}
		return backend.NewOpenRouterClient(appCtx.restClient, cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey), nil
	default:
		return nil, fmt.Errorf("未対応のテキストプロバイダです: %s", cfg.TextProvider)
	}
}

// InitializeImageGenerator は画像生成クライアントを構築するのだ。
func InitializeImageGenerator(appCtx *AppContext) (backend.ImageGenerator, error) {
	cfg := appCtx.Config
	if cfg.ReplicateAPIToken == "" {
		return nil, fmt.Errorf("REPLICATE_API_TOKEN が未設定です")
	}
	return backend.NewReplicateClient(
		appCtx.restClient,
		cfg.ReplicateBaseURL,
		cfg.ReplicateAPIToken,
		config.DefaultPollInterval,
		config.DefaultPollMaxWait,
	), nil
}

// InitializeSynthesizer は音声合成クライアントを構築するのだ。
// リモートのAPIキーが無い構成でもローカル合成だけで動くようにしてあるのだ。
func InitializeSynthesizer(appCtx *AppContext) backend.SpeechSynthesizer {
	cfg := appCtx.Config
	local := &backend.LocalSynthesizer{}
	if cfg.SpeechAPIKey == "" {
		return local
	}
	return &backend.FallbackSynthesizer{
		Primary:  backend.NewElevenLabsClient(appCtx.restClient, cfg.SpeechBaseURL, cfg.SpeechAPIKey),
		Fallback: local,
	}
}

// BuildPipeline は全バックエンドを束ねた生成パイプラインを構築するのだ。
// 画像バックエンドの設定不足は、挿絵を飛ばす実行なら致命ではないのだ。
func BuildPipeline(appCtx *AppContext, cache *artifactcache.ArtifactCache) (*pipeline.Pipeline, error) {
	text, err := InitializeTextGenerator(appCtx)
	if err != nil {
		return nil, err
	}

	var image backend.ImageGenerator
	if !appCtx.Options.NoImages {
		image, err = InitializeImageGenerator(appCtx)
		if err != nil {
			return nil, err
		}
	}

	prompts, err := prompt.NewBuilder()
	if err != nil {
		return nil, fmt.Errorf("プロンプトテンプレートの初期化に失敗しました: %w", err)
	}
	if cache == nil {
		cache = artifactcache.New()
	}

	p := pipeline.New(text, image, InitializeSynthesizer(appCtx), prompts, cache)
	p.RateInterval = config.DefaultRateLimit
	p.GenerateImages = !appCtx.Options.NoImages
	if appCtx.Options.RunTimeout > 0 {
		p.RunTimeout = appCtx.Options.RunTimeout
	}
	if appCtx.Options.CharCount > 0 {
		p.CharacterCount = appCtx.Options.CharCount
	}
	return p, nil
}

// BuildSessionStore はセッションファイルの読み書き口を構築するのだ。
func BuildSessionStore(appCtx *AppContext) *session.Store {
	path := appCtx.Options.SessionFile
	if path == "" {
		path = config.DefaultSessionFile
	}
	return session.NewStore(appCtx.Reader, appCtx.Writer, path)
}

// BuildPublisher はMarkdown/HTML書き出しのパブリッシャーを構築するのだ。
func BuildPublisher(appCtx *AppContext) (*publisher.BookPublisher, error) {
	htmlCfg := builder.BuilderConfig{
		EnableHardWraps: true,
		Mode:            "webtoon",
	}
	appBuilder, err := builder.NewBuilder(htmlCfg)
	if err != nil {
		return nil, fmt.Errorf("アプリケーションビルダーの初期化に失敗しました: %w", err)
	}

	md2htmlRunner, err := appBuilder.BuildRunner()
	if err != nil {
		return nil, fmt.Errorf("MarkdownToHtmlRunnerの初期化に失敗しました: %w", err)
	}

	return publisher.NewBookPublisher(appCtx.Writer, md2htmlRunner), nil
}
