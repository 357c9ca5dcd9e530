// Package pipeline はCLIコマンドと生成パイプラインをつなぐ実行単位を提供するのだ。
// セッションの読み書きと AppContext の組み立てをここで面倒見て、
// コマンド側は Execute 系関数を1つ呼ぶだけで済むようにしてあるのだ。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shouni/go-novel-kit/internal/builder"
	"github.com/shouni/go-novel-kit/internal/config"
	"github.com/shouni/go-novel-kit/internal/runner"
	"github.com/shouni/go-novel-kit/pkg/artifactcache"
	"github.com/shouni/go-novel-kit/pkg/domain"
	bookpipe "github.com/shouni/go-novel-kit/pkg/pipeline"
	"github.com/shouni/go-novel-kit/pkg/publisher"
	"github.com/shouni/go-novel-kit/pkg/session"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/gcsfactory"
	"github.com/shouni/go-web-exact/v2/pkg/extract"
)

// SectionOp は単一セクション操作の種別なのだ。
type SectionOp string

const (
	OpRegenerate SectionOp = "regenerate" // 置き換え
	OpContinue   SectionOp = "continue"   // 追記
	OpRewrite    SectionOp = "rewrite"    // 指示つき書き直し
)

// Execute は、前提の解決から書籍のフル生成、セッション保存、パブリッシュまでを一気に行うのだ。
func Execute(ctx context.Context, cfg *config.Config) error {
	appCtx, err := setupAppContext(ctx, cfg)
	if err != nil {
		return err
	}

	store := builder.BuildSessionStore(appCtx)

	// 1. 再開指定なら保存済みセッションから状態とキャッシュを復元するのだ
	var state *domain.BookState
	var cache *artifactcache.ArtifactCache
	if cfg.Options.Resume {
		state, cache, err = store.Load(ctx)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			return err
		}
		if err != nil {
			slog.Info("保存済みセッションが無いので新規に開始するのだ", "path", store.Path())
		}
	}

	// 2. 前提テキストを解決するのだ（フラグ → URL → ファイル → 標準入力）
	extractor, err := extract.NewExtractor(appCtx.HTTPClient())
	if err != nil {
		return fmt.Errorf("本文抽出器の初期化に失敗したのだ: %w", err)
	}
	premise, err := runner.NewBookPremiseRunner(cfg.Options, extractor, appCtx.Reader).Run(ctx)
	if err != nil {
		return err
	}

	// 3. パイプラインを構築して実行するのだ
	p, err := builder.BuildPipeline(appCtx, cache)
	if err != nil {
		return err
	}
	p.Progress = logProgress

	// 再開でなければ新規生成。持ち越しの成果物を断ってから走らせるのだ
	if !cfg.Options.Resume {
		p.Reset(state)
	}

	bookCfg := appCtx.BookConfigFromOptions(premise)
	state, runErr := p.Run(ctx, bookCfg, state)

	// 4. 失敗していても、ここまでの進捗は保存しておくのだ。次回 --resume で続きから走れるのだ
	if state != nil {
		if saveErr := store.Save(ctx, state, p.Cache()); saveErr != nil {
			slog.WarnContext(ctx, "セッションの保存に失敗したのだ", "error", saveErr)
		}
	}
	if runErr != nil {
		return fmt.Errorf("書籍生成パイプラインが失敗したのだ: %w", runErr)
	}

	// 5. 完成品を書き出すのだ
	return publish(ctx, appCtx, state, p.Cache())
}

// ExecuteSection は保存済みセッションの1セクションを操作して保存し直すのだ。
func ExecuteSection(ctx context.Context, cfg *config.Config, op SectionOp) error {
	appCtx, err := setupAppContext(ctx, cfg)
	if err != nil {
		return err
	}
	store := builder.BuildSessionStore(appCtx)
	state, cache, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("操作対象のセッションを読み込めないのだ: %w", err)
	}

	p, err := builder.BuildPipeline(appCtx, cache)
	if err != nil {
		return err
	}
	bookCfg := bookConfigFromSession(appCtx, state)

	id := cfg.Options.Section
	switch op {
	case OpRegenerate:
		_, err = p.RegenerateSection(ctx, bookCfg, state, id)
	case OpContinue:
		_, err = p.ContinueSection(ctx, bookCfg, state, id)
	case OpRewrite:
		_, err = p.RewriteSection(ctx, bookCfg, state, id, cfg.Options.Instruction)
	default:
		return fmt.Errorf("未対応のセクション操作なのだ: %s", op)
	}
	if err != nil {
		return err
	}

	slog.Info("セクション操作が完了したのだ", "op", string(op), "section", id)
	return store.Save(ctx, state, p.Cache())
}

// ExecuteIllustrate は1セクションの挿絵、または --section 省略時は表紙を生成し直すのだ。
func ExecuteIllustrate(ctx context.Context, cfg *config.Config) error {
	appCtx, err := setupAppContext(ctx, cfg)
	if err != nil {
		return err
	}
	store := builder.BuildSessionStore(appCtx)
	state, cache, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("操作対象のセッションを読み込めないのだ: %w", err)
	}

	p, err := builder.BuildPipeline(appCtx, cache)
	if err != nil {
		return err
	}
	bookCfg := bookConfigFromSession(appCtx, state)

	if id := cfg.Options.Section; id != "" {
		if _, err := p.IllustrateSection(ctx, bookCfg, state, id); err != nil {
			return err
		}
		slog.Info("挿絵を生成し直したのだ", "section", id)
	} else {
		if _, err := p.GenerateCover(ctx, bookCfg, state); err != nil {
			return err
		}
		slog.Info("表紙を生成し直したのだ")
	}

	return store.Save(ctx, state, p.Cache())
}

// ExecuteCharacters は登場人物一覧を生成し直して保存するのだ。
func ExecuteCharacters(ctx context.Context, cfg *config.Config) error {
	appCtx, err := setupAppContext(ctx, cfg)
	if err != nil {
		return err
	}
	store := builder.BuildSessionStore(appCtx)
	state, cache, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("操作対象のセッションを読み込めないのだ: %w", err)
	}

	p, err := builder.BuildPipeline(appCtx, cache)
	if err != nil {
		return err
	}
	bookCfg := bookConfigFromSession(appCtx, state)

	characters, err := p.GenerateCharacters(ctx, bookCfg, state, cfg.Options.CharCount)
	if err != nil {
		return err
	}
	for _, c := range characters {
		slog.Info("登場人物を生成したのだ", "name", c.Name, "role", c.Role)
	}

	if !cfg.Options.NoImages {
		portraits, err := p.IllustrateCharacters(ctx, bookCfg, state)
		if err != nil {
			return err
		}
		slog.Info("肖像画を生成したのだ", "count", len(portraits))
	}

	return store.Save(ctx, state, p.Cache())
}

// ExecuteNarrate は朗読音声を合成して保存するのだ。--section 省略時は全編を対象にするのだ。
func ExecuteNarrate(ctx context.Context, cfg *config.Config) error {
	appCtx, err := setupAppContext(ctx, cfg)
	if err != nil {
		return err
	}
	store := builder.BuildSessionStore(appCtx)
	state, cache, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("操作対象のセッションを読み込めないのだ: %w", err)
	}

	p, err := builder.BuildPipeline(appCtx, cache)
	if err != nil {
		return err
	}
	bookCfg := bookConfigFromSession(appCtx, state)

	artifact, err := p.Narrate(ctx, bookCfg, state, cfg.Options.Section)
	if err != nil {
		return err
	}
	slog.Info("朗読音声を合成したのだ", "bytes", len(artifact.Data), "mime", artifact.MimeType)

	if err := store.Save(ctx, state, p.Cache()); err != nil {
		return err
	}

	// 音声つきでパブリッシュして、ファイルとしても取り出せるようにするのだ
	return publishWithAudio(ctx, appCtx, state, p.Cache())
}

// ExecutePublish は保存済みセッションからMarkdown/HTMLを書き出すだけの軽い実行なのだ。
// 外部のAIバックエンドには一切触らないのだ。
func ExecutePublish(ctx context.Context, cfg *config.Config) error {
	appCtx, err := setupAppContext(ctx, cfg)
	if err != nil {
		return err
	}
	store := builder.BuildSessionStore(appCtx)
	state, cache, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("パブリッシュ対象のセッションを読み込めないのだ: %w", err)
	}
	return publishWithAudio(ctx, appCtx, state, cache)
}

func publish(ctx context.Context, appCtx *builder.AppContext, state *domain.BookState, cache *artifactcache.ArtifactCache) error {
	return doPublish(ctx, appCtx, state, cache, false)
}

func publishWithAudio(ctx context.Context, appCtx *builder.AppContext, state *domain.BookState, cache *artifactcache.ArtifactCache) error {
	return doPublish(ctx, appCtx, state, cache, true)
}

func doPublish(ctx context.Context, appCtx *builder.AppContext, state *domain.BookState, cache *artifactcache.ArtifactCache, withAudio bool) error {
	pub, err := builder.BuildPublisher(appCtx)
	if err != nil {
		return err
	}

	outputDir := appCtx.Options.OutputDir
	if outputDir == "" {
		outputDir = config.DefaultOutputDir
	}

	result, err := pub.Publish(ctx, state, cache, publisher.Options{OutputDir: outputDir, WithAudio: withAudio})
	if err != nil {
		return fmt.Errorf("パブリッシュに失敗したのだ: %w", err)
	}

	slog.Info("書籍を書き出したのだ",
		"markdown", result.MarkdownPath,
		"html", result.HTMLPath,
		"images", len(result.ImagePaths),
		"audio", len(result.AudioPaths),
	)
	return nil
}

// bookConfigFromSession は保存済みの状態とフラグから生成リクエストを再構成するのだ。
// 章数はフラグ未指定なら並び順から逆算するのだ（固定セクションが3つある前提なのだ）。
func bookConfigFromSession(appCtx *builder.AppContext, state *domain.BookState) domain.BookConfig {
	bookCfg := appCtx.BookConfigFromOptions(appCtx.Options.Premise)
	if bookCfg.Chapters <= 0 && len(state.ChapterOrder) > 3 {
		bookCfg.Chapters = len(state.ChapterOrder) - 3
	}
	// 前提のフラグ指定が無ければ、保存済みアウトラインを題材として使うのだ
	if bookCfg.Premise == "" {
		bookCfg.Premise = state.Outline
	}
	return bookCfg
}

// logProgress は進捗イベントを構造化ログに流すのだ。
func logProgress(e bookpipe.ProgressEvent) {
	slog.Info(e.Message, "stage", string(e.Stage), "completed", e.Completed, "total", e.Total)
}

// setupAppContext は、提供された設定と共有コンポーネントを使用して、アプリケーションコンテキストを初期化して返すのだ。
// 初期化中にエラーが発生した場合は、AppContext のポインタとエラーを返すのだ。
func setupAppContext(ctx context.Context, cfg *config.Config) (*builder.AppContext, error) {
	timeout := cfg.Options.HTTPTimeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	httpClient := httpkit.New(timeout)
	restClient := &http.Client{Timeout: timeout}

	aiClient, err := builder.InitializeAIClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create ai client: %w", err)
	}

	gcsFactory, err := gcsfactory.NewGCSClientFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client factory: %w", err)
	}

	reader, err := gcsFactory.NewInputReader()
	if err != nil {
		return nil, err
	}
	writer, err := gcsFactory.NewOutputWriter()
	if err != nil {
		return nil, err
	}

	appCtx := builder.NewAppContext(cfg, httpClient, restClient, aiClient, reader, writer)
	return &appCtx, nil
}
