// Package pipeline は書籍生成の多段パイプラインを実装するのだ。
//
// ステージは アウトライン → 本文 → 挿絵 → 表紙 → キャラクター の固定順で、
// 本文は物語の連続性を保つため直列、挿絵は独立なのでレート制限つきの並列なのだ。
// 挿絵と表紙の失敗は警告どまりで、本の完成そのものは止めないのだよ。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/shouni/go-novel-kit/internal/prompt"
	"github.com/shouni/go-novel-kit/pkg/artifactcache"
	"github.com/shouni/go-novel-kit/pkg/backend"
	"github.com/shouni/go-novel-kit/pkg/domain"
)

// 実行全体と本文生成の既定値なのだ。
const (
	DefaultRunTimeout     = 5 * time.Minute
	DefaultMaxTokens      = 1800
	DefaultCharacterCount = 3
)

// Pipeline は各バックエンドと成果物キャッシュを束ねる実行主体なのだ。
// 1インスタンスを複数の実行で使い回してよいが、同じ BookState への
// 並行実行は呼び出し側で避けるのだ。
type Pipeline struct {
	text   backend.TextGenerator
	image  backend.ImageGenerator
	speech backend.SpeechSynthesizer

	prompts *prompt.Builder
	cache   *artifactcache.ArtifactCache

	// RunTimeout はフル実行1回の壁時計上限。0なら既定値なのだ。
	RunTimeout time.Duration
	// MaxTokens は本文1セクションあたりの生成上限。
	MaxTokens int
	// CharacterCount は生成する登場人物の数。
	CharacterCount int
	// RateInterval は挿絵の並列生成に挟むレート制限の間隔。0なら制限なしなのだ。
	RateInterval time.Duration
	// GenerateImages を下ろすと挿絵と表紙のステージを丸ごと飛ばすのだ。
	GenerateImages bool
	// Progress は進捗イベントの通知先。nilでもよいのだ。
	Progress ProgressFunc
}

// New は Pipeline を組み立てて返すのだ。
func New(text backend.TextGenerator, image backend.ImageGenerator, speech backend.SpeechSynthesizer, prompts *prompt.Builder, cache *artifactcache.ArtifactCache) *Pipeline {
	return &Pipeline{
		text:           text,
		image:          image,
		speech:         speech,
		prompts:        prompts,
		cache:          cache,
		RunTimeout:     DefaultRunTimeout,
		MaxTokens:      DefaultMaxTokens,
		CharacterCount: DefaultCharacterCount,
		GenerateImages: true,
	}
}

// Cache は成果物キャッシュを返します。
func (p *Pipeline) Cache() *artifactcache.ArtifactCache { return p.cache }

// Run は設定からフルの書籍生成を実行し、完成した状態を返すのだ。
// state に途中まで埋まった状態を渡せば、済んだところを飛ばして続きから再開するのだ。
// state が nil なら新規開始なのだよ。
func (p *Pipeline) Run(ctx context.Context, cfg domain.BookConfig, state *domain.BookState) (*domain.BookState, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if state == nil {
		state = domain.NewBookState()
	}

	timeout := p.RunTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sections := domain.SectionIDs(cfg.Chapters)
	track := newTracker(p.Progress, progressTotal(len(sections), p.GenerateImages), state)

	// ステージ1: アウトライン
	if err := p.runOutlineStage(ctx, cfg, state, sections, track); err != nil {
		return state, translateDeadline(err, timeout)
	}
	if err := stageGate(ctx); err != nil {
		return state, translateDeadline(err, timeout)
	}

	// ステージ2: 本文（直列）
	if err := p.runSectionStage(ctx, cfg, state, track); err != nil {
		return state, translateDeadline(err, timeout)
	}
	if err := stageGate(ctx); err != nil {
		return state, translateDeadline(err, timeout)
	}

	// ステージ3: 挿絵（並列・失敗は非致命）
	if p.GenerateImages {
		if err := p.runImageStage(ctx, cfg, state, track); err != nil {
			return state, translateDeadline(err, timeout)
		}
		if err := stageGate(ctx); err != nil {
			return state, translateDeadline(err, timeout)
		}

		// ステージ4: 表紙
		p.runCoverStage(ctx, cfg, state, track)
		if err := stageGate(ctx); err != nil {
			return state, translateDeadline(err, timeout)
		}
	}

	// ステージ5: キャラクター
	if err := p.runCharacterStage(ctx, cfg, state, track); err != nil {
		return state, translateDeadline(err, timeout)
	}

	track.notify(StageDone, "書籍の生成が完了したのだ: %s", state.Title)
	return state, nil
}

// translateDeadline は壁時計上限での中断をタイムアウトの型で報告し直すのだ。
// キャンセルなど他の中断理由はそのまま返すのだ。
func translateDeadline(err error, waited time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &backend.UpstreamTimeout{Backend: "pipeline", Waited: waited}
	}
	return err
}

// stageGate はステージ間のキャンセル検査なのだ。走り出したステージは止めないが、
// 次のステージには進ませないのだ。
func stageGate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ステージ間で実行が中断されました: %w", err)
	}
	return nil
}

func (p *Pipeline) runOutlineStage(ctx context.Context, cfg domain.BookConfig, state *domain.BookState, sections []string, track *tracker) error {
	if len(state.ChapterOrder) == 0 {
		state.ChapterOrder = sections
	}
	if state.Outline != "" {
		track.step(StageOutline, "既存のアウトラインを再利用するのだ")
		return nil
	}

	outlinePrompt, err := p.prompts.Outline(cfg)
	if err != nil {
		return err
	}
	outline, err := p.text.GenerateText(ctx, outlinePrompt, cfg.TextModel, p.MaxTokens)
	if err != nil {
		return fmt.Errorf("アウトラインの生成に失敗しました: %w", err)
	}

	state.Outline = outline
	state.Title = domain.ExtractTitle(outline)
	p.cache.Put(artifactcache.OutlineKey(), &domain.Artifact{Kind: domain.ArtifactText, Text: outline})

	slog.InfoContext(ctx, "アウトラインを生成したのだ", "title", state.Title)
	track.step(StageOutline, "アウトラインを生成したのだ: %s", state.Title)
	return nil
}

// runSectionStage は本文を並び順どおりに1つずつ生成するのだ。
// 前のセクションの末尾を次のプロンプトに渡して物語を途切れさせないのだ。
func (p *Pipeline) runSectionStage(ctx context.Context, cfg domain.BookConfig, state *domain.BookState, track *tracker) error {
	previous := ""
	for _, id := range state.ChapterOrder {
		if text, ok := state.Sections[id]; ok && text != "" {
			previous = text
			track.step(StageSections, "%s は生成済みなのでスキップするのだ", id)
			continue
		}

		sectionPrompt, err := p.prompts.Section(cfg, id, state.Outline, previous)
		if err != nil {
			return err
		}
		text, err := p.text.GenerateText(ctx, sectionPrompt, cfg.TextModel, p.MaxTokens)
		if err != nil {
			return fmt.Errorf("セクション %s の生成に失敗しました: %w", id, err)
		}

		// 成功したセクションから順に確定させる。途中で落ちてもここまでは再利用できるのだ。
		state.SetSection(id, text)
		p.cache.Put(artifactcache.SectionTextKey(id), &domain.Artifact{Kind: domain.ArtifactText, Text: text})
		previous = text

		track.step(StageSections, "%s を書き上げたのだ", id)
	}
	return nil
}

// runImageStage は挿絵をレート制限つきの並列で生成するのだ。
// 個々の失敗は警告して先へ進む。本が画像抜きで完成する方がましなのだ。
func (p *Pipeline) runImageStage(ctx context.Context, cfg domain.BookConfig, state *domain.BookState, track *tracker) error {
	eg, egCtx := errgroup.WithContext(ctx)

	var limiter *rate.Limiter
	if p.RateInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(p.RateInterval), 2)
	}

	for _, id := range state.ChapterOrder {
		id := id
		eg.Go(func() error {
			key := artifactcache.SectionImageKey(id)
			if _, ok := p.cache.Get(key); ok {
				track.step(StageImages, "%s の挿絵はキャッシュ済みなのだ", id)
				return nil
			}

			text := state.Sections[id]
			if text == "" {
				track.step(StageImages, "%s は本文が無いので挿絵をスキップするのだ", id)
				return nil
			}

			if limiter != nil {
				if err := limiter.Wait(egCtx); err != nil {
					return err
				}
			}

			artifact, err := p.image.GenerateImage(egCtx, backend.ImageRequest{
				Prompt: prompt.ImagePrompt(text, cfg.StyleDescriptor()),
				Model:  cfg.ImageModel,
			})
			if err != nil {
				slog.WarnContext(egCtx, "挿絵の生成に失敗したのだ。画像抜きで続行するのだ", "section", id, "error", err)
				track.step(StageImages, "%s の挿絵生成に失敗したのだ", id)
				return nil
			}

			p.cache.Put(key, artifact)
			track.step(StageImages, "%s の挿絵を生成したのだ", id)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		// ここに届くのはキャンセル系だけ。生成失敗は各ゴルーチンで飲み込んでいるのだ。
		return fmt.Errorf("挿絵ステージが中断されました: %w", err)
	}
	return nil
}

// runCoverStage は表紙を1枚生成するのだ。失敗は警告どまりなのだ。
func (p *Pipeline) runCoverStage(ctx context.Context, cfg domain.BookConfig, state *domain.BookState, track *tracker) {
	if artifact, ok := p.cache.Get(artifactcache.CoverKey()); ok {
		cover := artifact.Clone()
		state.Cover = &cover
		track.step(StageCover, "表紙はキャッシュ済みなのだ")
		return
	}

	artifact, err := p.image.GenerateImage(ctx, backend.ImageRequest{
		Prompt: prompt.CoverPrompt(cfg.Premise),
		Model:  cfg.ImageModel,
	})
	if err != nil {
		slog.WarnContext(ctx, "表紙の生成に失敗したのだ。表紙抜きで続行するのだ", "error", err)
		track.step(StageCover, "表紙の生成に失敗したのだ")
		return
	}

	state.Cover = artifact
	p.cache.Put(artifactcache.CoverKey(), artifact)
	track.step(StageCover, "表紙を生成したのだ")
}

// runCharacterStage は登場人物一覧をJSONで生成するのだ。
// 解析に失敗しても実行は止めず、生テキストを抱えたプレースホルダーに縮退するのだ。
func (p *Pipeline) runCharacterStage(ctx context.Context, cfg domain.BookConfig, state *domain.BookState, track *tracker) error {
	count := p.CharacterCount
	if count <= 0 {
		count = DefaultCharacterCount
	}

	charPrompt, err := p.prompts.Characters(cfg, count)
	if err != nil {
		return err
	}
	raw, err := p.text.GenerateText(ctx, charPrompt, cfg.TextModel, p.MaxTokens)
	if err != nil {
		return fmt.Errorf("キャラクターの生成に失敗しました: %w", err)
	}

	characters, err := domain.ParseCharacters(raw)
	if err != nil {
		var parseErr *domain.ParseError
		if !errors.As(err, &parseErr) {
			return err
		}
		slog.WarnContext(ctx, "キャラクターJSONの解析に失敗したのでプレースホルダーに縮退するのだ", "error", err)
		characters = domain.PlaceholderCharacters(raw)
	}

	state.Characters = characters
	track.step(StageCharacters, "登場人物を %d 人生成したのだ", len(characters))
	return nil
}

// Reset は成果物キャッシュを全消去し、キャッシュ由来の状態フィールドも初期化するのだ。
// キャッシュだけ消して表紙やキャラクターが残ると、次の実行で古い成果物が混ざるのだ。
func (p *Pipeline) Reset(state *domain.BookState) {
	p.cache.Clear()
	if state != nil {
		state.ResetArtifacts()
	}
}
