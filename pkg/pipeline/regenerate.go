package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shouni/go-novel-kit/internal/prompt"
	"github.com/shouni/go-novel-kit/pkg/artifactcache"
	"github.com/shouni/go-novel-kit/pkg/backend"
	"github.com/shouni/go-novel-kit/pkg/domain"
)

// ErrUnknownSection は並び順に存在しないセクションIDを指定されたことを表すのだ。
var ErrUnknownSection = errors.New("指定されたセクションは存在しません")

// sectionIndex はセクションIDの位置を返します。
func sectionIndex(state *domain.BookState, id string) (int, error) {
	for i, sectionID := range state.ChapterOrder {
		if sectionID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrUnknownSection, id)
}

// RegenerateSection はセクション本文を新しく書き直して「置き換える」のだ。
// 同じIDのエントリが増えることはなく、本文に依存していた挿絵キャッシュも無効化するのだ。
func (p *Pipeline) RegenerateSection(ctx context.Context, cfg domain.BookConfig, state *domain.BookState, id string) (string, error) {
	idx, err := sectionIndex(state, id)
	if err != nil {
		return "", err
	}

	previous := ""
	if idx > 0 {
		previous = state.Sections[state.ChapterOrder[idx-1]]
	}

	sectionPrompt, err := p.prompts.Section(cfg, id, state.Outline, previous)
	if err != nil {
		return "", err
	}
	text, err := p.text.GenerateText(ctx, sectionPrompt, cfg.TextModel, p.MaxTokens)
	if err != nil {
		return "", fmt.Errorf("セクション %s の再生成に失敗しました: %w", id, err)
	}

	state.SetSection(id, text)
	p.cache.Put(artifactcache.SectionTextKey(id), &domain.Artifact{Kind: domain.ArtifactText, Text: text})

	// 古い本文に紐づく成果物は嘘になるので捨てるのだ。全文朗読も本文の一部が
	// 変わった時点で古くなるのだ
	p.cache.Delete(artifactcache.SectionImageKey(id))
	p.cache.Delete(artifactcache.SectionAudioKey(id))
	p.cache.Delete(artifactcache.BookAudioKey())

	slog.InfoContext(ctx, "セクションを再生成したのだ", "section", id)
	return text, nil
}

// ContinueSection は既存の本文の後ろに続きを「追記」するのだ。
// 置き換えではない点が RegenerateSection との違いなのだ。
func (p *Pipeline) ContinueSection(ctx context.Context, cfg domain.BookConfig, state *domain.BookState, id string) (string, error) {
	if _, err := sectionIndex(state, id); err != nil {
		return "", err
	}
	current := state.Sections[id]
	if strings.TrimSpace(current) == "" {
		return "", fmt.Errorf("セクション %s にはまだ本文がありません。先に生成してください", id)
	}

	continuePrompt, err := p.prompts.Continue(cfg, id, state.Outline, current)
	if err != nil {
		return "", err
	}
	addition, err := p.text.GenerateText(ctx, continuePrompt, cfg.TextModel, p.MaxTokens)
	if err != nil {
		return "", fmt.Errorf("セクション %s の続きの生成に失敗しました: %w", id, err)
	}

	state.AppendSection(id, addition)
	p.cache.Put(artifactcache.SectionTextKey(id), &domain.Artifact{Kind: domain.ArtifactText, Text: state.Sections[id]})
	p.cache.Delete(artifactcache.SectionAudioKey(id))
	p.cache.Delete(artifactcache.BookAudioKey())

	slog.InfoContext(ctx, "セクションに続きを追記したのだ", "section", id)
	return addition, nil
}

// RewriteSection は編集指示に従って本文を書き直し、置き換えるのだ。
func (p *Pipeline) RewriteSection(ctx context.Context, cfg domain.BookConfig, state *domain.BookState, id, instruction string) (string, error) {
	if _, err := sectionIndex(state, id); err != nil {
		return "", err
	}
	current := state.Sections[id]
	if strings.TrimSpace(current) == "" {
		return "", fmt.Errorf("セクション %s にはまだ本文がありません。先に生成してください", id)
	}
	if strings.TrimSpace(instruction) == "" {
		return "", &domain.ConfigError{Field: "instruction", Reason: "書き直しの指示が空です"}
	}

	rewritePrompt, err := p.prompts.Rewrite(cfg, id, current, instruction)
	if err != nil {
		return "", err
	}
	text, err := p.text.GenerateText(ctx, rewritePrompt, cfg.TextModel, p.MaxTokens)
	if err != nil {
		return "", fmt.Errorf("セクション %s の書き直しに失敗しました: %w", id, err)
	}

	state.SetSection(id, text)
	p.cache.Put(artifactcache.SectionTextKey(id), &domain.Artifact{Kind: domain.ArtifactText, Text: text})
	p.cache.Delete(artifactcache.SectionImageKey(id))
	p.cache.Delete(artifactcache.SectionAudioKey(id))
	p.cache.Delete(artifactcache.BookAudioKey())

	slog.InfoContext(ctx, "セクションを書き直したのだ", "section", id, "instruction", instruction)
	return text, nil
}

// IllustrateSection は指定セクションの挿絵を生成し直すのだ。
// キャッシュは無視して必ず新しい1枚を作り、古いエントリを上書きするのだ。
func (p *Pipeline) IllustrateSection(ctx context.Context, cfg domain.BookConfig, state *domain.BookState, id string) (*domain.Artifact, error) {
	if p.image == nil {
		return nil, &domain.ConfigError{Field: "image", Reason: "画像生成バックエンドが設定されていません"}
	}
	if _, err := sectionIndex(state, id); err != nil {
		return nil, err
	}
	text := state.Sections[id]
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("セクション %s にはまだ本文がありません。先に生成してください", id)
	}

	artifact, err := p.image.GenerateImage(ctx, backend.ImageRequest{
		Prompt: prompt.ImagePrompt(text, cfg.StyleDescriptor()),
		Model:  cfg.ImageModel,
	})
	if err != nil {
		return nil, fmt.Errorf("セクション %s の挿絵生成に失敗しました: %w", id, err)
	}

	p.cache.Put(artifactcache.SectionImageKey(id), artifact)
	return artifact, nil
}

// GenerateCover は表紙を生成し直すのだ。キャッシュは無視して必ず新しい1枚を作るのだ。
func (p *Pipeline) GenerateCover(ctx context.Context, cfg domain.BookConfig, state *domain.BookState) (*domain.Artifact, error) {
	if p.image == nil {
		return nil, &domain.ConfigError{Field: "image", Reason: "画像生成バックエンドが設定されていません"}
	}
	artifact, err := p.image.GenerateImage(ctx, backend.ImageRequest{
		Prompt: prompt.CoverPrompt(cfg.Premise),
		Model:  cfg.ImageModel,
	})
	if err != nil {
		return nil, fmt.Errorf("表紙の生成に失敗しました: %w", err)
	}

	state.Cover = artifact
	p.cache.Put(artifactcache.CoverKey(), artifact)
	return artifact, nil
}

// GenerateCharacters は登場人物一覧を生成し直すのだ。
// JSONとして読めなければプレースホルダー1人に縮退するのは Run と同じなのだ。
func (p *Pipeline) GenerateCharacters(ctx context.Context, cfg domain.BookConfig, state *domain.BookState, count int) ([]domain.CharacterRecord, error) {
	if count <= 0 {
		count = p.CharacterCount
	}
	if count <= 0 {
		count = DefaultCharacterCount
	}

	charPrompt, err := p.prompts.Characters(cfg, count)
	if err != nil {
		return nil, err
	}
	raw, err := p.text.GenerateText(ctx, charPrompt, cfg.TextModel, p.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("キャラクターの生成に失敗しました: %w", err)
	}

	characters, err := domain.ParseCharacters(raw)
	if err != nil {
		var parseErr *domain.ParseError
		if !errors.As(err, &parseErr) {
			return nil, err
		}
		slog.WarnContext(ctx, "キャラクターJSONの解析に失敗したのでプレースホルダーに縮退するのだ", "error", err)
		characters = domain.PlaceholderCharacters(raw)
	}

	state.Characters = characters
	return characters, nil
}

// IllustrateCharacters は登場人物ごとの肖像画を生成するのだ。
// 1人分の失敗は警告して飛ばし、描けた分だけキャッシュに積むのだ。
func (p *Pipeline) IllustrateCharacters(ctx context.Context, cfg domain.BookConfig, state *domain.BookState) ([]*domain.Artifact, error) {
	if p.image == nil {
		return nil, &domain.ConfigError{Field: "image", Reason: "画像生成バックエンドが設定されていません"}
	}
	if len(state.Characters) == 0 {
		return nil, fmt.Errorf("肖像画を描く登場人物がいません。先にキャラクターを生成してください")
	}

	portraits := make([]*domain.Artifact, 0, len(state.Characters))
	for i, c := range state.Characters {
		artifact, err := p.image.GenerateImage(ctx, backend.ImageRequest{
			Prompt: c.PortraitPrompt(),
			Model:  cfg.ImageModel,
		})
		if err != nil {
			if ctx.Err() != nil {
				return portraits, ctx.Err()
			}
			slog.WarnContext(ctx, "肖像画の生成に失敗したのだ", "character", c.Name, "error", err)
			continue
		}
		key := artifactcache.CharacterPortraitKey(i)
		p.cache.Put(key, artifact)
		state.Characters[i].PortraitKey = key
		portraits = append(portraits, artifact)
	}
	return portraits, nil
}

// Narrate はセクション本文を朗読音声に変換するのだ。
// id を空にすると並び順どおりの全文をひと続きで朗読するのだ。
func (p *Pipeline) Narrate(ctx context.Context, cfg domain.BookConfig, state *domain.BookState, id string) (*domain.Artifact, error) {
	if p.speech == nil {
		return nil, &domain.ConfigError{Field: "speech", Reason: "音声合成バックエンドが設定されていません"}
	}

	var text, key string
	if id == "" {
		var parts []string
		for _, sectionID := range state.ChapterOrder {
			if body := strings.TrimSpace(state.Sections[sectionID]); body != "" {
				parts = append(parts, body)
			}
		}
		text = strings.Join(parts, "\n\n")
		key = artifactcache.BookAudioKey()
	} else {
		if _, err := sectionIndex(state, id); err != nil {
			return nil, err
		}
		text = state.Sections[id]
		key = artifactcache.SectionAudioKey(id)
	}

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("朗読する本文がありません。先に生成してください")
	}

	if artifact, ok := p.cache.Get(key); ok {
		cached := artifact.Clone()
		return &cached, nil
	}

	artifact, err := p.speech.Synthesize(ctx, text, cfg.Voice)
	if err != nil {
		return nil, fmt.Errorf("朗読音声の合成に失敗しました: %w", err)
	}

	p.cache.Put(key, artifact)
	return artifact, nil
}
