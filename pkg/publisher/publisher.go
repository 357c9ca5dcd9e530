// Package publisher は完成した書籍の成果物を書き出すのだ。
// Markdown を正として組み立て、HTML変換と画像・音声の保存をまとめて面倒見るのだ。
package publisher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/shouni/go-remote-io/pkg/remoteio"
	"github.com/shouni/go-text-format/pkg/md2htmlrunner"

	"github.com/shouni/go-novel-kit/pkg/artifactcache"
	"github.com/shouni/go-novel-kit/pkg/domain"
)

const (
	defaultBookName     = "book.md"
	defaultImageDirName = "images"
	defaultAudioDirName = "audio"
	coverFileName       = "cover.png"
)

// Options はパブリッシュ動作を制御する設定項目です。
type Options struct {
	OutputDir string
	// WithAudio を立てるとキャッシュ済みの朗読音声も書き出すのだ。
	WithAudio bool
}

// PublishResult はパブリッシュ処理の結果として生成されたファイルの情報を保持します。
type PublishResult struct {
	MarkdownPath string
	HTMLPath     string
	ImagePaths   []string
	AudioPaths   []string
}

// BookPublisher は成果物の永続化とフォーマット変換を担います。
type BookPublisher struct {
	writer     remoteio.OutputWriter
	htmlRunner md2htmlrunner.Runner
}

// NewBookPublisher は新しい BookPublisher を生成して返すのだ。
func NewBookPublisher(writer remoteio.OutputWriter, htmlRunner md2htmlrunner.Runner) *BookPublisher {
	return &BookPublisher{
		writer:     writer,
		htmlRunner: htmlRunner,
	}
}

// Publish は画像の保存、Markdownの構築、HTML変換を一括して実行し、生成されたファイル情報を返すのだ。
// 画像はキャッシュにバイト列があるものだけ保存し、URL参照のものはそのままMarkdownに埋めるのだ。
func (p *BookPublisher) Publish(ctx context.Context, state *domain.BookState, cache *artifactcache.ArtifactCache, opts Options) (PublishResult, error) {
	result := PublishResult{}

	markdown, err := ResolveOutputPath(opts.OutputDir, defaultBookName)
	if err != nil {
		return result, err
	}
	result.MarkdownPath = markdown

	imgDir, err := ResolveOutputPath(opts.OutputDir, defaultImageDirName)
	if err != nil {
		return result, err
	}

	imageRefs, savedImages, err := p.saveImages(ctx, state, cache, imgDir)
	if err != nil {
		return result, fmt.Errorf("画像の書き込みに失敗しました: %w", err)
	}
	result.ImagePaths = savedImages

	content := p.buildMarkdown(state, imageRefs)

	if err := p.writer.Write(ctx, markdown, strings.NewReader(content), "text/markdown; charset=utf-8"); err != nil {
		return result, fmt.Errorf("markdownファイルの書き込みに失敗しました: %w", err)
	}

	if p.htmlRunner != nil {
		slog.InfoContext(ctx, "HTMLへ変換するのだ", "title", state.Title)
		htmlBuffer, err := p.htmlRunner.Run(ctx, state.Title, []byte(content))
		if err != nil {
			return result, fmt.Errorf("HTMLの変換に失敗しました: %w", err)
		}

		htmlPath := strings.TrimSuffix(markdown, filepath.Ext(markdown)) + ".html"
		if err := p.writer.Write(ctx, htmlPath, htmlBuffer, "text/html; charset=utf-8"); err != nil {
			return result, fmt.Errorf("HTMLファイルの書き込みに失敗しました: %w", err)
		}
		result.HTMLPath = htmlPath
	}

	if opts.WithAudio {
		audioPaths, err := p.saveAudio(ctx, state, cache, opts.OutputDir)
		if err != nil {
			return result, fmt.Errorf("音声の書き込みに失敗しました: %w", err)
		}
		result.AudioPaths = audioPaths
	}

	return result, nil
}

// saveImages は表紙と挿絵を保存し、セクションIDからMarkdown用参照へのマップを返すのだ。
// バイト列を持たないURL参照の成果物は保存せず、URLをそのまま参照に使うのだ。
func (p *BookPublisher) saveImages(ctx context.Context, state *domain.BookState, cache *artifactcache.ArtifactCache, imgDir string) (map[string]string, []string, error) {
	refs := make(map[string]string)
	var saved []string

	store := func(key, name string, artifact *domain.Artifact) error {
		if artifact == nil || artifact.IsZero() {
			return nil
		}
		if len(artifact.Data) == 0 {
			refs[key] = artifact.URL
			return nil
		}

		fullPath, err := ResolveOutputPath(imgDir, name)
		if err != nil {
			return fmt.Errorf("出力パスの解決に失敗しました: %w", err)
		}
		if err := p.writer.Write(ctx, fullPath, bytes.NewReader(artifact.Data), "image/png"); err != nil {
			return fmt.Errorf("画像の書き込みに失敗しました %s: %w", fullPath, err)
		}
		saved = append(saved, fullPath)
		refs[key] = path.Join(defaultImageDirName, name)
		return nil
	}

	cover := state.Cover
	if cover == nil {
		if artifact, ok := cache.Get(artifactcache.CoverKey()); ok {
			cover = artifact
		}
	}
	if err := store("cover", coverFileName, cover); err != nil {
		return nil, nil, err
	}

	for _, id := range state.ChapterOrder {
		artifact, ok := cache.Get(artifactcache.SectionImageKey(id))
		if !ok {
			continue
		}
		if err := store(id, sectionFileName(id)+".png", artifact); err != nil {
			return nil, nil, err
		}
	}

	for i := range state.Characters {
		artifact, ok := cache.Get(artifactcache.CharacterPortraitKey(i))
		if !ok {
			continue
		}
		if err := store(portraitRef(i), fmt.Sprintf("character_%d.png", i+1), artifact); err != nil {
			return nil, nil, err
		}
	}

	return refs, saved, nil
}

// portraitRef は imageRefs 内で肖像画を引くためのキーなのだ。
func portraitRef(index int) string {
	return fmt.Sprintf("portrait:%d", index)
}

// saveAudio はキャッシュにある朗読音声を書き出します。未生成のセクションは黙って飛ばします。
func (p *BookPublisher) saveAudio(ctx context.Context, state *domain.BookState, cache *artifactcache.ArtifactCache, outputDir string) ([]string, error) {
	audioDir, err := ResolveOutputPath(outputDir, defaultAudioDirName)
	if err != nil {
		return nil, err
	}

	var saved []string
	write := func(key, name string) error {
		artifact, ok := cache.Get(key)
		if !ok || len(artifact.Data) == 0 {
			return nil
		}
		ext := ".mp3"
		if artifact.MimeType == "audio/wav" {
			ext = ".wav"
		}
		fullPath, err := ResolveOutputPath(audioDir, name+ext)
		if err != nil {
			return err
		}
		if err := p.writer.Write(ctx, fullPath, bytes.NewReader(artifact.Data), artifact.MimeType); err != nil {
			return fmt.Errorf("音声の書き込みに失敗しました %s: %w", fullPath, err)
		}
		saved = append(saved, fullPath)
		return nil
	}

	if err := write(artifactcache.BookAudioKey(), "book"); err != nil {
		return nil, err
	}
	for _, id := range state.ChapterOrder {
		if err := write(artifactcache.SectionAudioKey(id), sectionFileName(id)); err != nil {
			return nil, err
		}
	}
	return saved, nil
}

// buildMarkdown は書籍全体のMarkdownを組み立てるのだ。
// 見出しの階層は 表題 > セクション > 付録(登場人物) の順で固定なのだ。
func (p *BookPublisher) buildMarkdown(state *domain.BookState, imageRefs map[string]string) string {
	var sb strings.Builder

	title := state.Title
	if title == "" {
		title = "Untitled"
	}
	sb.WriteString(fmt.Sprintf("# %s\n\n", title))

	if ref, ok := imageRefs["cover"]; ok {
		sb.WriteString(fmt.Sprintf("![cover](%s)\n\n", ref))
	}

	for _, id := range state.ChapterOrder {
		text := strings.TrimSpace(state.Sections[id])
		if text == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("## %s\n\n", id))
		if ref, ok := imageRefs[id]; ok {
			sb.WriteString(fmt.Sprintf("![%s](%s)\n\n", id, ref))
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	if len(state.Characters) > 0 {
		sb.WriteString("## Characters\n\n")
		for i, c := range state.Characters {
			sb.WriteString(fmt.Sprintf("### %s\n\n", c.Name))
			if ref, ok := imageRefs[portraitRef(i)]; ok {
				sb.WriteString(fmt.Sprintf("![%s](%s)\n\n", c.Name, ref))
			}
			sb.WriteString(c.String())
			sb.WriteString("\n\n")
		}
	}

	return sb.String()
}
