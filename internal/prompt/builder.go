// Package prompt は各生成ステージのプロンプトテンプレートを管理するのだ。
// テンプレート本文は go:embed でバイナリに焼き込んであり、実行時のファイル探索はしないのだ。
package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/shouni/go-novel-kit/pkg/backend"
	"github.com/shouni/go-novel-kit/pkg/domain"
)

const (
	ModeOutline    = "outline"
	ModeSection    = "section"
	ModeContinue   = "continue"
	ModeRewrite    = "rewrite"
	ModeCharacters = "characters"
)

var (
	//go:embed outline.md
	outlineTemplate string
	//go:embed section.md
	sectionTemplate string
	//go:embed continue.md
	continueTemplate string
	//go:embed rewrite.md
	rewriteTemplate string
	//go:embed characters.md
	charactersTemplate string
)

// allTemplates はモードとテンプレート文字列を紐づけるマップなのだ。
var allTemplates = map[string]string{
	ModeOutline:    outlineTemplate,
	ModeSection:    sectionTemplate,
	ModeContinue:   continueTemplate,
	ModeRewrite:    rewriteTemplate,
	ModeCharacters: charactersTemplate,
}

// outlineData はアウトライン用テンプレートに渡すデータです。
type outlineData struct {
	Premise  string
	Genre    string
	Style    string
	Chapters int
}

// sectionData は本文系テンプレート(section/continue/rewrite)に渡すデータです。
type sectionData struct {
	SectionID   string
	Outline     string
	Previous    string
	Current     string
	Instruction string
	Style       string
}

// charactersData はキャラクター用テンプレートに渡すデータです。
type charactersData struct {
	Premise string
	Genre   string
	Style   string
	Count   int
}

// Builder は解析済みテンプレートを保持し、各ステージのプロンプトを組み立てるのだ。
type Builder struct {
	templates map[string]*template.Template
}

// NewBuilder は埋め込みテンプレートを解析して Builder を初期化するのだ。
// テンプレートの欠落や構文エラーは起動時にここで検出されるのだよ。
func NewBuilder() (*Builder, error) {
	parsed := make(map[string]*template.Template, len(allTemplates))
	for mode, content := range allTemplates {
		if content == "" {
			return nil, fmt.Errorf("プロンプトテンプレート '%s' (go:embed) の読み込みに失敗しました: 内容が空です", mode)
		}
		tmpl, err := template.New(mode).Parse(content)
		if err != nil {
			return nil, fmt.Errorf("プロンプト '%s' の解析に失敗: %w", mode, err)
		}
		parsed[mode] = tmpl
	}
	return &Builder{templates: parsed}, nil
}

func (b *Builder) render(mode string, data any) (string, error) {
	tmpl, ok := b.templates[mode]
	if !ok {
		return "", fmt.Errorf("不明なモードです: '%s'", mode)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("プロンプトテンプレートの実行に失敗しました: %w", err)
	}
	return sb.String(), nil
}

// Outline は書籍全体のアウトラインを要求するプロンプトを返します。
func (b *Builder) Outline(cfg domain.BookConfig) (string, error) {
	return b.render(ModeOutline, outlineData{
		Premise:  cfg.Premise,
		Genre:    cfg.Genre,
		Style:    cfg.StyleDescriptor(),
		Chapters: cfg.Chapters,
	})
}

// Section は1セクション分の本文を要求するプロンプトを返すのだ。
// previous に直前のセクション末尾を渡すと、続き物として書かせる指示が入るのだ。
func (b *Builder) Section(cfg domain.BookConfig, sectionID, outline, previous string) (string, error) {
	return b.render(ModeSection, sectionData{
		SectionID: sectionID,
		Outline:   outline,
		Previous:  tailExcerpt(previous, maxContinuityRunes),
		Style:     cfg.StyleDescriptor(),
	})
}

// Continue は既存セクションへの追記を要求するプロンプトを返します。
func (b *Builder) Continue(cfg domain.BookConfig, sectionID, outline, current string) (string, error) {
	return b.render(ModeContinue, sectionData{
		SectionID: sectionID,
		Outline:   outline,
		Current:   tailExcerpt(current, maxContinuityRunes),
		Style:     cfg.StyleDescriptor(),
	})
}

// Rewrite は指示つきの書き直しを要求するプロンプトを返します。
func (b *Builder) Rewrite(cfg domain.BookConfig, sectionID, current, instruction string) (string, error) {
	return b.render(ModeRewrite, sectionData{
		SectionID:   sectionID,
		Current:     current,
		Instruction: instruction,
		Style:       cfg.StyleDescriptor(),
	})
}

// Characters は登場人物一覧をJSONで要求するプロンプトを返します。
func (b *Builder) Characters(cfg domain.BookConfig, count int) (string, error) {
	return b.render(ModeCharacters, charactersData{
		Premise: cfg.Premise,
		Genre:   cfg.Genre,
		Style:   cfg.StyleDescriptor(),
		Count:   count,
	})
}

// maxContinuityRunes は前文脈としてプロンプトに載せる末尾の上限なのだ。
// 全文を載せるとトークンを食い潰すので、直近の流れだけ渡すのだ。
const maxContinuityRunes = 1500

// tailExcerpt は本文の末尾 maxRunes ルーン分を切り出します。
func tailExcerpt(text string, maxRunes int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= maxRunes {
		return string(runes)
	}
	return string(runes[len(runes)-maxRunes:])
}

// ImagePrompt は本文の冒頭から挿絵用プロンプトを組み立てるのだ。
// スタイル指定込みで画像バックエンドの受理上限に収まるよう、
// 本文の取り分を先に差し引いておくのだ。
func ImagePrompt(sectionText, style string) string {
	if style == "" {
		return backend.TruncatePrompt(sectionText)
	}
	suffix := ", " + style + " style, book illustration"
	excerpt := backend.TruncatePromptTo(sectionText, backend.MaxImagePromptRunes-len([]rune(suffix)))
	return excerpt + suffix
}

// CoverPrompt は作品の前提から表紙用プロンプトを組み立てます。
func CoverPrompt(premise string) string {
	const suffix = ", full book cover, illustration"
	return backend.TruncatePromptTo(premise, backend.MaxImagePromptRunes-len(suffix)) + suffix
}
