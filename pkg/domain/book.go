package domain

import (
	"fmt"
	"slices"
	"strings"
)

// 章数の許容範囲なのだ。スライダーUI時代の名残で上限はかなり余裕を持たせてある。
const (
	MinChapters = 1
	MaxChapters = 30
)

// Genres は選択可能なジャンルの一覧です。
var Genres = []string{
	"Dark Fantasy", "Sci-Fi", "Romance", "Thriller", "Adventure",
	"Historical Fiction", "Mystery", "Fantasy", "Drama", "Slice of Life",
	"Horror", "Cyberpunk", "Psychological", "Crime", "Action", "Paranormal",
}

// ToneMap はトーン名と、プロンプトに注入する文体記述子の対応表です。
var ToneMap = map[string]string{
	"Romantic":    "sensual, romantic, literary",
	"Suspenseful": "tense, gripping, atmospheric",
	"Whimsical":   "playful, light, witty",
	"Dark":        "grim, brooding, unflinching",
	"Humorous":    "comedic, warm, self-aware",
	"Melancholic": "wistful, quiet, introspective",
}

// Voices は選択可能なナレーション音声の一覧です。
var Voices = []string{"Rachel", "Bella", "Antoni", "Elli", "Josh"}

// BookConfig は1回の生成リクエストを表す不変の入力なのだ。
// 生成開始後にフィールドを書き換えてはいけないのだよ。
type BookConfig struct {
	Premise    string
	Genre      string
	Tone       string
	Chapters   int
	TextModel  string
	ImageModel string
	Voice      string
}

// StyleDescriptor はトーンに対応する文体記述子を返します。
// 未登録のトーンはそのまま記述子として扱います。
func (c BookConfig) StyleDescriptor() string {
	if desc, ok := ToneMap[c.Tone]; ok {
		return desc
	}
	return c.Tone
}

// Validate は外部呼び出しを始める前に入力の欠落・範囲外を検出するのだ。
func (c BookConfig) Validate() error {
	if strings.TrimSpace(c.Premise) == "" {
		return &ConfigError{Field: "premise", Reason: "本のアイデアが空です"}
	}
	if c.Chapters < MinChapters || c.Chapters > MaxChapters {
		return &ConfigError{
			Field:  "chapters",
			Reason: fmt.Sprintf("章数は %d〜%d の範囲で指定してください（指定値: %d）", MinChapters, MaxChapters, c.Chapters),
		}
	}
	if c.Tone != "" {
		if _, ok := ToneMap[c.Tone]; !ok {
			return &ConfigError{Field: "tone", Reason: fmt.Sprintf("未対応のトーンです: %s", c.Tone)}
		}
	}
	return nil
}

// SectionIDs は章数から固定のセクション並びを組み立てるのだ。
// Foreword / Introduction / Chapter 1..N / Final Words の順で、
// この並びがそのまま物語の連続性を決めるので並べ替えてはいけないのだ。
func SectionIDs(chapters int) []string {
	ids := make([]string, 0, chapters+3)
	ids = append(ids, "Foreword", "Introduction")
	for i := 1; i <= chapters; i++ {
		ids = append(ids, fmt.Sprintf("Chapter %d", i))
	}
	ids = append(ids, "Final Words")
	return ids
}

// BookState は生成の進行につれてステージごとに埋まっていく可変の集約です。
// パイプラインだけが書き込み役で、UI側は読み取り専用として扱います。
type BookState struct {
	Title        string            `json:"title"`
	Outline      string            `json:"outline"`
	ChapterOrder []string          `json:"chapter_order"`
	Sections     map[string]string `json:"book"`
	Characters   []CharacterRecord `json:"characters"`
	Cover        *Artifact         `json:"cover,omitempty"`
}

// NewBookState は空の状態を生成します。
func NewBookState() *BookState {
	return &BookState{
		Sections: make(map[string]string),
	}
}

// HasSection は指定セクションの本文が存在するか返します。
func (s *BookState) HasSection(id string) bool {
	_, ok := s.Sections[id]
	return ok
}

// SetSection はセクション本文を「置き換え」で格納するのだ。
// 再生成で同じIDのエントリが二重に増えることは契約上あり得ないのだよ。
func (s *BookState) SetSection(id, text string) {
	if s.Sections == nil {
		s.Sections = make(map[string]string)
	}
	s.Sections[id] = text
}

// AppendSection は「続きを書く」操作専用の追記なのだ。
// 置き換え（SetSection）とは別の操作として明示的に分けてあるのだ。
func (s *BookState) AppendSection(id, addition string) {
	if s.Sections == nil {
		s.Sections = make(map[string]string)
	}
	current := s.Sections[id]
	if current == "" {
		s.Sections[id] = addition
		return
	}
	s.Sections[id] = current + "\n\n" + addition
}

// IsComplete は並び順のすべてのセクションに非空の本文があるか判定します。
func (s *BookState) IsComplete() bool {
	if len(s.ChapterOrder) == 0 {
		return false
	}
	for _, id := range s.ChapterOrder {
		if strings.TrimSpace(s.Sections[id]) == "" {
			return false
		}
	}
	return true
}

// Snapshot は状態の防御的コピーを返すのだ。
// 進捗イベントに載せて別ゴルーチンへ渡しても共有書き込みにならないようにするためなのだ。
func (s *BookState) Snapshot() *BookState {
	cp := &BookState{
		Title:        s.Title,
		Outline:      s.Outline,
		ChapterOrder: slices.Clone(s.ChapterOrder),
		Sections:     make(map[string]string, len(s.Sections)),
		Characters:   slices.Clone(s.Characters),
	}
	for k, v := range s.Sections {
		cp.Sections[k] = v
	}
	if s.Cover != nil {
		cover := s.Cover.Clone()
		cp.Cover = &cover
	}
	return cp
}

// ResetArtifacts はキャッシュ全消去と対で呼ばれ、成果物に依存するフィールドを初期化するのだ。
// 前セッションの表紙やキャラクターが新しいアウトラインに混ざって表示されるのを防ぐのだ。
func (s *BookState) ResetArtifacts() {
	s.Cover = nil
	s.Characters = nil
}
