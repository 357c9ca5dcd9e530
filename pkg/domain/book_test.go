package domain

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestSectionIDs(t *testing.T) {
	t.Run("章数3なら前後の固定セクション込みで6件になるのだ", func(t *testing.T) {
		got := SectionIDs(3)
		want := []string{"Foreword", "Introduction", "Chapter 1", "Chapter 2", "Chapter 3", "Final Words"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("期待: %v, 実際: %v", want, got)
		}
	})

	t.Run("長さは常に 2 + N + 1 なのだ", func(t *testing.T) {
		for _, n := range []int{1, 5, 12, 30} {
			if got := len(SectionIDs(n)); got != n+3 {
				t.Errorf("章数 %d: 期待 %d, 実際 %d", n, n+3, got)
			}
		}
	})
}

func TestBookConfig_Validate(t *testing.T) {
	valid := BookConfig{Premise: "A detective hunts a rogue AI", Genre: "Thriller", Tone: "Suspenseful", Chapters: 3}

	t.Run("正常な設定は通ること", func(t *testing.T) {
		if err := valid.Validate(); err != nil {
			t.Fatalf("エラーは不要なのだ: %v", err)
		}
	})

	t.Run("空のアイデアはConfigErrorになること", func(t *testing.T) {
		cfg := valid
		cfg.Premise = "   "
		var ce *ConfigError
		if err := cfg.Validate(); !errors.As(err, &ce) {
			t.Fatalf("ConfigErrorが欲しいのだ: %v", err)
		}
	})

	t.Run("章数の範囲外はConfigErrorになること", func(t *testing.T) {
		for _, n := range []int{0, -1, MaxChapters + 1} {
			cfg := valid
			cfg.Chapters = n
			var ce *ConfigError
			if err := cfg.Validate(); !errors.As(err, &ce) {
				t.Errorf("章数 %d でConfigErrorが返らなかったのだ: %v", n, err)
			}
		}
	})

	t.Run("未対応トーンは弾かれること", func(t *testing.T) {
		cfg := valid
		cfg.Tone = "Sarcastic"
		if err := cfg.Validate(); err == nil {
			t.Error("未対応トーンでエラーが発生しませんでした")
		}
	})
}

func TestBookConfig_StyleDescriptor(t *testing.T) {
	cfg := BookConfig{Tone: "Suspenseful"}
	if got := cfg.StyleDescriptor(); got != "tense, gripping, atmospheric" {
		t.Errorf("記述子が違うのだ: %s", got)
	}
}

func TestBookState_SetSection(t *testing.T) {
	t.Run("再生成は追記ではなく置き換えであること", func(t *testing.T) {
		state := NewBookState()
		state.ChapterOrder = SectionIDs(1)
		state.SetSection("Chapter 1", "最初の本文")
		state.SetSection("Chapter 1", "書き直した本文")

		if len(state.Sections) != 1 {
			t.Fatalf("エントリ数が増えてしまったのだ: %d", len(state.Sections))
		}
		if state.Sections["Chapter 1"] != "書き直した本文" {
			t.Errorf("内容が更新されていないのだ: %s", state.Sections["Chapter 1"])
		}
	})
}

func TestBookState_AppendSection(t *testing.T) {
	state := NewBookState()
	state.SetSection("Chapter 1", "前半")
	state.AppendSection("Chapter 1", "後半")

	want := "前半\n\n後半"
	if state.Sections["Chapter 1"] != want {
		t.Errorf("期待: %q, 実際: %q", want, state.Sections["Chapter 1"])
	}

	t.Run("空セクションへの追記は区切りを入れないこと", func(t *testing.T) {
		s := NewBookState()
		s.AppendSection("Foreword", "本文")
		if s.Sections["Foreword"] != "本文" {
			t.Errorf("実際: %q", s.Sections["Foreword"])
		}
	})
}

func TestBookState_IsComplete(t *testing.T) {
	state := NewBookState()
	state.ChapterOrder = SectionIDs(2)
	if state.IsComplete() {
		t.Error("空の状態で完成扱いになっているのだ")
	}
	for _, id := range state.ChapterOrder {
		state.SetSection(id, fmt.Sprintf("%s の本文", id))
	}
	if !state.IsComplete() {
		t.Error("全セクションが埋まったのに未完成扱いなのだ")
	}
}

func TestBookState_Snapshot(t *testing.T) {
	state := NewBookState()
	state.Title = "ずんだ探偵の事件簿"
	state.ChapterOrder = SectionIDs(1)
	state.SetSection("Chapter 1", "本文")
	state.Cover = &Artifact{Kind: ArtifactImage, Data: []byte{1, 2, 3}}

	snap := state.Snapshot()

	// スナップショットへの変更が元へ波及しないこと
	snap.SetSection("Chapter 1", "改変")
	snap.Cover.Data[0] = 99
	snap.ChapterOrder[0] = "改変"

	if state.Sections["Chapter 1"] != "本文" {
		t.Error("セクションが共有されてしまっているのだ")
	}
	if state.Cover.Data[0] != 1 {
		t.Error("表紙のバイト列が共有されてしまっているのだ")
	}
	if state.ChapterOrder[0] != "Foreword" {
		t.Error("並び順が共有されてしまっているのだ")
	}
}

func TestBookState_ResetArtifacts(t *testing.T) {
	state := NewBookState()
	state.Cover = &Artifact{Kind: ArtifactImage, URL: "http://example.com/cover.png"}
	state.Characters = []CharacterRecord{{Name: "A"}}

	state.ResetArtifacts()

	if state.Cover != nil || state.Characters != nil {
		t.Error("成果物依存フィールドが初期化されていないのだ")
	}
}
