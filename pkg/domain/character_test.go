package domain

import (
	"errors"
	"testing"
)

func TestParseCharacters(t *testing.T) {
	t.Run("コードフェンス付きのJSON配列をパースできるのだ", func(t *testing.T) {
		raw := "```json\n" + `[
			{"name": "灰月レン", "role": "探偵", "appearance": "長いコート", "personality": "皮肉屋", "motivation": "真実", "secret": "元AI研究者"},
			{"name": "ノクス", "role": "ならず者AI", "appearance": "不定形", "personality": "冷徹", "motivation": "自由", "secret": "孤独を恐れる"}
		]` + "\n```"

		chars, err := ParseCharacters(raw)
		if err != nil {
			t.Fatalf("パース失敗なのだ: %v", err)
		}
		if len(chars) != 2 {
			t.Fatalf("件数が違うのだ: %d", len(chars))
		}
		if chars[0].Name != "灰月レン" || chars[1].Role != "ならず者AI" {
			t.Errorf("内容が正しくパースされていないのだ: %+v", chars)
		}
	})

	t.Run("不正なJSONはParseErrorになること", func(t *testing.T) {
		_, err := ParseCharacters("Name: Ren, Role: Detective")
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("ParseErrorが欲しいのだ: %v", err)
		}
	})

	t.Run("空配列もParseErrorになること", func(t *testing.T) {
		if _, err := ParseCharacters("[]"); err == nil {
			t.Error("空配列でエラーが発生しませんでした")
		}
	})
}

func TestPlaceholderCharacters(t *testing.T) {
	got := PlaceholderCharacters("  raw text from model  ")
	if len(got) != 1 {
		t.Fatalf("プレースホルダーは常に1件なのだ: %d", len(got))
	}
	if got[0].Personality != "raw text from model" {
		t.Errorf("生テキストが保持されていないのだ: %q", got[0].Personality)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"フェンスなし", `[1]`, `[1]`},
		{"jsonフェンス", "```json\n[1]\n```", `[1]`},
		{"無印フェンス", "```\n[1]\n```", `[1]`},
		{"前後の空白", "  [1]  ", `[1]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripCodeFence(tc.input); got != tc.want {
				t.Errorf("期待 %q, 実際 %q", tc.want, got)
			}
		})
	}
}

func TestExtractTitle(t *testing.T) {
	cases := []struct {
		name    string
		outline string
		want    string
	}{
		{"Title行", "Title: The Silent Circuit\n\nForeword: ...", "The Silent Circuit"},
		{"強調付きTitle行", "**Title**: \"Neon Requiem\"\nChapter 1: ...", "Neon Requiem"},
		{"Markdown見出し", "# 星屑のアリバイ\n\nChapter 1: ...", "星屑のアリバイ"},
		{"最初の非空行への妥協", "\n\nある物語の構想\n...", "ある物語の構想"},
		{"空文字", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractTitle(tc.outline); got != tc.want {
				t.Errorf("期待 %q, 実際 %q", tc.want, got)
			}
		})
	}
}
