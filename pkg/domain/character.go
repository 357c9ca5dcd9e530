package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CharacterRecord は登場人物ひとり分の記録です。
// 生成後は個別に編集・再生成できる独立したデータとして扱います。
type CharacterRecord struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Appearance  string `json:"appearance"`
	Personality string `json:"personality"`
	Motivation  string `json:"motivation"`
	Secret      string `json:"secret"`

	// PortraitKey は肖像画の成果物キー。未生成なら空です。
	PortraitKey string `json:"portrait_key,omitempty"`
}

// String はキャラクターの情報を文字列で返すのだ。
func (c CharacterRecord) String() string {
	return fmt.Sprintf("%s (%s)", c.Name, c.Role)
}

// PortraitPrompt は肖像画生成用の描写文を組み立てます。
func (c CharacterRecord) PortraitPrompt() string {
	parts := []string{c.Name}
	if c.Role != "" {
		parts = append(parts, c.Role)
	}
	if c.Appearance != "" {
		parts = append(parts, c.Appearance)
	}
	parts = append(parts, "character portrait, detailed illustration")
	return strings.Join(parts, ", ")
}

// ParseCharacters はAIが返したテキストからキャラクターのJSON配列を取り出すのだ。
// AIが付けがちなMarkdownタグ (```json ... ```) を除去してからパースするのだよ。
func ParseCharacters(raw string) ([]CharacterRecord, error) {
	cleaned := StripCodeFence(raw)

	var records []CharacterRecord
	if err := json.Unmarshal([]byte(cleaned), &records); err != nil {
		return nil, &ParseError{What: "キャラクターJSON", Err: err}
	}
	if len(records) == 0 {
		return nil, &ParseError{What: "キャラクターJSON", Err: fmt.Errorf("配列が空です")}
	}
	return records, nil
}

// PlaceholderCharacters は解析失敗時の縮退先なのだ。
// 生テキストを1件のレコードに収めて、本文生成までは道連れにしないのだ。
func PlaceholderCharacters(raw string) []CharacterRecord {
	return []CharacterRecord{
		{
			Name:        "Unnamed Character",
			Role:        "unknown",
			Personality: strings.TrimSpace(raw),
		},
	}
}

// StripCodeFence は前後の空白とMarkdownのコードブロック記法を取り除きます。
func StripCodeFence(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
