package backend

import (
	"strings"
	"unicode"
)

// SplitChunks は長文を音声バックエンドが受理できる長さの断片に分割するのだ。
// なるべく文の区切りで切り、どうしても長い一文はルーン単位で強制分割するのだ。
func SplitChunks(text string, maxRunes int) []string {
	normalized := normalizeSpeechText(text)
	if normalized == "" {
		return nil
	}
	if maxRunes <= 0 {
		return []string{normalized}
	}

	var chunks []string
	var current []rune

	flush := func() {
		if s := strings.TrimSpace(string(current)); s != "" {
			chunks = append(chunks, s)
		}
		current = current[:0]
	}

	for _, sentence := range splitSentences(normalized) {
		runes := []rune(sentence)

		// 一文だけで上限を超える場合は強制分割
		for len(runes) > maxRunes {
			flush()
			chunks = append(chunks, strings.TrimSpace(string(runes[:maxRunes])))
			runes = runes[maxRunes:]
		}

		if len(current)+len(runes)+1 > maxRunes {
			flush()
		}
		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, runes...)
	}
	flush()

	return chunks
}

// normalizeSpeechText は改行を空白に潰し、連続空白をひとつにまとめます。
// 朗読では段落の切れ目を区切り文字として読んでほしくないためです。
func normalizeSpeechText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// splitSentences は文末記号を保ったまま文単位に分割します。
func splitSentences(text string) []string {
	var sentences []string
	var current []rune

	for _, r := range text {
		current = append(current, r)
		if isSentenceEnd(r) {
			if s := strings.TrimSpace(string(current)); s != "" {
				sentences = append(sentences, s)
			}
			current = current[:0]
		}
	}
	if s := strings.TrimSpace(string(current)); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return unicode.Is(unicode.Sentence_Terminal, r)
}
