package domain

import (
	"regexp"
	"strings"
)

var (
	// titleLineRegex は "Title: ..." 形式の行をキャプチャします。
	titleLineRegex = regexp.MustCompile(`(?im)^\s*\**\s*title\s*\**\s*[:：]\s*(.+)$`)
	// headingRegex は "# 見出し" 形式の行をキャプチャします。
	headingRegex = regexp.MustCompile(`^#+\s+(.+)`)
)

// ExtractTitle はアウトラインのテキストから書名の行を取り出すのだ。
// "Title: ..." → 先頭のMarkdown見出し → 最初の非空行、の順で妥協していくのだ。
func ExtractTitle(outline string) string {
	if m := titleLineRegex.FindStringSubmatch(outline); m != nil {
		return cleanTitle(m[1])
	}

	for _, line := range strings.Split(outline, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if m := headingRegex.FindStringSubmatch(trimmed); m != nil {
			return cleanTitle(m[1])
		}
		return cleanTitle(trimmed)
	}
	return ""
}

// cleanTitle は引用符や強調記号などの飾りを剥がします。
func cleanTitle(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'*_「」『』`)
}
