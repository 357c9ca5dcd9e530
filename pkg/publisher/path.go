package publisher

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ResolveOutputPath は、ベースとなるディレクトリパスとファイル名から、
// GCS/ローカルを考慮した最終的な出力パスを生成します。
func ResolveOutputPath(baseDir, fileName string) (string, error) {
	if strings.HasPrefix(strings.ToLower(baseDir), "gs://") {
		u, err := url.Parse(baseDir)
		if err != nil {
			return "", fmt.Errorf("無効なGCS URIです: %w", err)
		}

		// url.JoinPath はパス部分のみを結合し、スキーム部分を保護するのだ
		u.Path, err = url.JoinPath(u.Path, fileName)
		if err != nil {
			return "", fmt.Errorf("GCSパスの結合に失敗しました: %w", err)
		}
		return u.String(), nil
	}
	return filepath.Join(baseDir, fileName), nil
}

// sectionFileName はセクションIDをファイル名に使える形へ変換するのだ。
// "Chapter 1" -> "chapter_1" のように空白をアンダースコアに潰すのだ。
func sectionFileName(sectionID string) string {
	s := strings.ToLower(strings.TrimSpace(sectionID))
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
