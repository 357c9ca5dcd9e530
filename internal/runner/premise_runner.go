package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shouni/go-novel-kit/internal/config"

	"github.com/shouni/go-remote-io/pkg/remoteio"
	"github.com/shouni/go-web-exact/v2/pkg/extract"
)

// PremiseRunner は、書籍の前提テキストを入力ソースから取得するためのインターフェースなのだ。
type PremiseRunner interface {
	// Run は設定に従って前提テキストを解決して返すのだ。
	Run(ctx context.Context) (string, error)
}

// BookPremiseRunner は、フラグ・URL・ファイル・標準入力のどれかから前提を読み取る構造体なのだ。
type BookPremiseRunner struct {
	opts      config.GenerateOptions // 実行時のコマンドライン引数
	extractor *extract.Extractor     // Webサイトから本文を抽出するエクストラクター
	reader    remoteio.InputReader   // ローカルやGCSのファイルを読み込むリーダー
}

// NewBookPremiseRunner は、BookPremiseRunnerの新しいインスタンスを生成して返すのだ。
func NewBookPremiseRunner(opts config.GenerateOptions, ext *extract.Extractor, r remoteio.InputReader) *BookPremiseRunner {
	return &BookPremiseRunner{
		opts:      opts,
		extractor: ext,
		reader:    r,
	}
}

// premiseMaxRunes は前提テキストの上限なのだ。
// Webページ丸ごとを前提にされるとプロンプトが破裂するので先頭だけ使うのだ。
const premiseMaxRunes = 2000

// Run は、直接指定 → URL → ファイル → 標準入力 の優先順で前提テキストを解決するのだ。
func (pr *BookPremiseRunner) Run(ctx context.Context) (string, error) {
	opts := pr.opts

	// 1. フラグで直接指定されていればそれが最優先なのだ
	if strings.TrimSpace(opts.Premise) != "" {
		return strings.TrimSpace(opts.Premise), nil
	}

	// 2. URLが指定されている場合は、本文抽出を実行するのだ
	if opts.PremiseURL != "" {
		text, _, err := pr.extractor.FetchAndExtractText(ctx, opts.PremiseURL)
		if err != nil {
			return "", fmt.Errorf("URLからの前提の取得に失敗したのだ (%s): %w", opts.PremiseURL, err)
		}
		return clampPremise(text), nil
	}

	// 3. ファイルパスが指定されている場合は、リーダーを使って開くのだ（GCS等も対応！）
	if opts.PremiseFile != "" && opts.PremiseFile != "-" {
		rc, err := pr.reader.Open(ctx, opts.PremiseFile)
		if err != nil {
			return "", fmt.Errorf("前提ファイルのオープンに失敗したのだ (%s): %w", opts.PremiseFile, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return "", fmt.Errorf("前提ファイルの読み込みに失敗したのだ: %w", err)
		}
		return clampPremise(string(data)), nil
	}

	// 4. "-" 指定は標準入力から読むのだ
	if opts.PremiseFile == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("標準入力の読み込みに失敗したのだ: %w", err)
		}
		return clampPremise(string(data)), nil
	}

	return "", fmt.Errorf("前提が指定されていません。--premise / --premise-url / --premise-file のいずれかが必要です")
}

// clampPremise は前後の空白を落とし、上限を超える部分を切り捨てます。
func clampPremise(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= premiseMaxRunes {
		return string(runes)
	}
	return string(runes[:premiseMaxRunes])
}
