package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/shouni/go-novel-kit/internal/config"
	"github.com/shouni/go-novel-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// bookCmd は、前提からアウトライン、本文、挿絵、表紙、キャラクターまでを一気に生成するのだ。
var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "AIに書籍一冊をまるごと生成させますなのだ。",
	Long: `前提テキスト（自由文、URL、ファイル、標準入力）を出発点に、
アウトライン生成、各セクションの執筆、挿絵と表紙の生成、キャラクター設定までを順番に実行するのだ。
途中経過はセッションJSONに保存されるので、失敗しても --resume で続きから再開できるのだよ。`,
	RunE: bookCommand,
}

func init() {
}

func bookCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// 1. 必須チェック。前提がどこからも入ってこないなら走らせないのだ
	if opts.Premise == "" && opts.PremiseURL == "" && opts.PremiseFile == "" && !isStdin() {
		return fmt.Errorf("前提（--premise / --premise-url / --premise-file）を指定してほしいのだ")
	}

	// 2. 環境変数等から基本設定をロードするのだ
	cfg := config.LoadConfig()
	cfg.Options = opts

	slog.Info("書籍生成パイプラインを起動するのだ！",
		"genre", opts.Genre,
		"tone", opts.Tone,
		"chapters", opts.Chapters,
		"resume", opts.Resume,
		"output", opts.OutputDir)

	// 3. 更新した config を考慮しつつパイプラインを実行するのだ
	if err := pipeline.Execute(ctx, cfg); err != nil {
		return fmt.Errorf("パイプライン実行中にエラーが発生したのだ: %w", err)
	}

	slog.Info("すべての生成工程が完了したのだ！")
	return nil
}

func isStdin() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
