package cmd

import (
	"log/slog"

	"github.com/shouni/go-novel-kit/internal/config"
	"github.com/shouni/go-novel-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// narrateCmd は、完成した本文を音声に変換するサブコマンドなのだ。
var narrateCmd = &cobra.Command{
	Use:   "narrate",
	Short: "書籍の本文をナレーション音声に変換するのだ。",
	Long: `保存済みのセッションJSONを読み込み、本文を音声合成にかけるのだ。
--section を指定するとそのセクションだけを、指定しなければ全文を1本の音声にするのだ。
合成バックエンドに繋がらないときはローカルのエンジンに切り替えて続行するのだよ。`,
	RunE: narrateCommand,
}

func init() {
}

func narrateCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if !cmd.Flags().Changed("chapters") {
		opts.Chapters = 0
	}

	cfg := config.LoadConfig()
	cfg.Options = opts

	target := opts.Section
	if target == "" {
		target = "(全文)"
	}
	slog.Info("ナレーション生成を開始するのだ",
		"target", target,
		"voice", opts.Voice,
		"session", opts.SessionFile)

	return pipeline.ExecuteNarrate(ctx, cfg)
}
