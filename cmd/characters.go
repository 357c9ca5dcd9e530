package cmd

import (
	"log/slog"

	"github.com/shouni/go-novel-kit/internal/config"
	"github.com/shouni/go-novel-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// charactersCmd は、保存済みセッションのキャラクター設定を作り直すサブコマンドなのだ。
var charactersCmd = &cobra.Command{
	Use:   "characters",
	Short: "登場キャラクターの設定を再生成するのだ。",
	Long: `保存済みのセッションJSONを読み込み、アウトラインを元にキャラクター設定を生成し直すのだ。
人数は --char-count で変えられるのだ。AIの返答が壊れていてもプレースホルダで埋めて続行するのだよ。`,
	RunE: charactersCommand,
}

func init() {
}

func charactersCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if !cmd.Flags().Changed("chapters") {
		opts.Chapters = 0
	}

	cfg := config.LoadConfig()
	cfg.Options = opts

	slog.Info("キャラクター再生成を開始するのだ",
		"count", opts.CharCount,
		"session", opts.SessionFile)

	return pipeline.ExecuteCharacters(ctx, cfg)
}
