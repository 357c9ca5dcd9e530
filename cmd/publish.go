package cmd

import (
	"log/slog"

	"github.com/shouni/go-novel-kit/internal/config"
	"github.com/shouni/go-novel-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// publishCmd は、AIを一切呼ばずに保存済みセッションを成果物として書き出すサブコマンドなのだ。
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "保存済みセッションをMarkdownとHTMLに書き出すのだ。",
	Long: `保存済みのセッションJSONを読み込み、Markdownと読書用HTML、画像ファイルを出力ディレクトリに書き出すのだ。
生成バックエンドには接続しないので、APIキーが無くても実行できるのだよ。`,
	RunE: publishCommand,
}

func init() {
}

func publishCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg := config.LoadConfig()
	cfg.Options = opts

	slog.Info("パブリッシュを開始するのだ",
		"session", opts.SessionFile,
		"output", opts.OutputDir)

	return pipeline.ExecutePublish(ctx, cfg)
}
