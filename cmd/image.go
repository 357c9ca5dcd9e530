package cmd

import (
	"log/slog"

	"github.com/shouni/go-novel-kit/internal/config"
	"github.com/shouni/go-novel-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// imageCmd は、保存済みセッションに対して挿絵または表紙だけを再生成するためのサブコマンドなのだ。
// 本文生成をスキップして、画像の再生成や調整を行いたい場合に便利なのだ。
var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "セッション内の挿絵または表紙を再生成するのだ。",
	Long: `保存済みのセッションJSONを読み込み、画像生成だけを実行するのだ。
--section を指定するとそのセクションの挿絵を、指定しなければ表紙を強制的に作り直すのだ。
テキスト生成のコストを抑えつつ、絵だけを差し替えたいときに使うのだよ。`,
	RunE: imageCommand,
}

// init は、image コマンドをコマンド体系に登録するための初期化関数なのだ。
func init() {
}

// imageCommand は、image サブコマンドの実行ロジック本体なのだ。
func imageCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// --chapters がユーザーによって指定されなかった場合、
	// セッションの並び順から章数を逆算させる
	if !cmd.Flags().Changed("chapters") {
		opts.Chapters = 0
	}

	// 1. 環境変数から基本設定をロード
	cfg := config.LoadConfig()

	// 2. コマンドライン引数の値を反映
	cfg.Options = opts

	target := opts.Section
	if target == "" {
		target = "cover"
	}
	slog.Info("画像再生成モードを起動するのだ！",
		"target", target,
		"session", opts.SessionFile,
		"image_model", opts.ImageModel)

	// 3. パイプライン実行
	return pipeline.ExecuteIllustrate(ctx, cfg)
}
