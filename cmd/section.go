package cmd

import (
	"fmt"
	"log/slog"

	"github.com/shouni/go-novel-kit/internal/config"
	"github.com/shouni/go-novel-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// sectionCmd は、保存済みセッションの1セクションだけを作り直すためのサブコマンドなのだ。
// 全体を回し直さずに、気に入らない章だけを差し替えたり続きを書かせたりできるのだ。
var sectionCmd = &cobra.Command{
	Use:   "section [regenerate|continue|rewrite]",
	Short: "セッション内の1セクションを再生成・追記・リライトするのだ。",
	Long: `保存済みのセッションJSONを読み込み、--section で指定したセクションだけを操作するのだ。

  regenerate : 本文をゼロから作り直して置き換えるのだ（挿絵キャッシュも無効化されるのだ）。
  continue   : 既存の本文の続きを書かせて末尾に追記するのだ。
  rewrite    : --instruction の指示に従って本文を書き直すのだ。

操作後の状態は同じセッションJSONに保存し直されるのだよ。`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"regenerate", "continue", "rewrite"},
	RunE:      sectionCommand,
}

func init() {
}

func sectionCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if opts.Section == "" {
		return fmt.Errorf("対象のセクション（--section）を指定してほしいのだ")
	}

	op := pipeline.SectionOp(args[0])
	if op == pipeline.OpRewrite && opts.Instruction == "" {
		return fmt.Errorf("rewrite には指示文（--instruction）が必要なのだ")
	}

	// --chapters がユーザーによって指定されなかった場合、
	// セッションの並び順から章数を逆算させる
	if !cmd.Flags().Changed("chapters") {
		opts.Chapters = 0
	}

	cfg := config.LoadConfig()
	cfg.Options = opts

	slog.Info("セクション操作を開始するのだ",
		"op", string(op),
		"section", opts.Section,
		"session", opts.SessionFile)

	return pipeline.ExecuteSection(ctx, cfg, op)
}
