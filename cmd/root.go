package cmd

import (
	"fmt"
	"os"

	"github.com/shouni/go-novel-kit/internal/config"

	clibase "github.com/shouni/go-cli-base"
	"github.com/spf13/cobra"
)

// opts は全コマンドで共有される実行時オプションなのだ。addAppFlags でフラグと紐づくのだ。
var opts config.GenerateOptions

// addAppFlags は、アプリケーション全般に適用されるグローバルフラグを定義するのだ。
func addAppFlags(rootCmd *cobra.Command) {
	// --- ソース入力関連 ---
	rootCmd.PersistentFlags().StringVarP(&opts.Premise, "premise", "p", "", "本のアイデア（自由文）なのだ。")
	rootCmd.PersistentFlags().StringVarP(&opts.PremiseURL, "premise-url", "u", "", "Webページからアイデアを取得するためのURLなのだ。")
	rootCmd.PersistentFlags().StringVarP(&opts.PremiseFile, "premise-file", "f", "", "アイデアを書いたファイルのパス（'-'で標準入力なのだ）。")

	// --- 物語の設定 ---
	rootCmd.PersistentFlags().StringVarP(&opts.Genre, "genre", "g", "Fantasy", "物語のジャンルなのだ。")
	rootCmd.PersistentFlags().StringVarP(&opts.Tone, "tone", "t", "Whimsical", "文体のトーン（Romantic/Suspenseful/Whimsical/Dark/Humorous/Melancholic）なのだ。")
	rootCmd.PersistentFlags().IntVarP(&opts.Chapters, "chapters", "c", 8, "章の数なのだ。")

	// --- 出力・セッション ---
	rootCmd.PersistentFlags().StringVar(&opts.SessionFile, "session-file", config.DefaultSessionFile, "セッションJSONの保存パス（ローカル or gs://...）なのだ。")
	rootCmd.PersistentFlags().StringVarP(&opts.OutputDir, "output-dir", "o", config.DefaultOutputDir, "成果物の書き出し先ディレクトリ（ローカル or gs://...）なのだ。")

	// --- AIモデル・挙動設定 ---
	rootCmd.PersistentFlags().StringVar(&opts.TextModel, "model", "", "テキスト生成に使うモデル名なのだ（未指定なら環境設定に従うのだ）。")
	rootCmd.PersistentFlags().StringVar(&opts.ImageModel, "image-model", "", "画像生成に使うモデル名なのだ（未指定なら環境設定に従うのだ）。")
	rootCmd.PersistentFlags().StringVar(&opts.Voice, "voice", "", "ナレーションの声なのだ。")

	// --- 単一ステージ操作 ---
	rootCmd.PersistentFlags().StringVarP(&opts.Section, "section", "s", "", "操作対象のセクションID（\"Chapter 3\" など）なのだ。")
	rootCmd.PersistentFlags().StringVar(&opts.Instruction, "instruction", "", "リライト時の指示文なのだ。")
	rootCmd.PersistentFlags().IntVar(&opts.CharCount, "char-count", config.DefaultCharacterCount, "生成するキャラクターの人数なのだ。")

	rootCmd.PersistentFlags().DurationVar(&opts.HTTPTimeout, "http-timeout", config.DefaultHTTPTimeout, "Webリクエストのタイムアウトなのだ。")
	rootCmd.PersistentFlags().DurationVar(&opts.RunTimeout, "run-timeout", config.DefaultRunTimeout, "フル生成1回の打ち切り時間なのだ。")

	// --- 実行制御 ---
	rootCmd.PersistentFlags().BoolVar(&opts.Resume, "resume", false, "保存済みセッションを読み込んで続きから再開するのだ。")
	rootCmd.PersistentFlags().BoolVar(&opts.NoImages, "no-images", false, "挿絵と表紙のステージを飛ばすのだ。")
}

// preRunAppE は、コマンド実行前に環境変数などの必須チェックを行うのだ。
func preRunAppE(cmd *cobra.Command, args []string) error {
	// publish は生成バックエンドに繋がないので、キーが無くても通すのだ
	if cmd.Name() == "publish" {
		return nil
	}

	// テキスト生成はどのコマンドでも核になるので、プロバイダのキーだけは先に確かめるのだ
	provider := os.Getenv("NOVEL_TEXT_PROVIDER")
	if provider == "gemini" {
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("エラー: 環境変数 GEMINI_API_KEY が設定されていません。gemini プロバイダの利用には必須なのだ")
		}
		return nil
	}
	if os.Getenv("OPENROUTER_API_KEY") == "" {
		return fmt.Errorf("エラー: 環境変数 OPENROUTER_API_KEY が設定されていません。テキスト生成には必須なのだ")
	}
	return nil
}

// Execute は、アプリケーションのメインエントリポイントなのだ。
// main.go から呼び出されて、cobra のコマンドライン解析を開始するのだよ。
func Execute() {
	clibase.Execute(
		"ap-novel-go",
		addAppFlags,
		preRunAppE,
		bookCmd,
		sectionCmd,
		imageCmd,
		charactersCmd,
		narrateCmd,
		publishCmd,
	)
}
