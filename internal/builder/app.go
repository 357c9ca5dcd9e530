package builder

import (
	"net/http"

	"github.com/shouni/go-novel-kit/internal/config"
	"github.com/shouni/go-novel-kit/pkg/domain"

	"github.com/shouni/go-ai-client/v2/pkg/ai/gemini"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/remoteio"
)

// AppContext は、アプリケーション実行に必要な共通コンテキストを保持する
// これを各Build関数に渡すことで、依存関係の注入を簡素化します。
type AppContext struct {
	Config     *config.Config          // Configは、環境変数から読み込まれたグローバルな設定です（APIキー、接続先など）。
	Options    config.GenerateOptions  // Optionsは、コマンドラインから渡された実行時の設定です（前提、章数、モデル名など）。
	Reader     remoteio.InputReader    // Readerは、前提テキストやセッションの読み込みに使用する入力元です。
	Writer     remoteio.OutputWriter   // Writerは、生成された内容を保存するための出力先です。
	aiClient   gemini.GenerativeModel  // aiClient はGeminiの通信に使う共通クライアント
	httpClient httpkit.ClientInterface // httpClient は本文抽出など共有キット向けの共通クライアント
	restClient *http.Client            // restClient は各生成バックエンドのREST呼び出しに使うクライアント
}

// NewAppContext は AppContext の新しいインスタンスを生成する
func NewAppContext(
	cfg *config.Config,
	httpClient httpkit.ClientInterface,
	restClient *http.Client,
	aiClient gemini.GenerativeModel,
	reader remoteio.InputReader,
	writer remoteio.OutputWriter,
) AppContext {
	return AppContext{
		Config:     cfg,
		Options:    cfg.Options,
		aiClient:   aiClient,
		httpClient: httpClient,
		restClient: restClient,
		Reader:     reader,
		Writer:     writer,
	}
}

// HTTPClient は共有のHTTPクライアントを返します。
func (appCtx *AppContext) HTTPClient() httpkit.ClientInterface {
	return appCtx.httpClient
}

// BookConfigFromOptions はCLIオプションから生成リクエストを組み立てるのだ。
// モデル名や声のフラグ未指定は環境設定の値で埋めるのだ。
func (appCtx *AppContext) BookConfigFromOptions(premise string) domain.BookConfig {
	opts := appCtx.Options
	cfg := appCtx.Config

	textModel := opts.TextModel
	if textModel == "" {
		textModel = cfg.TextModel
	}
	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = cfg.ImageModel
	}
	voice := opts.Voice
	if voice == "" {
		voice = cfg.Voice
	}

	return domain.BookConfig{
		Premise:    premise,
		Genre:      opts.Genre,
		Tone:       opts.Tone,
		Chapters:   opts.Chapters,
		TextModel:  textModel,
		ImageModel: imageModel,
		Voice:      voice,
	}
}
