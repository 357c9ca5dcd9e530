package config

import (
	"time"

	"github.com/shouni/go-utils/envutil"
)

// デフォルト値の定義なのだ
const (
	DefaultTextModel      = "gryphe/mythomax-l2-13b"
	DefaultImageModel     = "stability-ai/stable-diffusion:ac732df83cea7fff18b8472768c88ad041fa750ff7682a21affe81863cbe77e4"
	DefaultVoice          = "Rachel"
	DefaultTextProvider   = "openrouter"
	DefaultHTTPTimeout    = 120 * time.Second
	DefaultMaxTokens      = 1800
	DefaultTemperature    = 0.95
	DefaultCharacterCount = 3
	DefaultRunTimeout     = 5 * time.Minute
	DefaultPollInterval   = 2 * time.Second
	DefaultPollMaxWait    = 2 * time.Minute
	DefaultRateLimit      = 10 * time.Second // 画像生成の連続リクエスト間隔
	DefaultSessionFile    = "output/session.json"
	DefaultOutputDir      = "output"

	DefaultOpenRouterBaseURL = "https://openrouter.ai/api"
	DefaultReplicateBaseURL  = "https://api.replicate.com"
	DefaultSpeechBaseURL     = "https://api.elevenlabs.io"
)

// Config はアプリケーション全体の環境設定（APIキーや接続先）を保持する構造体なのだ。
type Config struct {
	TextProvider      string // "openrouter" または "gemini"
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	GeminiAPIKey      string
	ReplicateAPIToken string
	ReplicateBaseURL  string
	SpeechAPIKey      string
	SpeechBaseURL     string

	TextModel  string
	ImageModel string
	Voice      string

	Options GenerateOptions
}

// LoadConfig は環境変数から設定を読み込み、構造体を返すのだ！
func LoadConfig() *Config {
	cfg := &Config{
		TextProvider:      envutil.GetEnv("NOVEL_TEXT_PROVIDER", DefaultTextProvider),
		OpenRouterAPIKey:  envutil.GetEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: envutil.GetEnv("OPENROUTER_BASE_URL", DefaultOpenRouterBaseURL),
		GeminiAPIKey:      envutil.GetEnv("GEMINI_API_KEY", ""),
		ReplicateAPIToken: envutil.GetEnv("REPLICATE_API_TOKEN", ""),
		ReplicateBaseURL:  envutil.GetEnv("REPLICATE_BASE_URL", DefaultReplicateBaseURL),
		SpeechAPIKey:      envutil.GetEnv("ELEVENLABS_API_KEY", ""),
		SpeechBaseURL:     envutil.GetEnv("ELEVENLABS_BASE_URL", DefaultSpeechBaseURL),
		TextModel:         envutil.GetEnv("NOVEL_TEXT_MODEL", DefaultTextModel),
		ImageModel:        envutil.GetEnv("NOVEL_IMAGE_MODEL", DefaultImageModel),
		Voice:             envutil.GetEnv("NOVEL_VOICE", DefaultVoice),
	}
	return cfg
}

// GenerateOptions は CLI フラグから渡される実行時のパラメータなのだ。
type GenerateOptions struct {
	// ソース入力関連
	Premise     string // --premise: 本のアイデア（自由文）
	PremiseURL  string // --premise-url: Webページからアイデアを取得する
	PremiseFile string // --premise-file: ファイル（'-'で標準入力）から読み込む

	// 物語の設定
	Genre    string // --genre
	Tone     string // --tone
	Chapters int    // --chapters

	// 出力・セッション
	SessionFile string // --session-file: 保存/再開に使うJSONパス（ローカル or gs://...）
	OutputDir   string // --output-dir: パブリッシュ先ディレクトリ

	// AI挙動設定
	TextModel  string // --model: テキスト生成用のモデル
	ImageModel string // --image-model: 画像生成用のモデル
	Voice      string // --voice: ナレーションの声

	// 単一ステージ操作用
	Section     string // --section: 対象のセクションID（"Chapter 3" など）
	Instruction string // --instruction: リライト指示文
	CharCount   int    // --char-count: 生成するキャラクター数

	// 実行制御
	HTTPTimeout time.Duration // --http-timeout
	RunTimeout  time.Duration // --run-timeout: パイプライン全体の打ち切り時間
	Resume      bool          // --resume: セッションを読み込んでから再開する
	NoImages    bool          // --no-images: 挿絵ステージを飛ばす
}
