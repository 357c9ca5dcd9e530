package backend

import (
	"fmt"
	"time"
)

// ユーザーに見せるエラーメッセージの上限なのだ。
// 生のレスポンス本文はこの長さを超えて外へ出さないのだ。
const maxErrorMessageRunes = 160

// UpstreamError はバックエンドが失敗ステータスまたは不正な応答を返したことを表します。
type UpstreamError struct {
	Backend    string // "openrouter" / "replicate" / "elevenlabs" など
	StatusCode int    // HTTPステータス。応答の形が不正な場合は 0 のこともある
	Message    string // 切り詰め済みの人間可読メッセージ
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s がエラーを返しました (status %d): %s", e.Backend, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s の応答が不正です: %s", e.Backend, e.Message)
}

// UpstreamTimeout はリクエストまたはジョブのポーリングが待機上限を超えたことを表します。
type UpstreamTimeout struct {
	Backend string
	Waited  time.Duration
}

func (e *UpstreamTimeout) Error() string {
	return fmt.Sprintf("%s の応答待ちが %s を超えました", e.Backend, e.Waited)
}

// truncateMessage はメッセージをルーンセーフに上限まで切り詰めます。
func truncateMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= maxErrorMessageRunes {
		return msg
	}
	return string(runes[:maxErrorMessageRunes]) + "…"
}
