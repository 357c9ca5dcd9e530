package domain

import "fmt"

// ConfigError は外部呼び出しを始める前に検出される入力不備なのだ。
// これが返った時点ではまだAPIは一度も叩かれていないのだよ。
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("設定エラー (%s): %s", e.Field, e.Reason)
}

// ParseError は構造化レスポンス（キャラクターJSONなど）の解析失敗を表します。
// 呼び出し側はプレースホルダーへの縮退など、局所的に回復して構いません。
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s の解析に失敗しました: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
