package pipeline

import (
	"fmt"
	"sync"

	"github.com/shouni/go-novel-kit/pkg/domain"
)

// Stage はパイプラインの進行段階を表します。
type Stage string

const (
	StageOutline    Stage = "outline"
	StageSections   Stage = "sections"
	StageImages     Stage = "images"
	StageCover      Stage = "cover"
	StageCharacters Stage = "characters"
	StageDone       Stage = "done"
)

// ProgressEvent はステージの進捗通知なのだ。
// State は発行時点の状態の防御的コピーで、受け手が別ゴルーチンで保持しても
// 進行中の書き込みと共有されないのだ。
type ProgressEvent struct {
	Stage     Stage
	Message   string
	Completed int
	Total     int
	State     *domain.BookState
}

// String はログ向けの1行表現を返します。
func (e ProgressEvent) String() string {
	return fmt.Sprintf("[%d/%d] %s: %s", e.Completed, e.Total, e.Stage, e.Message)
}

// ProgressFunc は進捗イベントの受け口なのだ。nilなら通知は捨てられるのだ。
// パイプラインのゴルーチンから呼ばれるので、重い処理を直接書いてはいけないのだよ。
type ProgressFunc func(ProgressEvent)

// progressTotal は1回のフル実行で発行される完了イベントの総数を数えるのだ。
// アウトライン1 + 本文n + キャラクター1 が基本で、画像ありのときだけ
// 挿絵n + 表紙1 が加わるのだ。画像なし実行でも必ず Total に到達するのだ。
func progressTotal(sections int, withImages bool) int {
	total := 1 + sections + 1
	if withImages {
		total += sections + 1
	}
	return total
}

// tracker は発行済みイベント数を抱えた小さなカウンタなのだ。
// 挿絵ステージは並列なので、カウンタと通知はロックで直列化してあるのだ。
type tracker struct {
	mu        sync.Mutex
	emit      ProgressFunc
	state     *domain.BookState
	completed int
	total     int
}

func newTracker(emit ProgressFunc, total int, state *domain.BookState) *tracker {
	return &tracker{emit: emit, total: total, state: state}
}

// step は1単位の完了を通知します。
func (t *tracker) step(stage Stage, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed++
	t.send(stage, format, args...)
}

// notify は完了数を進めずにメッセージだけ通知します。
func (t *tracker) notify(stage Stage, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.send(stage, format, args...)
}

func (t *tracker) send(stage Stage, format string, args ...any) {
	if t.emit == nil {
		return
	}
	t.emit(ProgressEvent{
		Stage:     stage,
		Message:   fmt.Sprintf(format, args...),
		Completed: t.completed,
		Total:     t.total,
		State:     t.state.Snapshot(),
	})
}
