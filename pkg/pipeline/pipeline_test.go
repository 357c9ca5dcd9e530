package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shouni/go-novel-kit/internal/prompt"
	"github.com/shouni/go-novel-kit/pkg/artifactcache"
	"github.com/shouni/go-novel-kit/pkg/backend"
	"github.com/shouni/go-novel-kit/pkg/domain"
)

// fakeText はプロンプトの種類を見分けて台本どおりの応答を返すテスト用実装なのだ。
type fakeText struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (f *fakeText) GenerateText(ctx context.Context, promptText, model string, maxTokens int) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	switch {
	case strings.Contains(promptText, "book outline"):
		return "Title: 鋼鉄の探偵\n\nForeword: ...\nChapter 1: 追跡\nChapter 2: 対峙\nChapter 3: 決着", nil
	case strings.Contains(promptText, "JSON array"):
		return "```json\n[{\"name\":\"アヤ\",\"role\":\"探偵\",\"appearance\":\"\",\"personality\":\"\",\"motivation\":\"\",\"secret\":\"\"},{\"name\":\"ノア\",\"role\":\"AI\",\"appearance\":\"\",\"personality\":\"\",\"motivation\":\"\",\"secret\":\"\"}]\n```", nil
	case strings.Contains(promptText, "Continue writing"):
		return "続きの本文", nil
	case strings.Contains(promptText, "Rewrite the following"):
		return "書き直された本文", nil
	default:
		return fmt.Sprintf("本文 %d なのだ", n), nil
	}
}

func (f *fakeText) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeImage は常に同じURLを返す、または常に失敗するテスト用実装なのだ。
type fakeImage struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (f *fakeImage) GenerateImage(ctx context.Context, req backend.ImageRequest) (*domain.Artifact, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	return &domain.Artifact{Kind: domain.ArtifactImage, URL: fmt.Sprintf("https://example.com/%d.png", n)}, nil
}

func (f *fakeImage) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSpeech は入力テキスト長ぶんのダミー音声を返すテスト用実装なのだ。
type fakeSpeech struct {
	calls int
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text, voice string) (*domain.Artifact, error) {
	f.calls++
	return &domain.Artifact{Kind: domain.ArtifactAudio, Data: []byte(text), MimeType: "audio/mpeg"}, nil
}

func testPipeline(t *testing.T, text backend.TextGenerator, image backend.ImageGenerator, speech backend.SpeechSynthesizer) *Pipeline {
	t.Helper()
	prompts, err := prompt.NewBuilder()
	if err != nil {
		t.Fatalf("プロンプトの初期化に失敗したのだ: %v", err)
	}
	return New(text, image, speech, prompts, artifactcache.New())
}

func thrillerConfig() domain.BookConfig {
	return domain.BookConfig{
		Premise:  "A detective hunts a rogue AI",
		Genre:    "Thriller",
		Tone:     "Suspenseful",
		Chapters: 3,
	}
}

func TestPipeline_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("フル実行で全セクションと表紙とキャラクターが揃うこと", func(t *testing.T) {
		text := &fakeText{}
		image := &fakeImage{}
		p := testPipeline(t, text, image, &fakeSpeech{})

		var events []ProgressEvent
		p.Progress = func(e ProgressEvent) { events = append(events, e) }

		state, err := p.Run(ctx, thrillerConfig(), nil)
		if err != nil {
			t.Fatalf("エラーは不要なのだ: %v", err)
		}

		if len(state.ChapterOrder) != 6 {
			t.Errorf("セクション数が違うのだ: %v", state.ChapterOrder)
		}
		if !state.IsComplete() {
			t.Error("全セクションが埋まっていないのだ")
		}
		if state.Title != "鋼鉄の探偵" {
			t.Errorf("タイトルの抽出が違うのだ: %q", state.Title)
		}
		if state.Cover == nil {
			t.Error("表紙が無いのだ")
		}
		if len(state.Characters) != 2 {
			t.Errorf("キャラクター数が違うのだ: %d", len(state.Characters))
		}

		// 挿絵は各セクション1回 + 表紙1回
		if image.callCount() != 7 {
			t.Errorf("画像生成の回数が違うのだ: %d", image.callCount())
		}

		if len(events) == 0 {
			t.Fatal("進捗イベントが発行されていないのだ")
		}
		last := events[len(events)-1]
		if last.Stage != StageDone {
			t.Errorf("最後のイベントが完了通知ではないのだ: %+v", last)
		}
		wantTotal := progressTotal(6, true)
		if last.Total != wantTotal {
			t.Errorf("イベント総数の見積りが違うのだ: got=%d want=%d", last.Total, wantTotal)
		}

		if last.State == nil || last.State.Title != state.Title {
			t.Fatal("イベントに状態のスナップショットが載っていないのだ")
		}
		last.State.SetSection("Chapter 1", "改ざんされた本文")
		if state.Sections["Chapter 1"] == "改ざんされた本文" {
			t.Error("スナップショットが実状態と共有されているのだ")
		}
	})

	t.Run("挿絵が全滅しても本は完成すること", func(t *testing.T) {
		image := &fakeImage{fail: &backend.UpstreamError{Backend: "replicate", StatusCode: 500}}
		p := testPipeline(t, &fakeText{}, image, nil)

		state, err := p.Run(ctx, thrillerConfig(), nil)
		if err != nil {
			t.Fatalf("挿絵の失敗で実行が落ちてしまったのだ: %v", err)
		}
		if !state.IsComplete() {
			t.Error("本文が完成していないのだ")
		}
		if state.Cover != nil {
			t.Error("失敗したはずの表紙が入っているのだ")
		}
		if _, ok := p.Cache().Get(artifactcache.SectionImageKey("Chapter 1")); ok {
			t.Error("失敗した挿絵がキャッシュに入っているのだ")
		}
	})

	t.Run("画像なし実行でも進捗がTotalに到達すること", func(t *testing.T) {
		p := testPipeline(t, &fakeText{}, nil, nil)
		p.GenerateImages = false

		var events []ProgressEvent
		p.Progress = func(e ProgressEvent) { events = append(events, e) }

		if _, err := p.Run(ctx, thrillerConfig(), nil); err != nil {
			t.Fatalf("エラーは不要なのだ: %v", err)
		}
		if len(events) == 0 {
			t.Fatal("進捗イベントが発行されていないのだ")
		}
		last := events[len(events)-1]
		if want := progressTotal(6, false); last.Total != want {
			t.Errorf("イベント総数の見積りが違うのだ: got=%d want=%d", last.Total, want)
		}
		if last.Completed != last.Total {
			t.Errorf("完了数がTotalに届いていないのだ: %d/%d", last.Completed, last.Total)
		}
	})

	t.Run("生成済みセクションは再実行でスキップされること", func(t *testing.T) {
		text := &fakeText{}
		p := testPipeline(t, text, &fakeImage{}, nil)
		p.GenerateImages = false

		state, err := p.Run(ctx, thrillerConfig(), nil)
		if err != nil {
			t.Fatalf("初回実行に失敗したのだ: %v", err)
		}
		firstCalls := text.callCount()

		// 同じ状態で再実行。本文生成は1回も走らないはずなのだ
		if _, err := p.Run(ctx, thrillerConfig(), state); err != nil {
			t.Fatalf("再実行に失敗したのだ: %v", err)
		}
		// 増えてよいのはキャラクター生成の1回だけ
		if got := text.callCount() - firstCalls; got != 1 {
			t.Errorf("再実行で本文生成が走ってしまったのだ: 追加呼び出し=%d", got)
		}
	})

	t.Run("検証エラーでは外部呼び出しが一度も走らないこと", func(t *testing.T) {
		text := &fakeText{}
		p := testPipeline(t, text, &fakeImage{}, nil)

		_, err := p.Run(ctx, domain.BookConfig{Premise: "", Chapters: 3}, nil)
		var cfgErr *domain.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("ConfigErrorが欲しいのだ: %v", err)
		}
		if text.callCount() != 0 {
			t.Error("検証前に外部呼び出しが走ってしまったのだ")
		}
	})

	t.Run("キャンセル済みコンテキストでは次のステージへ進まないこと", func(t *testing.T) {
		p := testPipeline(t, &fakeText{}, &fakeImage{}, nil)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := p.Run(cancelled, thrillerConfig(), nil)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("context.Canceledが欲しいのだ: %v", err)
		}
	})

	t.Run("壁時計上限を超えたらUpstreamTimeoutで打ち切ること", func(t *testing.T) {
		p := testPipeline(t, &blockingText{}, &fakeImage{}, nil)
		p.RunTimeout = 10 * time.Millisecond

		_, err := p.Run(ctx, thrillerConfig(), nil)
		var timeoutErr *backend.UpstreamTimeout
		if !errors.As(err, &timeoutErr) {
			t.Fatalf("UpstreamTimeoutが欲しいのだ: %v", err)
		}
		if timeoutErr.Waited != p.RunTimeout {
			t.Errorf("待機時間の記録が違うのだ: %v", timeoutErr.Waited)
		}
	})

	t.Run("キャラクターJSONが壊れていたらプレースホルダーに縮退すること", func(t *testing.T) {
		text := &brokenCharacterText{}
		p := testPipeline(t, text, &fakeImage{}, nil)
		p.GenerateImages = false

		state, err := p.Run(ctx, thrillerConfig(), nil)
		if err != nil {
			t.Fatalf("解析失敗で実行が落ちてしまったのだ: %v", err)
		}
		if len(state.Characters) != 1 {
			t.Fatalf("プレースホルダー1人のはずなのだ: %d", len(state.Characters))
		}
		if !strings.Contains(state.Characters[0].Personality, "これはJSONではないのだ") {
			t.Errorf("生テキストが保持されていないのだ: %+v", state.Characters[0])
		}
	})
}

// blockingText はコンテキストの打ち切りまで返らない応答を模すのだ。
type blockingText struct{}

func (b *blockingText) GenerateText(ctx context.Context, promptText, model string, maxTokens int) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// brokenCharacterText はキャラクター生成だけJSONにならない応答を返すのだ。
type brokenCharacterText struct {
	fakeText
}

func (b *brokenCharacterText) GenerateText(ctx context.Context, promptText, model string, maxTokens int) (string, error) {
	if strings.Contains(promptText, "JSON array") {
		return "これはJSONではないのだ", nil
	}
	return b.fakeText.GenerateText(ctx, promptText, model, maxTokens)
}

func TestPipeline_SectionOperations(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Pipeline, *domain.BookState, *fakeText) {
		text := &fakeText{}
		p := testPipeline(t, text, &fakeImage{}, &fakeSpeech{})
		state, err := p.Run(ctx, thrillerConfig(), nil)
		if err != nil {
			t.Fatalf("前提となるフル実行に失敗したのだ: %v", err)
		}
		return p, state, text
	}

	t.Run("再生成は置き換えでありエントリ数は増えないこと", func(t *testing.T) {
		p, state, _ := setup(t)
		before := len(state.Sections)
		old := state.Sections["Chapter 2"]

		if _, err := p.RegenerateSection(ctx, thrillerConfig(), state, "Chapter 2"); err != nil {
			t.Fatalf("再生成に失敗したのだ: %v", err)
		}
		if len(state.Sections) != before {
			t.Errorf("エントリ数が変わってしまったのだ: %d -> %d", before, len(state.Sections))
		}
		if state.Sections["Chapter 2"] == old {
			t.Error("本文が置き換わっていないのだ")
		}
		if _, ok := p.Cache().Get(artifactcache.SectionImageKey("Chapter 2")); ok {
			t.Error("古い本文の挿絵キャッシュが残っているのだ")
		}
	})

	t.Run("続きを書くは追記であること", func(t *testing.T) {
		p, state, _ := setup(t)
		old := state.Sections["Chapter 1"]

		if _, err := p.ContinueSection(ctx, thrillerConfig(), state, "Chapter 1"); err != nil {
			t.Fatalf("追記に失敗したのだ: %v", err)
		}
		got := state.Sections["Chapter 1"]
		if !strings.HasPrefix(got, old) || !strings.HasSuffix(got, "続きの本文") {
			t.Errorf("追記になっていないのだ: %q", got)
		}
	})

	t.Run("書き直しは指示必須であること", func(t *testing.T) {
		p, state, _ := setup(t)
		if _, err := p.RewriteSection(ctx, thrillerConfig(), state, "Chapter 1", "  "); err == nil {
			t.Fatal("空の指示でエラーが欲しいのだ")
		}
		if _, err := p.RewriteSection(ctx, thrillerConfig(), state, "Chapter 1", "make it darker"); err != nil {
			t.Fatalf("書き直しに失敗したのだ: %v", err)
		}
		if state.Sections["Chapter 1"] != "書き直された本文" {
			t.Errorf("置き換わっていないのだ: %q", state.Sections["Chapter 1"])
		}
	})

	t.Run("存在しないセクションはErrUnknownSectionになること", func(t *testing.T) {
		p, state, _ := setup(t)
		_, err := p.RegenerateSection(ctx, thrillerConfig(), state, "Chapter 99")
		if !errors.Is(err, ErrUnknownSection) {
			t.Fatalf("ErrUnknownSectionが欲しいのだ: %v", err)
		}
	})

	t.Run("肖像画はキャラクターごとにキャッシュされること", func(t *testing.T) {
		p, state, _ := setup(t)
		image := &fakeImage{}
		p.image = image

		portraits, err := p.IllustrateCharacters(ctx, thrillerConfig(), state)
		if err != nil {
			t.Fatalf("肖像画の生成に失敗したのだ: %v", err)
		}
		if len(portraits) != len(state.Characters) {
			t.Fatalf("肖像画の枚数が人数と一致しないのだ: %d != %d", len(portraits), len(state.Characters))
		}
		for i := range state.Characters {
			if _, ok := p.Cache().Get(artifactcache.CharacterPortraitKey(i)); !ok {
				t.Errorf("%d 人目の肖像画がキャッシュされていないのだ", i)
			}
		}
	})

	t.Run("朗読は2回目がキャッシュから返ること", func(t *testing.T) {
		p, state, _ := setup(t)
		speech := &fakeSpeech{}
		p.speech = speech

		if _, err := p.Narrate(ctx, thrillerConfig(), state, "Chapter 1"); err != nil {
			t.Fatalf("朗読に失敗したのだ: %v", err)
		}
		if _, err := p.Narrate(ctx, thrillerConfig(), state, "Chapter 1"); err != nil {
			t.Fatalf("2回目の朗読に失敗したのだ: %v", err)
		}
		if speech.calls != 1 {
			t.Errorf("キャッシュが効いていないのだ: calls=%d", speech.calls)
		}
	})

	t.Run("全文朗読は並び順どおりに連結されること", func(t *testing.T) {
		p, state, _ := setup(t)
		artifact, err := p.Narrate(ctx, thrillerConfig(), state, "")
		if err != nil {
			t.Fatalf("全文朗読に失敗したのだ: %v", err)
		}
		body := string(artifact.Data)
		fw := strings.Index(body, state.Sections["Foreword"])
		final := strings.Index(body, state.Sections["Final Words"])
		if fw < 0 || final < 0 || fw > final {
			t.Error("連結順が並び順と一致していないのだ")
		}
	})

	t.Run("再生成のあとの全文朗読は古い音声を返さないこと", func(t *testing.T) {
		p, state, _ := setup(t)
		speech := &fakeSpeech{}
		p.speech = speech

		first, err := p.Narrate(ctx, thrillerConfig(), state, "")
		if err != nil {
			t.Fatalf("全文朗読に失敗したのだ: %v", err)
		}
		if _, err := p.RegenerateSection(ctx, thrillerConfig(), state, "Chapter 2"); err != nil {
			t.Fatalf("再生成に失敗したのだ: %v", err)
		}
		second, err := p.Narrate(ctx, thrillerConfig(), state, "")
		if err != nil {
			t.Fatalf("再生成後の全文朗読に失敗したのだ: %v", err)
		}
		if speech.calls != 2 {
			t.Errorf("古い全文音声がキャッシュから返っているのだ: calls=%d", speech.calls)
		}
		if string(second.Data) == string(first.Data) {
			t.Error("再生成後の本文が朗読に反映されていないのだ")
		}
	})

	t.Run("朗読のキャッシュは呼び出し側の書き換えから守られること", func(t *testing.T) {
		p, state, _ := setup(t)
		p.speech = &fakeSpeech{}
		want := state.Sections["Chapter 1"]

		if _, err := p.Narrate(ctx, thrillerConfig(), state, "Chapter 1"); err != nil {
			t.Fatalf("朗読に失敗したのだ: %v", err)
		}
		hit, err := p.Narrate(ctx, thrillerConfig(), state, "Chapter 1")
		if err != nil {
			t.Fatalf("2回目の朗読に失敗したのだ: %v", err)
		}
		hit.Data[0] = 'X'

		again, err := p.Narrate(ctx, thrillerConfig(), state, "Chapter 1")
		if err != nil {
			t.Fatalf("3回目の朗読に失敗したのだ: %v", err)
		}
		if string(again.Data) != want {
			t.Error("キャッシュ本体が呼び出し側の書き換えに巻き込まれているのだ")
		}
	})

	t.Run("Resetでキャッシュと依存状態が消えること", func(t *testing.T) {
		p, state, _ := setup(t)
		p.Reset(state)

		if p.Cache().Len() != 0 {
			t.Errorf("キャッシュが残っているのだ: %d", p.Cache().Len())
		}
		if state.Cover != nil || state.Characters != nil {
			t.Error("キャッシュ由来の状態が残っているのだ")
		}
	})
}
