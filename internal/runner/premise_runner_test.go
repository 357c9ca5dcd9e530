package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/shouni/go-novel-kit/internal/config"
)

type fakeReader struct {
	files map[string]string
}

func (f *fakeReader) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	content, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, fs.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader([]byte(content))), nil
}

func TestBookPremiseRunner_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("フラグ指定が最優先であること", func(t *testing.T) {
		pr := NewBookPremiseRunner(config.GenerateOptions{
			Premise:     "  A detective hunts a rogue AI  ",
			PremiseFile: "unused.txt",
		}, nil, &fakeReader{})

		got, err := pr.Run(ctx)
		if err != nil {
			t.Fatalf("エラーは不要なのだ: %v", err)
		}
		if got != "A detective hunts a rogue AI" {
			t.Errorf("前提が違うのだ: %q", got)
		}
	})

	t.Run("ファイルから読み込めること", func(t *testing.T) {
		reader := &fakeReader{files: map[string]string{"idea.txt": "廃墟都市の物語\n"}}
		pr := NewBookPremiseRunner(config.GenerateOptions{PremiseFile: "idea.txt"}, nil, reader)

		got, err := pr.Run(ctx)
		if err != nil {
			t.Fatalf("エラーは不要なのだ: %v", err)
		}
		if got != "廃墟都市の物語" {
			t.Errorf("前提が違うのだ: %q", got)
		}
	})

	t.Run("長すぎる入力は上限で切り詰められること", func(t *testing.T) {
		long := strings.Repeat("あ", premiseMaxRunes+500)
		reader := &fakeReader{files: map[string]string{"long.txt": long}}
		pr := NewBookPremiseRunner(config.GenerateOptions{PremiseFile: "long.txt"}, nil, reader)

		got, err := pr.Run(ctx)
		if err != nil {
			t.Fatalf("エラーは不要なのだ: %v", err)
		}
		if n := len([]rune(got)); n != premiseMaxRunes {
			t.Errorf("切り詰めが効いていないのだ: len=%d", n)
		}
	})

	t.Run("入力ソースが無ければエラーになること", func(t *testing.T) {
		pr := NewBookPremiseRunner(config.GenerateOptions{}, nil, &fakeReader{})
		if _, err := pr.Run(ctx); err == nil {
			t.Fatal("エラーが欲しいのだ")
		}
	})
}
