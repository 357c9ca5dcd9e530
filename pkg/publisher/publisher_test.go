package publisher

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/shouni/go-novel-kit/pkg/artifactcache"
	"github.com/shouni/go-novel-kit/pkg/domain"
)

// memoryWriter は書き込み先をメモリに受けるテスト用実装なのだ。
type memoryWriter struct {
	files map[string][]byte
}

func newMemoryWriter() *memoryWriter {
	return &memoryWriter{files: make(map[string][]byte)}
}

func (m *memoryWriter) Write(ctx context.Context, path string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.files[path] = data
	return nil
}

func (m *memoryWriter) WriteToGCS(ctx context.Context, bucketName, objectPath string, contentReader io.Reader, contentType string) error {
	return m.Write(ctx, bucketName+"/"+objectPath, contentReader, contentType)
}

func (m *memoryWriter) WriteToS3(ctx context.Context, bucketName, objectPath string, contentReader io.Reader, contentType string) error {
	return m.Write(ctx, bucketName+"/"+objectPath, contentReader, contentType)
}

func (m *memoryWriter) WriteToLocal(ctx context.Context, path string, contentReader io.Reader) error {
	return m.Write(ctx, path, contentReader, "")
}

func publishedState() (*domain.BookState, *artifactcache.ArtifactCache) {
	state := domain.NewBookState()
	state.Title = "鋼鉄の探偵"
	state.ChapterOrder = domain.SectionIDs(1)
	state.SetSection("Foreword", "前書きの本文")
	state.SetSection("Introduction", "導入の本文")
	state.SetSection("Chapter 1", "第一章の本文")
	state.SetSection("Final Words", "結びの本文")
	state.Characters = []domain.CharacterRecord{{Name: "アヤ", Role: "探偵"}}

	cache := artifactcache.New()
	cache.Put(artifactcache.CoverKey(), &domain.Artifact{Kind: domain.ArtifactImage, Data: []byte("png-bytes")})
	cache.Put(artifactcache.SectionImageKey("Chapter 1"), &domain.Artifact{
		Kind: domain.ArtifactImage,
		URL:  "https://example.com/ch1.png",
	})
	return state, cache
}

func TestBookPublisher_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("Markdownと画像が書き出されること", func(t *testing.T) {
		writer := newMemoryWriter()
		p := NewBookPublisher(writer, nil)
		state, cache := publishedState()

		result, err := p.Publish(ctx, state, cache, Options{OutputDir: "output"})
		if err != nil {
			t.Fatalf("エラーは不要なのだ: %v", err)
		}

		content, ok := writer.files[result.MarkdownPath]
		if !ok {
			t.Fatalf("Markdownが書き出されていないのだ: %v", result.MarkdownPath)
		}
		md := string(content)

		for _, want := range []string{
			"# 鋼鉄の探偵",
			"## Chapter 1",
			"第一章の本文",
			"![cover](images/cover.png)",
			"![Chapter 1](https://example.com/ch1.png)",
			"### アヤ",
		} {
			if !strings.Contains(md, want) {
				t.Errorf("%q が含まれていないのだ:\n%s", want, md)
			}
		}

		// バイト列を持つのは表紙だけなので保存画像は1枚のはずなのだ
		if len(result.ImagePaths) != 1 {
			t.Errorf("保存画像の数が違うのだ: %v", result.ImagePaths)
		}
	})

	t.Run("肖像画はキャラクターの見出しの下に埋め込まれること", func(t *testing.T) {
		writer := newMemoryWriter()
		p := NewBookPublisher(writer, nil)
		state, cache := publishedState()
		cache.Put(artifactcache.CharacterPortraitKey(0), &domain.Artifact{
			Kind: domain.ArtifactImage,
			Data: []byte("portrait-bytes"),
		})

		result, err := p.Publish(ctx, state, cache, Options{OutputDir: "output"})
		if err != nil {
			t.Fatalf("エラーは不要なのだ: %v", err)
		}
		md := string(writer.files[result.MarkdownPath])

		if !strings.Contains(md, "![アヤ](images/character_1.png)") {
			t.Errorf("肖像画の参照が無いのだ:\n%s", md)
		}
		// 表紙と肖像画の2枚が保存されるはずなのだ
		if len(result.ImagePaths) != 2 {
			t.Errorf("保存画像の数が違うのだ: %v", result.ImagePaths)
		}
	})

	t.Run("セクションは並び順どおりに出力されること", func(t *testing.T) {
		writer := newMemoryWriter()
		p := NewBookPublisher(writer, nil)
		state, cache := publishedState()

		result, err := p.Publish(ctx, state, cache, Options{OutputDir: "output"})
		if err != nil {
			t.Fatalf("エラーは不要なのだ: %v", err)
		}
		md := string(writer.files[result.MarkdownPath])

		fw := strings.Index(md, "## Foreword")
		ch := strings.Index(md, "## Chapter 1")
		final := strings.Index(md, "## Final Words")
		if !(fw < ch && ch < final) {
			t.Errorf("見出しの順序が崩れているのだ: %d %d %d", fw, ch, final)
		}
	})

	t.Run("音声つきならキャッシュ済み音声も書き出されること", func(t *testing.T) {
		writer := newMemoryWriter()
		p := NewBookPublisher(writer, nil)
		state, cache := publishedState()
		cache.Put(artifactcache.BookAudioKey(), &domain.Artifact{
			Kind:     domain.ArtifactAudio,
			Data:     []byte("mp3-bytes"),
			MimeType: "audio/mpeg",
		})

		result, err := p.Publish(ctx, state, cache, Options{OutputDir: "output", WithAudio: true})
		if err != nil {
			t.Fatalf("エラーは不要なのだ: %v", err)
		}
		if len(result.AudioPaths) != 1 || !strings.HasSuffix(result.AudioPaths[0], "book.mp3") {
			t.Errorf("音声の書き出しが違うのだ: %v", result.AudioPaths)
		}
	})
}

func TestResolveOutputPath(t *testing.T) {
	tests := []struct {
		name    string
		baseDir string
		file    string
		want    string
	}{
		{"ローカルパス", "output", "book.md", "output/book.md"},
		{"GCS URI", "gs://bucket/books", "book.md", "gs://bucket/books/book.md"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveOutputPath(tt.baseDir, tt.file)
			if err != nil {
				t.Fatalf("エラーは不要なのだ: %v", err)
			}
			if got != tt.want {
				t.Errorf("パスが違うのだ: got=%q want=%q", got, tt.want)
			}
		})
	}
}

func TestSectionFileName(t *testing.T) {
	if got := sectionFileName("Chapter 1"); got != "chapter_1" {
		t.Errorf("ファイル名の変換が違うのだ: %q", got)
	}
	if got := sectionFileName("Final Words"); got != "final_words" {
		t.Errorf("ファイル名の変換が違うのだ: %q", got)
	}
}
