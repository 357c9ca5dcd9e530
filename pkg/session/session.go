// Package session は実行途中の書籍生成状態の保存と復元を提供するのだ。
//
// 保存形式は単一のJSONドキュメントで、本文とアウトラインに加えて
// 生成済み成果物のキャッシュも丸ごと持ち歩くのだ。画像や音声のバイト列は
// encoding/json の標準挙動で base64 として永続化されるのだよ。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/shouni/go-remote-io/pkg/remoteio"

	"github.com/shouni/go-novel-kit/pkg/artifactcache"
	"github.com/shouni/go-novel-kit/pkg/domain"
)

// ErrNotFound はセッションファイルが存在しないことを表すのだ。
// 初回実行では正常系なので、呼び出し側は errors.Is で拾って新規開始に倒すのだ。
var ErrNotFound = errors.New("セッションファイルが見つかりません")

// Snapshot はディスクに書き出すセッションの全体像です。
// フィールド名は再開時の互換性を保つため安易に変えてはいけません。
type Snapshot struct {
	Title        string                      `json:"title,omitempty"`
	Outline      string                      `json:"outline"`
	Sections     map[string]string           `json:"book"`
	ChapterOrder []string                    `json:"chapter_order"`
	Characters   []domain.CharacterRecord    `json:"characters,omitempty"`
	Cover        *domain.Artifact            `json:"cover,omitempty"`
	ImageCache   map[string]*domain.Artifact `json:"image_cache,omitempty"`
}

// Store はセッションJSONの読み書きを担うのだ。
// パスにGCS URIを渡せばそのままクラウド側へ保存されるのだ。
type Store struct {
	reader remoteio.InputReader
	writer remoteio.OutputWriter
	path   string
}

// NewStore は新しい Store を生成して返すのだ。
func NewStore(reader remoteio.InputReader, writer remoteio.OutputWriter, path string) *Store {
	return &Store{reader: reader, writer: writer, path: path}
}

// Path は保存先のパスを返します。
func (s *Store) Path() string { return s.path }

// Save は現在の書籍状態とキャッシュを1つのJSONとして書き出すのだ。
// 書き込みは全量置き換えで、部分更新はしないのだ。
func (s *Store) Save(ctx context.Context, state *domain.BookState, cache *artifactcache.ArtifactCache) error {
	snapshot := Snapshot{
		Title:        state.Title,
		Outline:      state.Outline,
		Sections:     state.Sections,
		ChapterOrder: state.ChapterOrder,
		Characters:   state.Characters,
		Cover:        state.Cover,
	}
	if cache != nil {
		snapshot.ImageCache = cache.Export()
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("セッションのJSON化に失敗しました: %w", err)
	}

	if err := s.writer.Write(ctx, s.path, strings.NewReader(string(payload)), "application/json; charset=utf-8"); err != nil {
		return fmt.Errorf("セッションファイルの書き込みに失敗しました (%s): %w", s.path, err)
	}

	slog.InfoContext(ctx, "セッションを保存したのだ", "path", s.path, "sections", len(snapshot.Sections))
	return nil
}

// Load は保存済みセッションを読み込んで書籍状態とキャッシュを復元するのだ。
// ファイルが無い場合は ErrNotFound を返すのだ。
func (s *Store) Load(ctx context.Context) (*domain.BookState, *artifactcache.ArtifactCache, error) {
	rc, err := s.reader.Open(ctx, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w (%s)", ErrNotFound, s.path)
		}
		return nil, nil, fmt.Errorf("セッションファイルのオープンに失敗しました (%s): %w", s.path, err)
	}
	defer rc.Close()

	payload, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("セッションファイルの読み込みに失敗しました (%s): %w", s.path, err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, nil, &domain.ParseError{What: "セッションJSON", Err: err}
	}

	state := &domain.BookState{
		Title:        snapshot.Title,
		Outline:      snapshot.Outline,
		Sections:     snapshot.Sections,
		ChapterOrder: snapshot.ChapterOrder,
		Characters:   snapshot.Characters,
		Cover:        snapshot.Cover,
	}
	if state.Sections == nil {
		state.Sections = make(map[string]string)
	}

	cache := artifactcache.New()
	cache.Load(snapshot.ImageCache)

	slog.InfoContext(ctx, "セッションを復元したのだ",
		"path", s.path,
		"sections", len(state.Sections),
		"cached", cache.Len(),
	)
	return state, cache, nil
}
