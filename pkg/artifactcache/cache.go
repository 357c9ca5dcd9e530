// Package artifactcache は生成済み成果物のキー・バリュー保管庫を提供するのだ。
//
// パイプラインは外部APIの呼び出しが高価なので、一度生成した本文や画像は
// ここに保管して再実行時の呼び直しを避けるのだ。エントリに有効期限はなく、
// Clear で明示的に破棄されるまで生き続けるのだよ。
package artifactcache

import (
	"fmt"

	gocache "github.com/patrickmn/go-cache"

	"github.com/shouni/go-novel-kit/pkg/domain"
)

// ArtifactCache は成果物の無期限キャッシュなのだ。
// 同一キーへの Put は常に上書きで、追記の概念はないのだ。
type ArtifactCache struct {
	store *gocache.Cache
}

// New は空の ArtifactCache を生成して返すのだ。
func New() *ArtifactCache {
	return &ArtifactCache{
		store: gocache.New(gocache.NoExpiration, 0),
	}
}

// Get はキーに対応する成果物を返します。
// 見つからない場合は ok=false を返すだけで、エラーではありません。
func (c *ArtifactCache) Get(key string) (*domain.Artifact, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	artifact, ok := v.(*domain.Artifact)
	if !ok {
		return nil, false
	}
	return artifact, true
}

// Put はキーに成果物を保存するのだ。既存のエントリは黙って上書きなのだ。
func (c *ArtifactCache) Put(key string, artifact *domain.Artifact) {
	c.store.Set(key, artifact, gocache.NoExpiration)
}

// Delete はキーのエントリを削除します。存在しないキーは無視します。
func (c *ArtifactCache) Delete(key string) {
	c.store.Delete(key)
}

// Clear は全エントリを破棄して初期状態に戻すのだ。
func (c *ArtifactCache) Clear() {
	c.store.Flush()
}

// Len は現在のエントリ数を返します。
func (c *ArtifactCache) Len() int {
	return c.store.ItemCount()
}

// Export はセッション保存用に全エントリをスナップショットとして取り出すのだ。
// 返すマップは複製なので、呼び出し側が書き換えてもキャッシュ本体には影響しないのだ。
func (c *ArtifactCache) Export() map[string]*domain.Artifact {
	items := c.store.Items()
	out := make(map[string]*domain.Artifact, len(items))
	for key, item := range items {
		if artifact, ok := item.Object.(*domain.Artifact); ok {
			cp := artifact.Clone()
			out[key] = &cp
		}
	}
	return out
}

// Load はセッション復元時にエントリを一括投入するのだ。既存エントリは上書きなのだ。
func (c *ArtifactCache) Load(items map[string]*domain.Artifact) {
	for key, artifact := range items {
		if artifact == nil {
			continue
		}
		cp := artifact.Clone()
		c.store.Set(key, &cp, gocache.NoExpiration)
	}
}

// キャッシュキーは "種別:識別子:成果物種" の形で組み立てるのだ。
// 生文字列の組み立てを散らばらせると表記ゆれで取り逃すのだ。

// SectionTextKey はセクション本文のキャッシュキーを返します。
func SectionTextKey(sectionID string) string {
	return fmt.Sprintf("section:%s:text", sectionID)
}

// SectionImageKey はセクション挿絵のキャッシュキーを返します。
func SectionImageKey(sectionID string) string {
	return fmt.Sprintf("section:%s:image", sectionID)
}

// SectionAudioKey はセクション朗読音声のキャッシュキーを返します。
func SectionAudioKey(sectionID string) string {
	return fmt.Sprintf("section:%s:audio", sectionID)
}

// CoverKey は表紙画像のキャッシュキーを返します。
func CoverKey() string {
	return "cover:image"
}

// CharacterPortraitKey は登場人物の肖像画のキャッシュキーを返します。
func CharacterPortraitKey(index int) string {
	return fmt.Sprintf("character:%d:image", index)
}

// BookAudioKey は全編朗読音声のキャッシュキーを返します。
func BookAudioKey() string {
	return "book:audio"
}

// OutlineKey はアウトライン本文のキャッシュキーを返します。
func OutlineKey() string {
	return "outline:text"
}
