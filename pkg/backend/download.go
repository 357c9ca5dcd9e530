package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// 画像1枚あたりのダウンロード上限なのだ。
const maxArtifactBytes = 32 << 20

// FetchArtifactData はURL参照の成果物から実データを取得するのだ。
// バックエンドの返すURLには寿命があるので、保存したい場合は早めに呼ぶのだよ。
func FetchArtifactData(ctx context.Context, httpClient Doer, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("リクエストの組み立てに失敗しました: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("成果物のダウンロードに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &UpstreamError{
			Backend:    "artifact",
			StatusCode: resp.StatusCode,
			Message:    "成果物URLの取得に失敗しました（URLの有効期限切れの可能性があります）",
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes))
	if err != nil {
		return nil, "", fmt.Errorf("成果物の読み込みに失敗しました: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
