package domain

// ArtifactKind は成果物の種別を表します。
type ArtifactKind string

const (
	ArtifactText  ArtifactKind = "text"
	ArtifactImage ArtifactKind = "image"
	ArtifactAudio ArtifactKind = "audio"
)

// Artifact は生成された成果物（テキスト・画像・音声）への参照です。
// バックエンドが恒久URLを返す場合は URL、生バイト列を返す場合は Data を持ちます。
// Data は JSON 化の際に base64 へエンコードされます。
type Artifact struct {
	Kind     ArtifactKind `json:"kind"`
	URL      string       `json:"url,omitempty"`
	Data     []byte       `json:"data,omitempty"`
	MimeType string       `json:"mime_type,omitempty"`
	Text     string       `json:"text,omitempty"`
}

// IsZero は中身のない成果物かどうかを返します。
func (a Artifact) IsZero() bool {
	return a.URL == "" && len(a.Data) == 0 && a.Text == ""
}

// Clone は Data スライスまで複製した防御的コピーを返すのだ。
func (a Artifact) Clone() Artifact {
	cp := a
	if a.Data != nil {
		cp.Data = make([]byte, len(a.Data))
		copy(cp.Data, a.Data)
	}
	return cp
}
