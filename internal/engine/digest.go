// internal/engine/digest.go
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/Corphon/SceneForge/internal/models"
)

// SessionDigest 会话的 RFC 8785 规范化 JSON 的 sha256 摘要，用作 ETag。
// 内容相同的会话摘要相同，和键顺序无关。
func SessionDigest(sc *models.SessionContext) (string, error) {
	data, err := json.Marshal(sc)
	if err != nil {
		return "", fmt.Errorf("序列化会话失败: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("规范化会话失败: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
