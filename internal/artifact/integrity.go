package artifact

import (
	"encoding/hex"
	"os"

	"github.com/zeebo/blake3"
)

// blake3HexFile returns the lowercase hex BLAKE3 digest of path's
// current contents, used as a fast integrity fingerprint alongside the
// spec-mandated SHA-256 content hashes (plan_sha256, config_sha256,
// embed_text_sha256), which BLAKE3 never substitutes for.
func blake3HexFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	h := blake3.New()
	if _, err := h.Write(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
