package artifact

import "github.com/bmatcuk/doublestar/v4"

// artifactAllowed reports whether relPath should be registered into the
// manifest's artifacts list when reported via an artifact.written
// event: allowed if it matches an allow pattern (or no allow list is
// configured) and does not match any deny pattern.
func artifactAllowed(relPath string, allow, deny []string) bool {
	for _, pattern := range deny {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return false
		}
	}
	if len(allow) == 0 {
		return true
	}
	for _, pattern := range allow {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}
