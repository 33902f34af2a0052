package safety

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// CachePath returns where the archive fetched from u is kept under dir.
func CachePath(dir string, u *url.URL) (string, error) {
	return JoinUnder(dir, CacheFileName(u))
}

// JoinUnder joins the slash-separated relative name under root and returns
// an absolute path. Names that are empty, absolute, or climb out of root
// are rejected.
func JoinUnder(root, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("path is empty")
	}
	local := filepath.FromSlash(name)
	if filepath.IsAbs(local) || filepath.VolumeName(local) != "" {
		return "", fmt.Errorf("absolute paths are not allowed: %q", name)
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	joined := filepath.Join(rootAbs, local)
	rel, err := filepath.Rel(rootAbs, joined)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %s", name, root)
	}
	return joined, nil
}

// CacheFileName derives a flat, collision-resistant file name for a fetched
// URL: a short hash of the full URL followed by the last path segment.
func CacheFileName(u *url.URL) string {
	sum := sha256.Sum256([]byte(u.String()))
	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		base = "archive.jar"
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if strings.Trim(base, ".") == "" {
		base = "archive.jar"
	}
	return hex.EncodeToString(sum[:6]) + "-" + base
}
