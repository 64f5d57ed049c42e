package ctrfs

import (
	"path"
	"strings"
)

// canonicalPath resolves p against base (the current directory) and
// normalizes it: forward-slash separated, starting with "/", with "."/".."
// segments resolved and no trailing slash except for root itself.
func canonicalPath(base, p string) (string, error) {
	if p == "" {
		return "", fErr(KindInvalid, "%w: empty path", ErrInvalidPath)
	}
	if !strings.HasPrefix(p, "/") {
		p = path.Join(base, p)
	}
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p, nil
}

// normKey is the case-insensitive map key canonical paths are stored under;
// Name/Path fields on the entries themselves keep the case they were written
// with.
func normKey(p string) string {
	return strings.ToLower(p)
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}
