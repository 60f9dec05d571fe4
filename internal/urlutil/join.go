package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath returns a copy of base with elems appended to its path. The result
// is cleaned, so ".." cannot climb above base's own path. A trailing slash
// on the last element is kept. base's query and fragment are dropped.
func JoinPath(base *url.URL, elems ...string) *url.URL {
	u := *base
	u.RawQuery = ""
	u.Fragment = ""
	u.RawPath = ""

	root := u.Path
	if root == "" {
		root = "/"
	}
	joined := path.Join(append([]string{"/"}, elems...)...)
	u.Path = path.Join(root, joined)

	if len(elems) > 0 && strings.HasSuffix(elems[len(elems)-1], "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &u
}
