package request

import (
	"path"
	"path/filepath"
	"strings"
)

// DefaultIndex is served for paths that name a directory with a trailing slash.
const DefaultIndex = "index.html"

// Unescape decodes %XX escapes. Malformed escapes are kept as they are and
// '+' is left alone.
func Unescape(s string) string {
	if strings.IndexByte(s, '%') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	}
	return c - 'A' + 10
}

// Resolve maps a decoded request path onto the filesystem below root.
// An empty path or one ending in '/' gets index appended.
//
// Without confine the path is joined as-is, so ".." segments can walk out of
// root. With confine the path is first cleaned as an absolute URL path, which
// pins it below root.
func Resolve(root, p, index string, confine bool) string {
	wantIndex := p == "" || strings.HasSuffix(p, "/")

	if confine {
		p = path.Clean("/" + p)
	} else {
		p = "/" + strings.TrimPrefix(p, "/")
	}

	full := strings.TrimRight(root, "/") + filepath.FromSlash(p)
	if wantIndex && index != "" {
		full = filepath.Join(full, index)
	}
	return full
}
