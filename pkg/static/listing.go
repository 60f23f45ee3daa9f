package static

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"

	"github.com/raphaelreyna/ez-httpd/pkg/response"
)

const (
	listingHeader = "<html><head><style>" +
		"body{font-family: monaco;font-size: 15px;}" +
		"td {padding: 1.5px 6px;}" +
		"</style></head><body><table>\n"
	listingFooter = "</table></body></html>"

	timeLayout = "2006-01-02 15:04"
)

// FormatSize renders a listing size: "[DIR]" for directories, plain bytes
// under 1K, otherwise one decimal place of K, M or G.
func FormatSize(info os.FileInfo) string {
	if info.IsDir() {
		return "[DIR]"
	}
	size := info.Size()
	switch {
	case size < 1024:
		return fmt.Sprintf("%d", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1fK", float64(size)/1024)
	case size < 1024*1024*1024:
		return fmt.Sprintf("%.1fM", float64(size)/1024/1024)
	}
	return fmt.Sprintf("%.1fG", float64(size)/1024/1024/1024)
}

// Dir sends an HTML table of the entries in the directory at path, in the
// order the filesystem returns them. Only regular files and directories are
// listed. With escape set entry names are HTML-escaped.
func Dir(w io.Writer, path string, escape bool) (response.StatusCode, error) {
	d, err := os.Open(path)
	if err != nil {
		return response.StatusNotFound, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer d.Close()

	entries, err := d.ReadDir(-1)
	if err != nil {
		return response.StatusNotFound, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var body bytes.Buffer
	body.WriteString(listingHeader)
	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		info, err := os.Stat(filepath.Join(path, name))
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			continue
		}

		if escape {
			name = html.EscapeString(name)
		}
		suffix := ""
		if info.IsDir() {
			suffix = "/"
		}
		fmt.Fprintf(&body, "<tr><td><a href=\"%s%s\">%s%s</a></td><td>%s</td><td>%s</td></tr>\n",
			name, suffix, name, suffix,
			info.ModTime().Local().Format(timeLayout),
			FormatSize(info))
	}
	body.WriteString(listingFooter)

	head := response.NewHead(response.StatusOK).
		With("Cache-Control", "no-cache").
		WithLength(int64(body.Len())).
		With("Content-Type", "text/html")
	if err := response.WriteAll(w, append(head.Bytes(), body.Bytes()...)); err != nil {
		return head.Status, err
	}
	return head.Status, nil
}
