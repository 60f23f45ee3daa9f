package server

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelreyna/ez-httpd/pkg/request"
)

type route int

const (
	routeBadMethod route = iota
	routeNotFound
	routeDirectory
	routeCGI
	routeStatic
)

func (r route) String() string {
	switch r {
	case routeBadMethod:
		return "bad-method"
	case routeNotFound:
		return "not-found"
	case routeDirectory:
		return "directory"
	case routeCGI:
		return "cgi"
	}
	return "static"
}

// anyExec is the owner, group and other executable bits.
const anyExec = 0111

// routeRequest decides how req is answered. fsPath is the resolved
// filesystem path; the returned path is the one to serve, which differs when
// a missing index file falls back to its directory. Unsupported methods are
// turned away before the filesystem is touched.
func routeRequest(req *request.Request, fsPath, index string) (route, string, os.FileInfo) {
	if req.Method == request.MethodUnsupported {
		return routeBadMethod, fsPath, nil
	}

	info, err := os.Stat(fsPath)
	if err != nil && index != "" && wantsIndex(req.Path) && filepath.Base(fsPath) == index {
		fsPath = filepath.Dir(fsPath)
		info, err = os.Stat(fsPath)
	}
	if err != nil {
		return routeNotFound, fsPath, nil
	}

	mode := info.Mode()
	switch {
	case mode.IsDir():
		return routeDirectory, fsPath, info
	case !mode.IsRegular():
		return routeNotFound, fsPath, info
	case req.Method == request.MethodPost, req.HasQuery, mode.Perm()&anyExec != 0:
		return routeCGI, fsPath, info
	}
	return routeStatic, fsPath, info
}

func wantsIndex(p string) bool {
	return p == "" || strings.HasSuffix(p, "/")
}
