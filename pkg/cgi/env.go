// A lot of this code is copied from the Go standard library: https://golang.org/src/net/http/cgi/host.go
package cgi

import (
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/raphaelreyna/ez-httpd/pkg/request"
)

var osDefaultInheritEnv = map[string][]string{
	"darwin":  {"DYLD_LIBRARY_PATH"},
	"freebsd": {"LD_LIBRARY_PATH"},
	"hpux":    {"LD_LIBRARY_PATH", "SHLIB_PATH"},
	"irix":    {"LD_LIBRARY_PATH", "LD_LIBRARYN32_PATH", "LD_LIBRARY64_PATH"},
	"linux":   {"LD_LIBRARY_PATH"},
	"openbsd": {"LD_LIBRARY_PATH"},
	"solaris": {"LD_LIBRARY_PATH", "LD_LIBRARY_PATH_32", "LD_LIBRARY_PATH_64"},
	"windows": {"SystemRoot", "COMSPEC", "PATHEXT", "WINDIR"},
}

// env builds the program's environment. GET requests get QUERY_STRING,
// POST requests get CONTENT_LENGTH; SCRIPT_NAME and QUERY_STRING carry the
// request path and query exactly as they arrived.
func (h *Handler) env(req *request.Request, path string) []string {
	name := h.Name
	if name == "" {
		name = "ez-httpd"
	}
	proto := req.Version
	if proto == "" {
		proto = "HTTP/1.0"
	}

	env := []string{
		"SERVER_SOFTWARE=" + name,
		"SERVER_PROTOCOL=" + proto,
		"GATEWAY_INTERFACE=CGI/1.1",
		"REQUEST_METHOD=" + req.Method.String(),
		"REQUEST_URI=" + req.Target,
		"SCRIPT_NAME=" + req.RawPath,
		"SCRIPT_FILENAME=" + path,
	}

	if h.Port != "" {
		env = append(env, "SERVER_PORT="+h.Port)
	}
	if host := req.Header.Get("Host"); host != "" {
		if hostname, _, err := net.SplitHostPort(host); err == nil {
			host = hostname
		}
		env = append(env, "SERVER_NAME="+host)
	}

	if remoteIP, remotePort, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		env = append(env, "REMOTE_ADDR="+remoteIP, "REMOTE_HOST="+remoteIP, "REMOTE_PORT="+remotePort)
	} else if req.RemoteAddr != "" {
		env = append(env, "REMOTE_ADDR="+req.RemoteAddr, "REMOTE_HOST="+req.RemoteAddr)
	}

	for k, v := range req.Header {
		k = strings.Map(upperCaseAndUnderscore, k)
		if k == "PROXY" {
			continue
		}
		env = append(env, "HTTP_"+k+"="+v)
	}

	switch req.Method {
	case request.MethodGet:
		env = append(env, "QUERY_STRING="+req.Query)
	case request.MethodPost:
		env = append(env, "CONTENT_LENGTH="+strconv.FormatInt(req.ContentLength, 10))
		if ctype := req.Header.Get("Content-Type"); ctype != "" {
			env = append(env, "CONTENT_TYPE="+ctype)
		}
	}

	envPath := os.Getenv("PATH")
	if envPath == "" {
		envPath = "/bin:/usr/bin:/usr/ucb:/usr/bsd:/usr/local/bin"
	}
	env = append(env, "PATH="+envPath)

	for _, e := range osDefaultInheritEnv[runtime.GOOS] {
		if v := os.Getenv(e); v != "" {
			env = append(env, e+"="+v)
		}
	}

	for _, e := range h.InheritEnv {
		if strings.IndexByte(e, '=') > 0 {
			env = append(env, e)
			continue
		}
		if v := os.Getenv(e); v != "" {
			env = append(env, e+"="+v)
		}
	}

	return removeLeadingDuplicates(env)
}

// removeLeadingDuplicates drops every KEY=... that is set again later on.
func removeLeadingDuplicates(env []string) (ret []string) {
	for i, e := range env {
		found := false
		if eq := strings.IndexByte(e, '='); eq != -1 {
			keq := e[:eq+1]
			for _, e2 := range env[i+1:] {
				if strings.HasPrefix(e2, keq) {
					found = true
					break
				}
			}
		}
		if !found {
			ret = append(ret, e)
		}
	}
	return
}

func upperCaseAndUnderscore(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z':
		return r - ('a' - 'A')
	case r == '-':
		return '_'
	case r == '=':
		// The environment is a slice of "key=value" strings.
		return '_'
	}
	return r
}
