package cgi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/raphaelreyna/ez-httpd/pkg/request"
	"github.com/raphaelreyna/ez-httpd/pkg/response"
)

func writeScript(t *testing.T, dir, name, body string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), mode); err != nil {
		t.Fatalf("error while writing script: %s", err)
	}
	return path
}

func TestHandler(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("CGI scripts need /bin/sh")
	}

	type test struct {
		Name           string
		Script         string
		Mode           os.FileMode
		Request        *request.Request
		Body           string
		OutputHandler  OutputHandler
		ExpectedStatus response.StatusCode
		ExpectedOutput []string
		ExpectedErr    error
	}

	tt := []test{
		{
			Name:   "GET with query string",
			Script: `printf 'Content-Type: text/plain\r\n\r\n'; echo "method=$REQUEST_METHOD query=$QUERY_STRING length=${CONTENT_LENGTH-unset}"`,
			Request: &request.Request{
				Method: request.MethodGet, Target: "/s.cgi?x=1", RawPath: "/s.cgi",
				Query: "x=1", HasQuery: true, Header: request.Header{}, ContentLength: -1,
			},
			ExpectedStatus: response.StatusOK,
			ExpectedOutput: []string{"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\n", "method=GET query=x=1 length=unset\n"},
		},
		{
			Name:   "POST body",
			Script: `printf 'Content-Type: text/plain\r\n\r\n'; echo "method=$REQUEST_METHOD length=$CONTENT_LENGTH query=${QUERY_STRING-unset}"; body=$(cat); echo "body=[$body]"`,
			Request: &request.Request{
				Method: request.MethodPost, Target: "/s.cgi", RawPath: "/s.cgi",
				Header: request.Header{}, ContentLength: 5,
			},
			Body:           "helloTRAILING",
			ExpectedStatus: response.StatusOK,
			ExpectedOutput: []string{"method=POST length=5 query=unset\n", "body=[hello]\n"},
		},
		{
			Name:   "Program writes before reading",
			Script: `i=0; while [ $i -lt 2000 ]; do echo "0123456789012345678901234567890123456789"; i=$((i+1)); done; cat > /dev/null; echo done`,
			Request: &request.Request{
				Method: request.MethodPost, Target: "/s.cgi", RawPath: "/s.cgi",
				Header: request.Header{}, ContentLength: 3,
			},
			Body:           "abc",
			ExpectedStatus: response.StatusOK,
			ExpectedOutput: []string{"\ndone\n"},
		},
		{
			Name:   "Parsed headers",
			Script: `echo "Status: 404 Nope"; echo "X-Test: PASS"; echo; echo "missing"`,
			Request: &request.Request{
				Method: request.MethodGet, Header: request.Header{}, ContentLength: -1,
			},
			OutputHandler:  HeaderOutputHandler,
			ExpectedStatus: response.StatusNotFound,
			ExpectedOutput: []string{"HTTP/1.1 404 Not Found\r\n", "X-Test: PASS\r\n", "Content-Type: text/plain\r\n", "\r\n\r\nmissing\n"},
		},
		{
			Name:   "Parsed output without headers",
			Script: `echo "hello world"`,
			Request: &request.Request{
				Method: request.MethodGet, Header: request.Header{}, ContentLength: -1,
			},
			OutputHandler:  HeaderOutputHandler,
			ExpectedStatus: response.StatusOK,
			ExpectedOutput: []string{"HTTP/1.1 200 OK\r\n", "Content-Type: text/plain\r\n", "\r\n\r\nhello world\r\n"},
		},
		{
			Name:   "Parsed output with a long first line",
			Script: `printf '%2000s\n' '' | tr ' ' a`,
			Request: &request.Request{
				Method: request.MethodGet, Header: request.Header{}, ContentLength: -1,
			},
			OutputHandler:  HeaderOutputHandler,
			ExpectedStatus: response.StatusOK,
			ExpectedOutput: []string{"Content-Type: text/plain\r\n", "\r\n\r\n" + strings.Repeat("a", 2000) + "\n"},
		},
		{
			Name:   "Status without a known reason",
			Script: `echo "Status: 403"; echo; echo denied`,
			Request: &request.Request{
				Method: request.MethodGet, Header: request.Header{}, ContentLength: -1,
			},
			OutputHandler:  HeaderOutputHandler,
			ExpectedStatus: 403,
			ExpectedOutput: []string{"HTTP/1.1 403 Forbidden\r\n", "\r\n\r\ndenied\n"},
		},
		{
			Name:   "Location redirects",
			Script: `echo "Location: /elsewhere"; echo`,
			Request: &request.Request{
				Method: request.MethodGet, Header: request.Header{}, ContentLength: -1,
			},
			OutputHandler:  HeaderOutputHandler,
			ExpectedStatus: response.StatusFound,
			ExpectedOutput: []string{"HTTP/1.1 302 Found\r\n", "Location: /elsewhere\r\n"},
		},
		{
			Name:   "Not executable",
			Script: `echo never`,
			Mode:   0644,
			Request: &request.Request{
				Method: request.MethodGet, Header: request.Header{}, ContentLength: -1,
			},
			ExpectedStatus: response.StatusInternalServerError,
			ExpectedOutput: []string{"HTTP/1.1 500 Internal Server Error\r\n"},
			ExpectedErr:    ErrSpawn,
		},
	}

	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			mode := tc.Mode
			if mode == 0 {
				mode = 0755
			}
			path := writeScript(t, t.TempDir(), "s.cgi", tc.Script, mode)

			h := &Handler{
				Logger:        log.New(io.Discard, "", 0),
				OutputHandler: tc.OutputHandler,
			}
			var out bytes.Buffer
			status, err := h.Serve(context.Background(), &out, strings.NewReader(tc.Body), path, tc.Request)

			if tc.ExpectedErr != nil {
				if !errors.Is(err, tc.ExpectedErr) {
					t.Fatalf("wrong error - expected: %v\treceived: %v", tc.ExpectedErr, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status != tc.ExpectedStatus {
				t.Fatalf("wrong status - expected: %d\treceived: %d", tc.ExpectedStatus, status)
			}
			for _, expected := range tc.ExpectedOutput {
				if !strings.Contains(out.String(), expected) {
					t.Fatalf("output is missing %q:\n%s", expected, out.String())
				}
			}
		})
	}
}

func TestHandlerTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("CGI scripts need /bin/sh")
	}

	// sleep runs as a second process holding stdout open
	path := writeScript(t, t.TempDir(), "slow.cgi", "sleep 10\necho late\n", 0755)
	h := &Handler{
		Logger:  log.New(io.Discard, "", 0),
		Timeout: 100 * time.Millisecond,
	}

	start := time.Now()
	var out bytes.Buffer
	req := &request.Request{Method: request.MethodGet, Header: request.Header{}, ContentLength: -1}
	if _, err := h.Serve(context.Background(), &out, strings.NewReader(""), path, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("program was not stopped, took %s", elapsed)
	}
	if strings.Contains(out.String(), "late") {
		t.Fatalf("program ran to completion: %q", out.String())
	}
}

func TestHandlerCancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("CGI scripts need /bin/sh")
	}

	path := writeScript(t, t.TempDir(), "slow.cgi", "echo started\nsleep 10\necho late\n", 0755)
	h := &Handler{Logger: log.New(io.Discard, "", 0)}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	defer cancel()

	start := time.Now()
	var out bytes.Buffer
	req := &request.Request{Method: request.MethodGet, Header: request.Header{}, ContentLength: -1}
	if _, err := h.Serve(ctx, &out, strings.NewReader(""), path, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("program was not stopped, took %s", elapsed)
	}
	if !strings.Contains(out.String(), "started") || strings.Contains(out.String(), "late") {
		t.Fatalf("wrong output: %q", out.String())
	}
}

func TestHandlerDrainsUnreadBody(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("CGI scripts need /bin/sh")
	}

	path := writeScript(t, t.TempDir(), "s.cgi", "echo ignored\n", 0755)
	h := &Handler{Logger: log.New(io.Discard, "", 0)}

	body := strings.NewReader(strings.Repeat("x", 100000))
	req := &request.Request{Method: request.MethodPost, Header: request.Header{}, ContentLength: 100000}
	var out bytes.Buffer
	if _, err := h.Serve(context.Background(), &out, body, path, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Len() != 0 {
		t.Fatalf("%d bytes of body left unread", body.Len())
	}
}

func TestHandlerStalledBody(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("CGI scripts need /bin/sh")
	}

	path := writeScript(t, t.TempDir(), "s.cgi", "echo hi\n", 0755)
	h := &Handler{
		Logger:  log.New(io.Discard, "", 0),
		Timeout: 200 * time.Millisecond,
	}

	// the client announces a body it never sends
	body, client := net.Pipe()
	defer body.Close()
	defer client.Close()

	start := time.Now()
	req := &request.Request{Method: request.MethodPost, Header: request.Header{}, ContentLength: 10}
	var out bytes.Buffer
	if _, err := h.Serve(context.Background(), &out, body, path, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("body read was not interrupted, took %s", elapsed)
	}
	if !strings.Contains(out.String(), "hi\n") {
		t.Fatalf("wrong output: %q", out.String())
	}
}

func TestEnv(t *testing.T) {
	h := &Handler{
		Name:       "test-server",
		Port:       "1234",
		InheritEnv: []string{"EXTRA=1", "PATH=/custom/bin"},
	}
	req := &request.Request{
		Method:        request.MethodPost,
		Version:       "HTTP/1.1",
		Target:        "/a%20b.cgi?q",
		RawPath:       "/a%20b.cgi",
		Header:        request.Header{"host": "example.com:1234", "content-type": "text/plain", "x-forwarded-for": "10.0.0.1", "proxy": "evil"},
		ContentLength: 5,
		RemoteAddr:    "127.0.0.1:5555",
	}

	env := map[string]string{}
	for _, kv := range h.env(req, "/srv/a b.cgi") {
		k, v, _ := strings.Cut(kv, "=")
		if _, dup := env[k]; dup {
			t.Fatalf("duplicate variable %s", k)
		}
		env[k] = v
	}

	expected := map[string]string{
		"REQUEST_METHOD":       "POST",
		"CONTENT_LENGTH":       "5",
		"CONTENT_TYPE":         "text/plain",
		"SCRIPT_NAME":          "/a%20b.cgi",
		"SCRIPT_FILENAME":      "/srv/a b.cgi",
		"REQUEST_URI":          "/a%20b.cgi?q",
		"SERVER_SOFTWARE":      "test-server",
		"SERVER_PROTOCOL":      "HTTP/1.1",
		"SERVER_PORT":          "1234",
		"SERVER_NAME":          "example.com",
		"REMOTE_ADDR":          "127.0.0.1",
		"REMOTE_PORT":          "5555",
		"HTTP_X_FORWARDED_FOR": "10.0.0.1",
		"GATEWAY_INTERFACE":    "CGI/1.1",
		"EXTRA":                "1",
		"PATH":                 "/custom/bin",
	}
	for k, v := range expected {
		if env[k] != v {
			t.Fatalf("wrong %s - expected: %q\treceived: %q", k, v, env[k])
		}
	}
	if _, ok := env["QUERY_STRING"]; ok {
		t.Fatal("QUERY_STRING set for POST")
	}
	if _, ok := env["HTTP_PROXY"]; ok {
		t.Fatal("HTTP_PROXY must never be passed on")
	}
}

func TestRemoveLeadingDuplicates(t *testing.T) {
	in := []string{"A=1", "B=2", "A=3", "C", "B=4"}
	expected := []string{"A=3", "C", "B=4"}
	received := removeLeadingDuplicates(in)
	if strings.Join(received, ",") != strings.Join(expected, ",") {
		t.Fatalf("expected: %v\treceived: %v", expected, received)
	}
}
