package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/raphaelreyna/ez-httpd/pkg/server"
)

var version string

var (
	noError   bool
	noAccess  bool
	port      string
	root      string
	index     string
	confine   bool
	serial    bool
	maxConns  int
	cgiHeader bool

	readTimeout  time.Duration
	writeTimeout time.Duration
	cgiTimeout   time.Duration

	envVars []string
	stderr  string
)

var RootCmd = &cobra.Command{
	Use:     "ez-httpd [flags]... [root] [port]",
	Version: version,
	Short:   "A tiny static file and CGI HTTP server.",
	Long: `Serve the files below root over HTTP/1.x, one request per connection.
Files with an executable bit, any request with a query string and every POST
are run as CGI programs. Directories without an index.html are listed.

A single numeric argument is taken as the port.
`,
	Args: cobra.MaximumNArgs(2),
	RunE: run,
}

func SetFlags() {
	bindFlags(RootCmd.Flags())
}

func bindFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&port, "port", "p", "1234", "Port to bind to.")
	flags.StringVarP(&root, "root", "d", "", `Document root.
Defaults to where ez-httpd was called.`,
	)
	flags.StringVar(&index, "index", "index.html", "File served for paths ending in '/'.")

	flags.BoolVarP(&noError, "quiet", "q", false, `Don't show error messages.`)
	flags.BoolVar(&noAccess, "no-access-log", false, `Don't log one line per request.`)

	flags.BoolVar(&confine, "confine", true, `Keep request paths inside the document root and HTML-escape listed names.
Set --confine=false to join paths to the root verbatim.`,
	)
	flags.BoolVar(&serial, "serial", false, `Handle one connection at a time.`)
	flags.IntVar(&maxConns, "max-conns", 0, `Maximum number of connections served at once (0 for no limit).`)

	flags.DurationVar(&readTimeout, "read-timeout", 0, `Time allowed to read the request headers (0 for no limit).`)
	flags.DurationVar(&writeTimeout, "write-timeout", 0, `Time allowed to write a static response (0 for no limit).`)
	flags.DurationVar(&cgiTimeout, "cgi-timeout", 0, `Time a CGI program may run before it is killed (0 for no limit).`)

	flags.BoolVarP(&cgiHeader, "cgi-headers", "C", false, `Parse the headers CGI programs print, including 'Status'.
By default their output is sent as-is after a bare '200 OK' line.`,
	)
	flags.StringArrayVarP(&envVars, "env-var", "e", nil, `Environment variable to pass on to CGI programs.
Either a name to copy from ez-httpd's environment or 'KEY=VALUE'.`,
	)
	flags.StringVarP(&stderr, "stderr", "E", "", `File CGI programs' stderr is appended to.`)
}

// parseArgs applies the positional [root] [port] arguments.
func parseArgs(args []string, root, port string) (string, string, error) {
	switch len(args) {
	case 1:
		if _, err := strconv.Atoi(args[0]); err == nil {
			return root, args[0], nil
		}
		return args[0], port, nil
	case 2:
		if _, err := strconv.Atoi(args[1]); err != nil {
			return "", "", fmt.Errorf("invalid port: %s", args[1])
		}
		return args[0], args[1], nil
	}
	return root, port, nil
}

func run(cmd *cobra.Command, args []string) error {
	var err error
	root, port, err = parseArgs(args, root, port)
	if err != nil {
		return err
	}

	name := "ez-httpd"
	if version != "" {
		name += "/" + version
	}

	cfg := server.Config{
		Name:         name,
		Addr:         ":" + port,
		Root:         root,
		Index:        index,
		Confine:      confine,
		Serial:       serial,
		MaxConns:     maxConns,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		CGITimeout:   cgiTimeout,
		CGIHeaders:   cgiHeader,
		InheritEnv:   envVars,
	}

	if stderr != "" {
		f, err := os.OpenFile(stderr, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("error opening stderr: %w", err)
		}
		defer f.Close()
		cfg.Stderr = f
	}

	if noError {
		cfg.Logger = log.New(io.Discard, "", 0)
	} else {
		cfg.Logger = log.New(os.Stderr, "error :: ", log.LstdFlags)
	}
	if !noAccess {
		cfg.AccessLog = log.New(os.Stdout, "", log.LstdFlags)
	}

	s, err := newServer(cfg)
	if err != nil {
		return err
	}
	return s.run(cmd.Context())
}

func Execute() {
	SetFlags()
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
