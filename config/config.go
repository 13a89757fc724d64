package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite3"
	BackendPostgres = "postgres"
	BackendJSON     = "json"
)

type Config struct {
	Addr    string
	Backend string
	// DBUrl is the SQLite file or PostgreSQL URL for the relational backends.
	DBUrl string
	// DocPath is the document file of the json backend.
	DocPath        string
	UploadMaxBytes int64
	AdminToken     string
	WebhookTimeout time.Duration
	Debug          bool
}

// LoadEnv reads KEY=VALUE files into the environment without overriding
// variables already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config.env %s: %w", f, err)
		}
	}
	return nil
}

// ParseFlags parses command line arguments (without the program name).
// Every flag defaults to its QF_* environment variable when set.
func ParseFlags(args []string) (cfg Config, err error) {
	fset := flag.NewFlagSet("quick-forms", flag.ContinueOnError)

	var host string
	fset.StringVar(&host, "host", env("QF_HOST", "0.0.0.0"), "listen host name")
	var port uint
	fset.UintVar(&port, "port", uint(envInt("QF_PORT", 8080)), "listen port number")
	fset.StringVar(&cfg.Backend, "backend", env("QF_BACKEND", BackendSQLite), "storage backend: sqlite3, postgres or json")
	fset.StringVar(&cfg.DBUrl, "db-url", env("QF_DB_URL", "qforms.sqlite"), "path to SQLite3 DB file, or PostgreSQL URL")
	fset.StringVar(&cfg.DocPath, "doc-path", env("QF_DOC_PATH", "qforms.json"), "path to the JSON document file")
	fset.Int64Var(&cfg.UploadMaxBytes, "upload-max-bytes", envInt("QF_UPLOAD_MAX_BYTES", 0), "largest accepted upload in bytes, 0 for unlimited")
	fset.StringVar(&cfg.AdminToken, "admin-token", env("QF_ADMIN_TOKEN", ""), "bearer token for the admin API (empty leaves it open)")
	var timeout uint
	fset.UintVar(&timeout, "webhook-timeout", uint(envInt("QF_WEBHOOK_TIMEOUT", 10)), "webhook timeout in seconds")
	fset.BoolVar(&cfg.Debug, "debug", envBool("QF_DEBUG"), "log at DEBUG level")

	if err = fset.Parse(args); err != nil {
		return
	}

	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	cfg.WebhookTimeout = time.Duration(timeout) * time.Second

	switch cfg.Backend {
	case BackendSQLite, BackendJSON:
	case BackendPostgres:
		if cfg.DBUrl == "" || cfg.DBUrl == "qforms.sqlite" {
			err = errors.New("missing parameter -db-url for the postgres backend")
		}
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err == nil && cfg.UploadMaxBytes < 0 {
		err = errors.New("-upload-max-bytes must not be negative")
	}

	return
}

func (cfg Config) Url() (url string) {
	url = cfg.Addr
	url = regexp.MustCompile(`^0.0.0.0`).ReplaceAllString(url, "localhost")
	url = "http://" + url
	return
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
