package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/linnemanlabs-profile/internal/log"
	"github.com/keithlinneman/linnemanlabs-profile/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-profile/internal/xerrors"
)

const (
	DefaultCommitMessage = "chore(assets): refresh cached profile assets"
	DefaultGitName       = "github-actions[bot]"
	DefaultGitEmail      = "41898282+github-actions[bot]@users.noreply.github.com"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	RepoDir      string
	Mapping      string
	Workers      int
	FetchTimeout time.Duration
	MaxBytes     int64
	UserAgent    string
	RatePerHost  float64
	RateBurst    int

	Commit        bool
	Push          bool
	CommitMessage string
	GitName       string
	GitEmail      string

	EnableTracing bool
	OTLPEndpoint  string
	TraceSample   float64

	PushgatewayURL string
	MetricsFile    string

	S3Bucket       string
	S3Prefix       string
	SSMParam       string
	SigningKeyARN  string
	SigningKeyAlgo string

	EnvFile string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", false, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 8, "max error chain depth (1..64)")

	fs.StringVar(&c.RepoDir, "repo-dir", ".", "repository root that mapping outputs are relative to")
	fs.StringVar(&c.Mapping, "mapping", "assets/sources.json", "repository-relative path of the JSON mapping file")
	fs.IntVar(&c.Workers, "workers", 6, "concurrent fetch workers (1..64)")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", 20*time.Second, "timeout for each remote fetch")
	fs.Int64Var(&c.MaxBytes, "max-bytes", 10<<20, "largest accepted payload in bytes")
	fs.StringVar(&c.UserAgent, "user-agent", "", "User-Agent for fetches (default derived from version)")
	fs.Float64Var(&c.RatePerHost, "rate-per-host", 4, "fetches per second allowed to one host (0 disables pacing)")
	fs.IntVar(&c.RateBurst, "rate-burst", 4, "burst of fetches allowed to one host")

	fs.BoolVar(&c.Commit, "commit", true, "stage and commit changed assets")
	fs.BoolVar(&c.Push, "push", true, "push the commit to the default remote")
	fs.StringVar(&c.CommitMessage, "commit-message", DefaultCommitMessage, "commit subject line")
	fs.StringVar(&c.GitName, "git-name", DefaultGitName, "committer name used when git has none configured")
	fs.StringVar(&c.GitEmail, "git-email", DefaultGitEmail, "committer email used when git has none configured")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 1.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.PushgatewayURL, "pushgateway-url", "", "Prometheus Pushgateway to push run metrics to")
	fs.StringVar(&c.MetricsFile, "metrics-file", "", "write run metrics in text format to this file (node_exporter textfile)")

	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "mirror changed assets to this S3 bucket (disabled when empty)")
	fs.StringVar(&c.S3Prefix, "s3-prefix", "profile-assets", "key prefix for mirrored assets")
	fs.StringVar(&c.SSMParam, "ssm-param", "", "ssm parameter that receives the published manifest sha256")
	fs.StringVar(&c.SigningKeyARN, "signing-key-arn", "", "KMS key ARN used to sign the published manifest")
	fs.StringVar(&c.SigningKeyAlgo, "signing-key-algo", "ECDSA_SHA_256", "KMS signing algorithm (ECDSA_SHA_256|RSASSA_PSS_SHA_256|RSASSA_PKCS1_V1_5_SHA_256)")

	fs.StringVar(&c.EnvFile, "env-file", ".env", "dotenv file loaded before reading env vars (missing file is ignored)")
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return xerrors.Wrapf(err, "load env file %s", path)
	}
	return nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// EnvKey maps a flag name to its environment variable.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.RepoDir == "" {
		errs = append(errs, fmt.Errorf("REPO_DIR is required"))
	}
	if err := pathutil.CheckRelative(c.Mapping); err != nil {
		errs = append(errs, fmt.Errorf("invalid MAPPING: %w", err))
	}
	if c.Workers < 1 || c.Workers > 64 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 1..64)", c.Workers))
	}
	if c.FetchTimeout <= 0 || c.FetchTimeout > 5*time.Minute {
		errs = append(errs, fmt.Errorf("invalid FETCH_TIMEOUT %s (must be >0 and <=5m)", c.FetchTimeout))
	}
	if c.MaxBytes < 1 {
		errs = append(errs, fmt.Errorf("invalid MAX_BYTES %d (must be positive)", c.MaxBytes))
	}
	if c.RatePerHost < 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_PER_HOST %.2f (must be >=0)", c.RatePerHost))
	}
	if c.RatePerHost > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid RATE_BURST %d (must be >=1 when pacing is enabled)", c.RateBurst))
	}

	if c.Commit {
		if strings.TrimSpace(c.CommitMessage) == "" {
			errs = append(errs, fmt.Errorf("COMMIT_MESSAGE required when COMMIT=true"))
		}
		if c.GitName == "" || c.GitEmail == "" {
			errs = append(errs, fmt.Errorf("GIT_NAME and GIT_EMAIL required when COMMIT=true"))
		}
	}
	if c.Push && !c.Commit {
		errs = append(errs, fmt.Errorf("PUSH=true requires COMMIT=true"))
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.PushgatewayURL != "" {
		if u, err := url.Parse(c.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUSHGATEWAY_URL must be a URL (got %q)", c.PushgatewayURL))
		}
	}
	if c.S3Bucket != "" && strings.Contains(c.S3Bucket, "/") {
		errs = append(errs, fmt.Errorf("S3_BUCKET must be a bucket name, not a path (got %q)", c.S3Bucket))
	}
	if c.S3Bucket == "" && (c.SSMParam != "" || c.SigningKeyARN != "") {
		errs = append(errs, fmt.Errorf("SSM_PARAM and SIGNING_KEY_ARN require S3_BUCKET"))
	}
	if c.SSMParam != "" && !strings.HasPrefix(c.SSMParam, "/") {
		errs = append(errs, fmt.Errorf("SSM_PARAM must be a hierarchical name starting with / (got %q)", c.SSMParam))
	}
	if c.SigningKeyARN != "" {
		switch c.SigningKeyAlgo {
		case "ECDSA_SHA_256", "RSASSA_PSS_SHA_256", "RSASSA_PKCS1_V1_5_SHA_256":
		default:
			errs = append(errs, fmt.Errorf("invalid SIGNING_KEY_ALGO %q", c.SigningKeyAlgo))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
