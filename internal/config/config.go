package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"node-reporter/internal/model"
)

type SinkMode string

const (
	SinkModeNone      SinkMode = "none"
	SinkModeGRPC      SinkMode = "grpc"
	SinkModeWebSocket SinkMode = "websocket"
	HardcodedVersion  string   = "V0.3"
)

// ErrInvalid marks configuration problems, as opposed to runtime failures.
var ErrInvalid = errors.New("invalid configuration")

var DefaultQueries = map[model.Family]string{
	model.FamilyCPUCores:  `count by (instance, job) (node_cpu_seconds_total{mode="user"})`,
	model.FamilyCPUBusy:   `1 - avg by (instance, job) (rate(node_cpu_seconds_total{mode="idle"}[5m]))`,
	model.FamilyMemTotal:  `node_memory_MemTotal_bytes`,
	model.FamilyMemFree:   `node_memory_MemAvailable_bytes`,
	model.FamilyDiskTotal: `node_filesystem_size_bytes`,
	model.FamilyDiskFree:  `node_filesystem_free_bytes`,
}

// DefaultFSTypeDenylist lists virtual and in-memory filesystems whose
// capacity says nothing about the node's disks.
var DefaultFSTypeDenylist = []string{
	"autofs", "binfmt_misc", "bpf", "cgroup", "cgroup2", "configfs", "debugfs",
	"devpts", "devtmpfs", "efivarfs", "fusectl", "fuse.lxcfs", "hugetlbfs",
	"mqueue", "nsfs", "overlay", "proc", "pstore", "ramfs", "rpc_pipefs",
	"securityfs", "squashfs", "sysfs", "tmpfs", "tracefs",
}

type Config struct {
	ConfigPath        string
	PrometheusURL     string
	PrometheusToken   string
	QueryTimeout      time.Duration
	QueryConcurrency  int
	Queries           map[model.Family]string
	InstanceLabel     string
	NameLabel         string
	MountpointLabel   string
	FSTypeLabel       string
	FSTypeDenylist    []string
	ReportsDir        string
	Summary           bool
	CPUFreeThreshold  float64
	MemFreeThreshold  float64
	DiskFreeThreshold float64
	SinkMode          SinkMode
	SinkGRPCAddr      string
	SinkGRPCMethod    string
	SinkWSURL         string
	SinkToken         string
	SinkTimeout       time.Duration
	SinkTLS           bool
	TLSSkipVerify     bool
	TLSCAPath         string
	TLSCertPath       string
	TLSKeyPath        string
	MetricsTextfile   string
	LogJSON           bool
	LogLevel          string
	Version           string
}

func Default() Config {
	queries := make(map[model.Family]string, len(DefaultQueries))
	for f, q := range DefaultQueries {
		queries[f] = q
	}
	return Config{
		PrometheusURL:     "http://127.0.0.1:9090",
		QueryTimeout:      10 * time.Second,
		QueryConcurrency:  1,
		Queries:           queries,
		InstanceLabel:     "instance",
		NameLabel:         "job",
		MountpointLabel:   "mountpoint",
		FSTypeLabel:       "fstype",
		FSTypeDenylist:    append([]string(nil), DefaultFSTypeDenylist...),
		ReportsDir:        "./reports",
		Summary:           true,
		CPUFreeThreshold:  40,
		MemFreeThreshold:  40,
		DiskFreeThreshold: 40,
		SinkMode:          SinkModeNone,
		SinkGRPCMethod:    "/reporter.v1.ReportService/StreamNodeReports",
		SinkTimeout:       10 * time.Second,
		LogLevel:          "info",
		Version:           HardcodedVersion,
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// REPORTER_* environment variables and command line flags, in that order of
// increasing precedence.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("reporter", flag.ContinueOnError)
	var (
		configPath  = fs.String("config", "", "YAML config file (env REPORTER_CONFIG)")
		promURL     = fs.String("prometheus-url", "", "Prometheus base URL (env REPORTER_PROMETHEUS_URL)")
		promToken   = fs.String("prometheus-token", "", "bearer token for Prometheus (env REPORTER_PROMETHEUS_TOKEN)")
		timeout     = fs.Duration("query-timeout", 0, "per-query timeout (env REPORTER_QUERY_TIMEOUT)")
		concurrency = fs.Int("query-concurrency", 0, "queries in flight (env REPORTER_QUERY_CONCURRENCY)")
		reportsDir  = fs.String("reports-dir", "", "report output directory (env REPORTER_REPORTS_DIR)")
		summary     = fs.Bool("summary", true, "print the free-resource summary (env REPORTER_SUMMARY)")
		sinkMode    = fs.String("sink", "", "report sink: none, grpc or websocket (env REPORTER_SINK_MODE)")
		textfile    = fs.String("metrics-textfile", "", "write run metrics in textfile collector format (env REPORTER_METRICS_TEXTFILE)")
		logLevel    = fs.String("log-level", "", "debug, info, warn or error (env REPORTER_LOG_LEVEL)")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := Default()
	cfg.ConfigPath = env("REPORTER_CONFIG", "")
	if set["config"] {
		cfg.ConfigPath = *configPath
	}
	if cfg.ConfigPath != "" {
		if err := cfg.applyFile(cfg.ConfigPath); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	cfg.applyEnv()

	if set["prometheus-url"] {
		cfg.PrometheusURL = *promURL
	}
	if set["prometheus-token"] {
		cfg.PrometheusToken = *promToken
	}
	if set["query-timeout"] {
		cfg.QueryTimeout = *timeout
	}
	if set["query-concurrency"] {
		cfg.QueryConcurrency = *concurrency
	}
	if set["reports-dir"] {
		cfg.ReportsDir = *reportsDir
	}
	if set["summary"] {
		cfg.Summary = *summary
	}
	if set["sink"] {
		cfg.SinkMode = SinkMode(strings.ToLower(*sinkMode))
	}
	if set["metrics-textfile"] {
		cfg.MetricsTextfile = *textfile
	}
	if set["log-level"] {
		cfg.LogLevel = strings.ToLower(*logLevel)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.PrometheusURL = env("REPORTER_PROMETHEUS_URL", c.PrometheusURL)
	c.PrometheusToken = env("REPORTER_PROMETHEUS_TOKEN", c.PrometheusToken)
	c.QueryTimeout = envDuration("REPORTER_QUERY_TIMEOUT", c.QueryTimeout)
	c.QueryConcurrency = envInt("REPORTER_QUERY_CONCURRENCY", c.QueryConcurrency)
	for _, f := range model.Families {
		c.Queries[f] = env("REPORTER_QUERY_"+strings.ToUpper(string(f)), c.Queries[f])
	}
	c.InstanceLabel = env("REPORTER_INSTANCE_LABEL", c.InstanceLabel)
	c.NameLabel = env("REPORTER_NAME_LABEL", c.NameLabel)
	c.MountpointLabel = env("REPORTER_MOUNTPOINT_LABEL", c.MountpointLabel)
	c.FSTypeLabel = env("REPORTER_FSTYPE_LABEL", c.FSTypeLabel)
	c.FSTypeDenylist = envList("REPORTER_FSTYPE_DENYLIST", c.FSTypeDenylist)
	c.ReportsDir = env("REPORTER_REPORTS_DIR", c.ReportsDir)
	c.Summary = envBool("REPORTER_SUMMARY", c.Summary)
	c.CPUFreeThreshold = envFloat("REPORTER_CPU_FREE_THRESHOLD", c.CPUFreeThreshold)
	c.MemFreeThreshold = envFloat("REPORTER_MEM_FREE_THRESHOLD", c.MemFreeThreshold)
	c.DiskFreeThreshold = envFloat("REPORTER_DISK_FREE_THRESHOLD", c.DiskFreeThreshold)
	c.SinkMode = SinkMode(strings.ToLower(env("REPORTER_SINK_MODE", string(c.SinkMode))))
	c.SinkGRPCAddr = env("REPORTER_SINK_GRPC_ADDR", c.SinkGRPCAddr)
	c.SinkGRPCMethod = env("REPORTER_SINK_GRPC_METHOD", c.SinkGRPCMethod)
	c.SinkWSURL = env("REPORTER_SINK_WS_URL", c.SinkWSURL)
	c.SinkToken = env("REPORTER_SINK_TOKEN", c.SinkToken)
	c.SinkTimeout = envDuration("REPORTER_SINK_TIMEOUT", c.SinkTimeout)
	c.SinkTLS = envBool("REPORTER_SINK_TLS", c.SinkTLS)
	c.TLSSkipVerify = envBool("REPORTER_TLS_SKIP_VERIFY", c.TLSSkipVerify)
	c.TLSCAPath = env("REPORTER_TLS_CA_PATH", c.TLSCAPath)
	c.TLSCertPath = env("REPORTER_TLS_CERT_PATH", c.TLSCertPath)
	c.TLSKeyPath = env("REPORTER_TLS_KEY_PATH", c.TLSKeyPath)
	c.MetricsTextfile = env("REPORTER_METRICS_TEXTFILE", c.MetricsTextfile)
	c.LogJSON = envBool("REPORTER_LOG_JSON", c.LogJSON)
	c.LogLevel = strings.ToLower(env("REPORTER_LOG_LEVEL", c.LogLevel))
}

func (c Config) Validate() error {
	u, err := url.Parse(c.PrometheusURL)
	if err != nil {
		return fmt.Errorf("REPORTER_PROMETHEUS_URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("REPORTER_PROMETHEUS_URL must be an absolute http(s) URL, got %q", c.PrometheusURL)
	}
	if c.QueryTimeout <= 0 {
		return errors.New("REPORTER_QUERY_TIMEOUT must be > 0")
	}
	if c.QueryConcurrency < 1 {
		return errors.New("REPORTER_QUERY_CONCURRENCY must be >= 1")
	}
	if c.SinkTimeout <= 0 {
		return errors.New("REPORTER_SINK_TIMEOUT must be > 0")
	}
	for _, f := range model.Families {
		if strings.TrimSpace(c.Queries[f]) == "" {
			return fmt.Errorf("query for family %s is required", f)
		}
	}
	if c.InstanceLabel == "" || c.MountpointLabel == "" {
		return errors.New("instance and mountpoint label names are required")
	}
	if strings.TrimSpace(c.ReportsDir) == "" {
		return errors.New("REPORTER_REPORTS_DIR is required")
	}
	for name, v := range map[string]float64{
		"REPORTER_CPU_FREE_THRESHOLD":  c.CPUFreeThreshold,
		"REPORTER_MEM_FREE_THRESHOLD":  c.MemFreeThreshold,
		"REPORTER_DISK_FREE_THRESHOLD": c.DiskFreeThreshold,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be within [0,100], got %v", name, v)
		}
	}
	switch c.SinkMode {
	case SinkModeNone:
	case SinkModeGRPC:
		if c.SinkGRPCAddr == "" {
			return errors.New("REPORTER_SINK_GRPC_ADDR is required for grpc sink")
		}
		if strings.TrimSpace(c.SinkGRPCMethod) == "" {
			return errors.New("REPORTER_SINK_GRPC_METHOD is required for grpc sink")
		}
	case SinkModeWebSocket:
		if c.SinkWSURL == "" {
			return errors.New("REPORTER_SINK_WS_URL is required for websocket sink")
		}
	default:
		return fmt.Errorf("unsupported sink mode %q", c.SinkMode)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	return nil
}

// TLSConfig returns nil when no TLS option is set, leaving transports on
// their defaults.
func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSSkipVerify && c.TLSCAPath == "" && c.TLSCertPath == "" && c.TLSKeyPath == "" {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envList reads a comma separated list. A single "-" yields an empty list.
func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if v == "-" {
		return []string{}
	}
	out := make([]string, 0, strings.Count(v, ",")+1)
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
