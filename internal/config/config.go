package config

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/h1"
	"github.com/rawproto/rawhttp/pkg/h2"
	"github.com/rawproto/rawhttp/pkg/h3"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/mux"
	"github.com/rawproto/rawhttp/pkg/timing"
	"github.com/rawproto/rawhttp/pkg/transport"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "rawhttp.json"

	// DefaultProtocol lets the client pick the protocol from the scheme
	// and ALPN.
	DefaultProtocol = "auto"

	DefaultConnectTimeout = "10s"
	DefaultIdleTimeout    = "30s"
	DefaultWriteTimeout   = "30s"

	DefaultMaxConcurrentStreams = 100
	DefaultMaxHeaderListSize    = 8192
	DefaultFlowMode             = "wait"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultMetricsNamespace = "rawhttp"
)

// Config represents the complete rawhttp.json configuration.
type Config struct {
	// Protocol is "auto", "h1", "h2" or "h3".
	Protocol string `json:"protocol,omitempty"`

	// Timeouts holds per-phase limits as Go durations or "off".
	Timeouts TimeoutsConfig `json:"timeouts,omitempty"`

	// TLS contains TLS client settings.
	TLS TLSConfig `json:"tls,omitempty"`

	// Proxy is an http://, https:// or socks5:// proxy URL.
	Proxy string `json:"proxy,omitempty"`

	// Tunnel is a ws:// or wss:// relay URL.
	Tunnel string `json:"tunnel,omitempty"`

	// MaxRedirects caps redirect hops when following is enabled.
	MaxRedirects int `json:"maxRedirects,omitempty"`

	// H1 contains HTTP/1.1 settings.
	H1 H1Config `json:"h1,omitempty"`

	// H2 contains HTTP/2 settings.
	H2 H2Config `json:"h2,omitempty"`

	// H3 contains HTTP/3 settings.
	H3 H3Config `json:"h3,omitempty"`

	// Logging configures the slog handler of the CLI.
	Logging LoggingConfig `json:"logging,omitempty"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics,omitempty"`

	// Capture configures transcript recording.
	Capture CaptureConfig `json:"capture,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// TimeoutsConfig holds timeouts as strings such as "10s" or "off".
type TimeoutsConfig struct {
	Connect   string `json:"connect,omitempty"`
	FirstByte string `json:"firstByte,omitempty"`
	Idle      string `json:"idle,omitempty"`
	Write     string `json:"write,omitempty"`
	Total     string `json:"total,omitempty"`
}

// TLSConfig contains TLS client settings.
type TLSConfig struct {
	// Insecure skips certificate verification.
	Insecure bool `json:"insecure,omitempty"`

	// ServerName overrides SNI.
	ServerName string `json:"serverName,omitempty"`

	// ALPN overrides the protocols offered for HTTP/1.1 and HTTP/2.
	ALPN []string `json:"alpn,omitempty"`
}

// H1Config contains HTTP/1.1 settings.
type H1Config struct {
	// Strict rejects responses RFC 9112 would reject.
	Strict bool `json:"strict,omitempty"`

	// UserAgent is added to requests without one.
	UserAgent string `json:"userAgent,omitempty"`

	// NoHost suppresses the automatic Host header.
	NoHost bool `json:"noHost,omitempty"`

	// NoContentLength suppresses the automatic Content-Length header.
	NoContentLength bool `json:"noContentLength,omitempty"`

	// AutoFlushBytes flushes corked writes at this size.
	AutoFlushBytes int `json:"autoFlushBytes,omitempty"`
}

// H2Config contains HTTP/2 settings. Zero sizes use the defaults.
type H2Config struct {
	// HeaderTableSize is advertised when non-zero and sizes our decoder.
	HeaderTableSize uint32 `json:"headerTableSize,omitempty"`

	// EnablePush is advertised as SETTINGS_ENABLE_PUSH.
	EnablePush bool `json:"enablePush,omitempty"`

	MaxConcurrentStreams uint32 `json:"maxConcurrentStreams,omitempty"`
	InitialWindowSize    uint32 `json:"initialWindowSize,omitempty"`
	MaxFrameSize         uint32 `json:"maxFrameSize,omitempty"`
	MaxHeaderListSize    uint32 `json:"maxHeaderListSize,omitempty"`

	// Flow is "wait", "strict" or "off".
	Flow string `json:"flow,omitempty"`

	// AutoFlushBytes flushes corked writes at this size.
	AutoFlushBytes int `json:"autoFlushBytes,omitempty"`

	// NoAutoAck disables acknowledging SETTINGS and PING.
	NoAutoAck bool `json:"noAutoAck,omitempty"`

	// NoAutoWindowUpdate disables returning credit for received DATA.
	NoAutoWindowUpdate bool `json:"noAutoWindowUpdate,omitempty"`

	// WaitSettings waits for the peer's SETTINGS before the first request.
	WaitSettings bool `json:"waitSettings,omitempty"`
}

// H3Config contains HTTP/3 settings.
type H3Config struct {
	QPACKMaxTableCapacity uint64 `json:"qpackMaxTableCapacity,omitempty"`
	QPACKBlockedStreams   uint64 `json:"qpackBlockedStreams,omitempty"`
	MaxFieldSectionSize   uint64 `json:"maxFieldSectionSize,omitempty"`

	// DynamicCapacity enables dynamic-table inserts on our encoder.
	DynamicCapacity uint64 `json:"dynamicCapacity,omitempty"`

	// Datagrams advertises SETTINGS_H3_DATAGRAM.
	Datagrams bool `json:"datagrams,omitempty"`

	// WaitSettings waits for the peer's SETTINGS before the first request.
	WaitSettings bool `json:"waitSettings,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `json:"level,omitempty"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. "127.0.0.1:9464".
	Addr string `json:"addr,omitempty"`

	// Namespace prefixes every metric name.
	Namespace string `json:"namespace,omitempty"`
}

// CaptureConfig configures transcript recording.
type CaptureConfig struct {
	// Dir stores transcripts on disk when set.
	Dir string `json:"dir,omitempty"`

	// MaxBytes caps each recording (0 = no limit).
	MaxBytes int `json:"maxBytes,omitempty"`

	// S3 stores transcripts in a bucket when Bucket is set.
	S3 S3Config `json:"s3,omitempty"`
}

// S3Config selects an S3 bucket for transcripts.
type S3Config struct {
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	PathStyle bool   `json:"pathStyle,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads configuration from the specified directory.
// It looks for rawhttp.json in the directory.
func Load(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ConfigFileName)
	return LoadFile(configPath)
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rerrors.New("R081").
				WithDetail("No " + ConfigFileName + " found at " + path).
				WithSuggestion("Create " + ConfigFileName + " or pass --config")
		}
		return nil, rerrors.New("R080").Wrap(err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, rerrors.New("R080").
			WithDetail("Failed to parse " + path + ": " + err.Error())
	}

	cfg.configPath = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return rerrors.Newf(rerrors.KindConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return rerrors.New("R080").Wrap(err)
	}

	// Add newline at end of file
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return rerrors.New("R080").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Protocol == "" {
		c.Protocol = DefaultProtocol
	}

	// Timeouts
	if c.Timeouts.Connect == "" {
		c.Timeouts.Connect = DefaultConnectTimeout
	}
	if c.Timeouts.Idle == "" {
		c.Timeouts.Idle = DefaultIdleTimeout
	}
	if c.Timeouts.Write == "" {
		c.Timeouts.Write = DefaultWriteTimeout
	}
	if c.Timeouts.FirstByte == "" {
		c.Timeouts.FirstByte = "off"
	}
	if c.Timeouts.Total == "" {
		c.Timeouts.Total = "off"
	}

	if c.MaxRedirects == 0 {
		c.MaxRedirects = message.DefaultMaxRedirects
	}
	if c.H1.UserAgent == "" {
		c.H1.UserAgent = message.DefaultUserAgent
	}

	// HTTP/2
	if c.H2.MaxConcurrentStreams == 0 {
		c.H2.MaxConcurrentStreams = DefaultMaxConcurrentStreams
	}
	if c.H2.InitialWindowSize == 0 {
		c.H2.InitialWindowSize = h2.DefaultWindow
	}
	if c.H2.MaxFrameSize == 0 {
		c.H2.MaxFrameSize = h2.DefaultMaxFrameSize
	}
	if c.H2.MaxHeaderListSize == 0 {
		c.H2.MaxHeaderListSize = DefaultMaxHeaderListSize
	}
	if c.H2.Flow == "" {
		c.H2.Flow = DefaultFlowMode
	}

	// Logging and metrics
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}
}

func invalid(field, detail string) error {
	return rerrors.New("R082").WithDetail(field + ": " + detail)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Protocol != DefaultProtocol {
		if _, ok := frame.ParseFamily(c.Protocol); !ok {
			return invalid("protocol", strconv.Quote(c.Protocol)+" is not auto, h1, h2 or h3")
		}
	}
	if _, err := c.timeouts(); err != nil {
		return err
	}
	if c.MaxRedirects < 0 {
		return invalid("maxRedirects", "must not be negative")
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "socks5") || u.Host == "" {
			return invalid("proxy", strconv.Quote(c.Proxy)+" is not an http, https or socks5 URL")
		}
	}
	if c.Tunnel != "" {
		u, err := url.Parse(c.Tunnel)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return invalid("tunnel", strconv.Quote(c.Tunnel)+" is not a ws or wss URL")
		}
	}
	if c.H2.MaxFrameSize < h2.DefaultMaxFrameSize || c.H2.MaxFrameSize > 1<<24-1 {
		return invalid("h2.maxFrameSize", "must be between 16384 and 16777215")
	}
	if c.H2.InitialWindowSize > 1<<31-1 {
		return invalid("h2.initialWindowSize", "must not exceed 2147483647")
	}
	if _, ok := mux.ParseFlowMode(c.H2.Flow); !ok {
		return invalid("h2.flow", strconv.Quote(c.H2.Flow)+" is not wait, strict or off")
	}
	if _, err := c.logLevel(); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return invalid("logging.format", strconv.Quote(c.Logging.Format)+" is not text or json")
	}
	if c.Capture.MaxBytes < 0 {
		return invalid("capture.maxBytes", "must not be negative")
	}
	if c.Capture.S3.Bucket != "" && c.Capture.S3.Region == "" {
		return invalid("capture.s3.region", "required when a bucket is set")
	}
	return nil
}

func (c *Config) timeouts() (timing.Timeouts, error) {
	var t timing.Timeouts
	fields := []struct {
		name string
		raw  string
		dst  *timing.Timeout
	}{
		{"timeouts.connect", c.Timeouts.Connect, &t.Connect},
		{"timeouts.firstByte", c.Timeouts.FirstByte, &t.FirstByte},
		{"timeouts.idle", c.Timeouts.Idle, &t.Idle},
		{"timeouts.write", c.Timeouts.Write, &t.Write},
		{"timeouts.total", c.Timeouts.Total, &t.Total},
	}
	for _, f := range fields {
		v, err := timing.ParseTimeout(f.raw)
		if err != nil {
			return t, invalid(f.name, strconv.Quote(f.raw)+" is not a duration or \"off\"")
		}
		*f.dst = v
	}
	return t, nil
}

func (c *Config) logLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return l, invalid("logging.level", strconv.Quote(c.Logging.Level)+" is not debug, info, warn or error")
	}
	return l, nil
}

// Logger builds a logger writing to w with the configured level and
// format.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := c.logLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// Options is the configuration converted to the packages' option types.
type Options struct {
	// Protocol is FamilyUnknown for "auto".
	Protocol     frame.Family
	Timeouts     timing.Timeouts
	Dial         transport.Options
	ALPN         []string
	MaxRedirects int
	H1           h1.Options
	H2           h2.Options
	H3           h3.Options
}

// Options converts the configuration. It fails only on values Validate
// rejects.
func (c *Config) Options() (Options, error) {
	if err := c.Validate(); err != nil {
		return Options{}, err
	}
	t, _ := c.timeouts()
	fam, _ := frame.ParseFamily(c.Protocol)
	flow, _ := mux.ParseFlowMode(c.H2.Flow)

	mode := h1.Lenient
	if c.H1.Strict {
		mode = h1.Strict
	}

	push := uint32(0)
	if c.H2.EnablePush {
		push = 1
	}
	var settings []h2.Setting
	if c.H2.HeaderTableSize != 0 {
		settings = append(settings, h2.Setting{ID: h2.SettingHeaderTableSize, Val: c.H2.HeaderTableSize})
	}
	settings = append(settings,
		h2.Setting{ID: h2.SettingEnablePush, Val: push},
		h2.Setting{ID: h2.SettingMaxConcurrentStreams, Val: c.H2.MaxConcurrentStreams},
		h2.Setting{ID: h2.SettingInitialWindowSize, Val: c.H2.InitialWindowSize},
		h2.Setting{ID: h2.SettingMaxFrameSize, Val: c.H2.MaxFrameSize},
		h2.Setting{ID: h2.SettingMaxHeaderListSize, Val: c.H2.MaxHeaderListSize},
	)

	return Options{
		Protocol: fam,
		Timeouts: t,
		Dial: transport.Options{
			Timeout:    t.Connect,
			Insecure:   c.TLS.Insecure,
			ServerName: c.TLS.ServerName,
			Proxy:      c.Proxy,
			Tunnel:     c.Tunnel,
		},
		ALPN:         c.TLS.ALPN,
		MaxRedirects: c.MaxRedirects,
		H1: h1.Options{
			Mode: mode,
			Build: h1.BuildOptions{
				UserAgent:       c.H1.UserAgent,
				NoHost:          c.H1.NoHost,
				NoContentLength: c.H1.NoContentLength,
			},
			Timeouts:       t,
			AutoFlushBytes: c.H1.AutoFlushBytes,
		},
		H2: h2.Options{
			Settings:           settings,
			WaitSettings:       c.H2.WaitSettings,
			NoAutoAck:          c.H2.NoAutoAck,
			NoAutoWindowUpdate: c.H2.NoAutoWindowUpdate,
			Flow:               flow,
			AutoFlushBytes:     c.H2.AutoFlushBytes,
			Timeouts:           t,
			UserAgent:          c.H1.UserAgent,
		},
		H3: h3.Options{
			WaitSettings:          c.H3.WaitSettings,
			QPACKMaxTableCapacity: c.H3.QPACKMaxTableCapacity,
			QPACKBlockedStreams:   c.H3.QPACKBlockedStreams,
			MaxFieldSectionSize:   c.H3.MaxFieldSectionSize,
			DynamicCapacity:       c.H3.DynamicCapacity,
			Datagrams:             c.H3.Datagrams,
			Timeouts:              t,
			UserAgent:             c.H1.UserAgent,
		},
	}, nil
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindProjectRoot walks up directories to find the directory containing
// rawhttp.json.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", rerrors.New("R081").
				WithDetail("No " + ConfigFileName + " found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads the nearest rawhttp.json above the working
// directory.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		return nil, err
	}

	return Load(root)
}
