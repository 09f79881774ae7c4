package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rawproto/rawhttp"
	"github.com/rawproto/rawhttp/internal/config"
	"github.com/rawproto/rawhttp/pkg/capture"
	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/telemetry"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// defaultCaptureDir is used by --capture when the config names no store.
const defaultCaptureDir = ".rawhttp/captures"

// commonFlags are shared by the commands that talk to a server.
type commonFlags struct {
	configPath  string
	proto       string
	capture     bool
	metricsAddr string
	insecure    bool
	verbose     bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "Config file (default: nearest rawhttp.json)")
	cmd.Flags().StringVar(&f.proto, "proto", "", "Protocol: h1, h2, h3 or auto (default from config)")
	cmd.Flags().BoolVar(&f.capture, "capture", false, "Record the wire transcript")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve /metrics and /debug/streams on this address")
	cmd.Flags().BoolVarP(&f.insecure, "insecure", "k", false, "Skip TLS certificate verification")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log at debug level")
}

// requestFlags describe the request of send and race.
type requestFlags struct {
	method  string
	headers []string
	data    string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.method, "request", "X", "", "Request method (default GET, or POST with -d)")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, `Header "Name: value", repeatable; \r\n escapes are expanded`)
	cmd.Flags().StringVarP(&f.data, "data", "d", "", "Request body, or @file to read it from a file")
}

// build turns the flags into a request for rawURL.
func (f *requestFlags) build(rawURL string) (*message.Request, error) {
	method := f.method
	if method == "" {
		method = "GET"
		if f.data != "" {
			method = "POST"
		}
	}
	req, err := message.NewRequest(method, rawURL)
	if err != nil {
		return nil, err
	}
	for _, h := range f.headers {
		req.Headers = append(req.Headers, message.ParseHeader(h))
	}
	if path, ok := strings.CutPrefix(f.data, "@"); ok {
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		req.Body = body
	} else if f.data != "" {
		req.Body = []byte(f.data)
	}
	return req, nil
}

// env is the client and its collaborators for one command run.
type env struct {
	cfg      *config.Config
	client   *rawhttp.Client
	logger   *slog.Logger
	recorder *capture.Recorder
	store    capture.Store
}

// loadConfig reads path, or the nearest rawhttp.json, or the defaults
// when there is none.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.LoadFromWorkingDir()
	var re *rerrors.Error
	if errors.As(err, &re) && re.Code == "R081" {
		return config.New(), nil
	}
	return cfg, err
}

// parseProto parses --proto. "" and "auto" leave the choice to the client.
func parseProto(s string) (frame.Family, error) {
	if s == "" || s == "auto" {
		return frame.FamilyUnknown, nil
	}
	fam, ok := frame.ParseFamily(s)
	if !ok {
		return 0, rerrors.New("R082").WithDetail("--proto: " + s + " (want h1, h2, h3 or auto)")
	}
	return fam, nil
}

// newEnv loads the configuration, installs the logger and builds a client
// for target. The metrics server runs until ctx is done.
func newEnv(ctx context.Context, f *commonFlags, target string) (*env, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.verbose {
		cfg.Logging.Level = "debug"
	}
	if f.insecure {
		cfg.TLS.Insecure = true
	}
	if f.proto != "" {
		if _, err := parseProto(f.proto); err != nil {
			return nil, err
		}
		cfg.Protocol = f.proto
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: logger}
	clientOpts := []rawhttp.Option{
		rawhttp.WithDialOptions(opts.Dial),
		rawhttp.WithTimeouts(opts.Timeouts),
		rawhttp.WithProtocol(opts.Protocol),
		rawhttp.WithMaxRedirects(opts.MaxRedirects),
		rawhttp.WithH1(opts.H1),
		rawhttp.WithH2(opts.H2),
		rawhttp.WithH3(opts.H3),
		rawhttp.WithLogger(logger),
	}
	if len(opts.ALPN) > 0 {
		clientOpts = append(clientOpts, rawhttp.WithALPN(opts.ALPN...))
	}

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		metrics := telemetry.NewMetrics(
			telemetry.WithNamespace(cfg.Metrics.Namespace),
			telemetry.WithRegistry(reg),
		)
		debug := telemetry.NewDebug()
		clientOpts = append(clientOpts, rawhttp.WithMetrics(metrics), rawhttp.WithDebug(debug))
		go func() {
			if err := telemetry.Serve(ctx, cfg.Metrics.Addr, telemetry.Handler(reg, debug), logger); err != nil {
				logger.Error("metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}

	if f.capture || cfg.Capture.Dir != "" || cfg.Capture.S3.Bucket != "" {
		store, err := captureStore(cfg.Capture)
		if err != nil {
			return nil, err
		}
		e.store = store
		e.recorder = capture.NewRecorder(target, cfg.Capture.MaxBytes)
		clientOpts = append(clientOpts, rawhttp.WithTap(e.recorder))
	}

	e.client = rawhttp.New(clientOpts...)
	return e, nil
}

func captureStore(c config.CaptureConfig) (capture.Store, error) {
	if c.S3.Bucket != "" {
		client := capture.NewS3Client(capture.S3Config{
			Region:    c.S3.Region,
			Endpoint:  c.S3.Endpoint,
			PathStyle: c.S3.PathStyle,
		})
		return capture.NewS3Store(client, c.S3.Bucket, c.S3.Prefix), nil
	}
	dir := c.Dir
	if dir == "" {
		dir = defaultCaptureDir
	}
	return capture.NewDiskStore(dir)
}

// finish saves the transcript when capturing.
func (e *env) finish(ctx context.Context) {
	if e.recorder == nil {
		return
	}
	id, err := e.store.Save(ctx, e.recorder.Transcript())
	if err != nil {
		warn("transcript not saved: %v", err)
		return
	}
	success("transcript saved as %s", id)
}
