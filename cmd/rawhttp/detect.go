package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rawproto/rawhttp"
	"github.com/rawproto/rawhttp/pkg/message"
)

func detectCmd() *cobra.Command {
	var common commonFlags

	cmd := &cobra.Command{
		Use:   "detect URL",
		Short: "Report which HTTP versions a server speaks",
		Long: `Probe a server for HTTP/1.1, HTTP/2 and HTTP/3 support.

Over TLS the server's ALPN choice is recorded; over cleartext HTTP/2
prior knowledge is tried. HTTP/3 is dialed when Alt-Svc advertises it.

Examples:
  rawhttp detect https://example.com/
  rawhttp detect http://127.0.0.1:8080/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(cmd.Context(), os.Stdout, &common, args[0])
		},
	}

	common.register(cmd)
	return cmd
}

func runDetect(ctx context.Context, w io.Writer, common *commonFlags, rawURL string) error {
	target, err := message.ParseTarget(rawURL)
	if err != nil {
		return err
	}
	e, err := newEnv(ctx, common, rawURL)
	if err != nil {
		return err
	}
	det, err := e.client.Detect(ctx, target)
	e.finish(ctx)
	if det != nil {
		printDetection(w, det)
	}
	return err
}

func printDetection(w io.Writer, det *rawhttp.Detection) {
	mark := func(ok bool) string {
		if ok {
			return "\033[32m✓\033[0m"
		}
		return "\033[31m✗\033[0m"
	}
	fmt.Fprintf(w, "  HTTP/1.1  %s\n", mark(det.H1))
	fmt.Fprintf(w, "  HTTP/2    %s\n", mark(det.H2))
	fmt.Fprintf(w, "  HTTP/3    %s\n", mark(det.H3))
	if det.ALPN != "" {
		fmt.Fprintf(w, "  ALPN:     %s\n", det.ALPN)
	}
	for _, alt := range det.AltSvc {
		fmt.Fprintf(w, "  Alt-Svc:  %s %s:%d (max age %v)\n", alt.Protocol, alt.Host, alt.Port, alt.MaxAge)
	}
	fmt.Fprintf(w, "  Preferred: %s\n", det.Preferred)

	protos := make([]string, 0, len(det.Errors))
	for p := range det.Errors {
		protos = append(protos, p)
	}
	sort.Strings(protos)
	for _, p := range protos {
		fmt.Fprintf(w, "  %s probe: %v\n", p, det.Errors[p])
	}
}
