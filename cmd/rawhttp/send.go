package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rawproto/rawhttp/pkg/message"
)

func sendCmd() *cobra.Command {
	var (
		common  commonFlags
		request requestFlags
		follow  bool
		frames  bool
	)

	cmd := &cobra.Command{
		Use:   "send URL",
		Short: "Send one request and print the response",
		Long: `Send one request and print the status, headers and body.

Headers are sent in the order given and are not validated, so
duplicate, malformed and injected headers reach the server as typed.

Examples:
  rawhttp send https://example.com/
  rawhttp send --proto h2 -H 'X-Test: a\r\nInjected: b' https://example.com/
  rawhttp send -X POST -d @body.json -H 'Content-Type: application/json' https://api.example.com/
  rawhttp send --frames --proto h3 https://cloudflare-quic.com/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSend(ctx, os.Stdout, &common, &request, args[0], follow, frames)
		},
	}

	common.register(cmd)
	request.register(cmd)
	cmd.Flags().BoolVarP(&follow, "location", "L", false, "Follow redirects")
	cmd.Flags().BoolVar(&frames, "frames", false, "Print every received frame")

	return cmd
}

func runSend(ctx context.Context, w io.Writer, common *commonFlags, request *requestFlags, rawURL string, follow, frames bool) error {
	e, err := newEnv(ctx, common, rawURL)
	if err != nil {
		return err
	}
	req, err := request.build(rawURL)
	if err != nil {
		return err
	}
	req.FollowRedirects = follow

	resp, err := e.client.Do(ctx, req)
	e.finish(ctx)
	if resp != nil {
		printResponse(w, resp, frames)
	}
	return err
}

func printResponse(w io.Writer, resp *message.Response, frames bool) {
	if frames {
		for _, f := range resp.Frames {
			fmt.Fprintf(w, "< %v\n", f)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprint(w, resp.String())
	if len(resp.Body) > 0 {
		fmt.Fprintln(w)
		w.Write(resp.Body)
		if resp.Body[len(resp.Body)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
	for _, h := range resp.Trailers {
		fmt.Fprintf(w, "%s (trailer)\n", h)
	}
	if resp.Partial {
		fmt.Fprintln(w, "(partial response)")
	}
}
