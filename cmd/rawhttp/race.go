package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rawproto/rawhttp"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

func raceCmd() *cobra.Command {
	var (
		common  commonFlags
		request requestFlags
		n       int
		mode    string
	)

	cmd := &cobra.Command{
		Use:   "race URL",
		Short: "Send a request many times so all copies complete together",
		Long: `Send n copies of a request so the server sees them complete at nearly
the same instant.

Modes:
  last-byte      one connection per copy, the final bytes of every copy
                 are held back and released together (h1, h2, h3)
  single-packet  one HTTP/2 connection, the final frame of every stream
                 is written in a single transport write

Examples:
  rawhttp race -n 20 -X POST -d 'code=1234' https://example.com/redeem
  rawhttp race --mode single-packet -n 30 https://example.com/limit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRace(ctx, os.Stdout, &common, &request, args[0], n, mode)
		},
	}

	common.register(cmd)
	request.register(cmd)
	cmd.Flags().IntVarP(&n, "count", "n", 10, "Number of copies")
	cmd.Flags().StringVar(&mode, "mode", "last-byte", "Synchronization: last-byte or single-packet")

	return cmd
}

func runRace(ctx context.Context, w io.Writer, common *commonFlags, request *requestFlags, rawURL string, n int, modeName string) error {
	mode, ok := rawhttp.ParseRaceMode(modeName)
	if !ok {
		return rerrors.New("R082").WithDetail("--mode: " + modeName + " (want last-byte or single-packet)")
	}
	e, err := newEnv(ctx, common, rawURL)
	if err != nil {
		return err
	}
	req, err := request.build(rawURL)
	if err != nil {
		return err
	}

	res, err := e.client.Race(ctx, req, n, mode)
	e.finish(ctx)
	if res != nil {
		printRace(w, res)
	}
	return err
}

func printRace(w io.Writer, res *rawhttp.RaceResult) {
	for i, resp := range res.Responses {
		switch {
		case res.Errors[i] != nil:
			fmt.Fprintf(w, "%3d  error  %v\n", i, res.Errors[i])
		case resp != nil:
			fmt.Fprintf(w, "%3d  %d  %6d bytes  stream %d\n", i, resp.Status, len(resp.Body), resp.Stream)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "released within %v\n", res.Spread().Round(time.Microsecond))
	fmt.Fprintln(w, res.Result.String())
}
