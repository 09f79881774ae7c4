package main

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/transport"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print version, build and protocol information for the rawhttp CLI.`,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout(), short)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")

	return cmd
}

func printVersion(w io.Writer, short bool) {
	if short {
		fmt.Fprintln(w, version)
		return
	}

	fmt.Fprint(w, banner)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:    %s (%s, %s)\n", version, commit, date)
	fmt.Fprintf(w, "  User-Agent: %s\n", message.DefaultUserAgent)
	fmt.Fprintf(w, "  ALPN:       %s\n", strings.Join([]string{transport.ALPNHTTP3, transport.ALPNHTTP2, transport.ALPNHTTP1}, ", "))
	fmt.Fprintf(w, "  Runtime:    %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintln(w)
}
