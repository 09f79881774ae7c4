package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┬─┐┌─┐┬ ┬┬ ┬┌┬┐┌┬┐┌─┐
  ├┬┘├─┤│││├─┤ │  │ ├─┘
  ┴└─┴ ┴└┴┘┴ ┴ ┴  ┴ ┴
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "rawhttp",
		Short: "HTTP/1.1, HTTP/2 and HTTP/3 from the wire up",
		Long: `rawhttp sends HTTP requests without enforcing conformance and shows
what comes back frame by frame.

  • HTTP/1.1, HTTP/2 (ALPN or prior knowledge) and HTTP/3 over QUIC
  • Header injection with \r\n escapes and verbatim header order
  • Last-byte and single-packet race synchronization
  • Protocol detection from ALPN and Alt-Svc
  • Frame decoding for captured HTTP/2 and HTTP/3 bytes`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		sendCmd(),
		raceCmd(),
		detectCmd(),
		decodeCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		var re *rerrors.Error
		if errors.As(err, &re) {
			fmt.Fprint(os.Stderr, re.Format())
		} else {
			fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		}
		os.Exit(1)
	}
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
