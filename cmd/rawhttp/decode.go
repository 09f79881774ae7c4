package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rawproto/rawhttp/pkg/h2"
	"github.com/rawproto/rawhttp/pkg/h3"
	"github.com/rawproto/rawhttp/pkg/hpack"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/qpack"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

func decodeCmd() *cobra.Command {
	var (
		proto  string
		stream uint64
	)

	cmd := &cobra.Command{
		Use:   "decode FILE",
		Short: "Decode captured HTTP/2 or HTTP/3 frames",
		Long: `Decode frames from FILE ("-" for stdin) and print them with their
decoded header blocks.

The input is hex when it consists only of hex digits and whitespace,
and raw bytes otherwise. A leading HTTP/2 client preface is skipped.
HTTP/3 input is the bytes of one stream; header blocks are decoded
against an empty QPACK table.

Examples:
  rawhttp decode --proto h2 capture.bin
  echo 000004080000000000000f0001 | rawhttp decode --proto h2 -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runDecode(cmd.OutOrStdout(), proto, stream, data)
		},
	}

	cmd.Flags().StringVar(&proto, "proto", "h2", "Framing: h2 or h3")
	cmd.Flags().Uint64Var(&stream, "stream", 0, "Stream id to report for h3 frames")

	return cmd
}

// readInput reads path, or stdin for "-", and decodes hex input.
func readInput(path string, stdin io.Reader) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if compact, ok := hexText(data); ok {
		return hex.DecodeString(compact)
	}
	return data, nil
}

// hexText reports whether data is hex digits and whitespace only, and
// returns the digits.
func hexText(data []byte) (string, bool) {
	var b strings.Builder
	for _, c := range data {
		switch {
		case c == ' ' || c == '\n' || c == '\r' || c == '\t':
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
			b.WriteByte(c)
		default:
			return "", false
		}
	}
	return b.String(), b.Len() > 0 && b.Len()%2 == 0
}

func runDecode(w io.Writer, proto string, stream uint64, data []byte) error {
	switch proto {
	case "h2":
		return decodeH2(w, data)
	case "h3":
		return decodeH3(w, stream, data)
	}
	return rerrors.New("R082").WithDetail("--proto: " + proto + " (want h2 or h3)")
}

func decodeH2(w io.Writer, data []byte) error {
	data = bytes.TrimPrefix(data, []byte(h2.Preface))
	frames, err := h2.ParseAll(data)
	dec := hpack.NewDecoder()
	var block []byte
	for _, f := range frames {
		fmt.Fprintln(w, f)
		switch f.Type {
		case h2.TypeHeaders, h2.TypePushPromise, h2.TypeContinuation:
			frag, ferr := f.HeaderBlock()
			if ferr != nil {
				fmt.Fprintf(w, "    %v\n", ferr)
				continue
			}
			block = append(block, frag...)
			if !f.EndHeaders() {
				continue
			}
			hs, derr := dec.Decode(block)
			block = nil
			printHeaders(w, hs, derr)
		case h2.TypeSettings:
			list, serr := f.SettingsList()
			if serr != nil {
				fmt.Fprintf(w, "    %v\n", serr)
			}
			for _, s := range list {
				fmt.Fprintf(w, "    %s = %d\n", s.ID, s.Val)
			}
		}
	}
	return err
}

func decodeH3(w io.Writer, stream uint64, data []byte) error {
	frames, err := h3.ParseAll(data, stream)
	dec := qpack.NewDecoder(0)
	for _, f := range frames {
		fmt.Fprintln(w, f)
		switch f.Type {
		case h3.TypeHeaders, h3.TypePushPromise:
			block, berr := f.HeaderBlock()
			if berr != nil {
				fmt.Fprintf(w, "    %v\n", berr)
				continue
			}
			hs, derr := dec.Decode(stream, block)
			printHeaders(w, hs, derr)
		case h3.TypeSettings:
			list, serr := f.SettingsList()
			if serr != nil {
				fmt.Fprintf(w, "    %v\n", serr)
			}
			for _, s := range list {
				fmt.Fprintf(w, "    %s = %d\n", s.ID, s.Val)
			}
		}
	}
	return err
}

func printHeaders(w io.Writer, hs message.Headers, err error) {
	for _, h := range hs {
		fmt.Fprintf(w, "    %s\n", h)
	}
	if err != nil {
		fmt.Fprintf(w, "    %v\n", err)
	}
}
