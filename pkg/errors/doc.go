// Package errors provides the structured error values returned by rawhttp.
//
// Every error the engine surfaces carries a Kind from a small taxonomy so that
// callers can tell an intentional malformation apart from a genuine failure:
//
//   - connect: transport or handshake failure, fatal to that connection
//   - malformed: bytes too short or corrupt to extract a frame header
//   - incomplete: more bytes are needed (internal to read loops)
//   - flow_control: a send would exceed the peer's window in strict mode
//   - timeout: a suspending operation exceeded its deadline
//   - encode_index / decode_index: header compression table misuse
//   - stream_reset / goaway / closed / blocked / usage
//
// # Matching
//
// Sentinels exist for every kind and match through wrapping:
//
//	if errors.Is(err, rerrors.ErrTimeout) {
//	    // the connection is left in its last observed state
//	}
//
// # Codes
//
// Errors built with New carry a registered code (e.g. "R010") with a message,
// a longer detail and a hint for the CLI:
//
//	err := rerrors.New("R040").
//	    WithStream(3).
//	    WithDetail("server sent RST_STREAM")
//
//	fmt.Println(err.Format())
//
// Nothing in rawhttp retries on error. Retrying belongs to the caller.
package errors
