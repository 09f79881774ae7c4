package errors

// Template defines a registered error.
type Template struct {
	Kind       Kind
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// ============================================
	// Transport (R001-R009)
	// ============================================

	"R001": {
		Kind:    KindConnect,
		Message: "Connection failed",
		Detail:  "The transport could not be established.",
	},
	"R002": {
		Kind:       KindConnect,
		Message:    "TLS handshake failed",
		Suggestion: "Set tls.insecure in rawhttp.json to skip certificate verification",
	},
	"R003": {
		Kind:       KindConnect,
		Message:    "Protocol not negotiated",
		Detail:     "The server did not select the requested ALPN protocol.",
		Suggestion: "Run 'rawhttp detect' to see which protocols the target speaks",
	},
	"R004": {
		Kind:    KindConnect,
		Message: "Proxy handshake failed",
	},
	"R005": {
		Kind:    KindConnect,
		Message: "QUIC handshake failed",
	},

	// ============================================
	// Framing (R010-R029)
	// ============================================

	"R010": {
		Kind:    KindMalformed,
		Message: "Malformed frame",
		Detail:  "The bytes are too short or corrupt to extract a frame header.",
	},
	"R011": {
		Kind:    KindMalformed,
		Message: "Malformed header block",
	},
	"R012": {
		Kind:       KindMalformed,
		Message:    "Malformed HTTP/1 message",
		Suggestion: "Disable h1.strict to pass malformed lines through",
	},
	"R013": {
		Kind:    KindMalformed,
		Message: "Invalid Huffman encoding",
	},
	"R014": {
		Kind:    KindMalformed,
		Message: "Table size update above limit",
	},
	"R020": {
		Kind:    KindIncomplete,
		Message: "Incomplete input",
		Detail:  "More bytes are needed to complete the frame.",
	},

	// ============================================
	// Timing (R030-R039)
	// ============================================

	"R030": {
		Kind:    KindTimeout,
		Message: "Operation timed out",
	},
	"R031": {
		Kind:       KindTimeout,
		Message:    "Connect phase timed out",
		Suggestion: "Increase timeouts.connect or set it to \"off\"",
	},
	"R032": {
		Kind:    KindTimeout,
		Message: "No response bytes before first-byte deadline",
	},
	"R033": {
		Kind:    KindTimeout,
		Message: "Stream idle timeout",
	},

	// ============================================
	// Stream lifecycle (R040-R049)
	// ============================================

	"R040": {
		Kind:    KindStreamReset,
		Message: "Stream reset by peer",
	},
	"R041": {
		Kind:    KindGoAway,
		Message: "Connection going away",
		Detail:  "The peer sent GOAWAY with a last stream id below this stream.",
	},
	"R042": {
		Kind:    KindClosed,
		Message: "Connection closed",
	},

	// ============================================
	// Flow control (R050-R059)
	// ============================================

	"R050": {
		Kind:       KindFlowControl,
		Message:    "Flow-control window exceeded",
		Suggestion: "Use flow control mode \"wait\" to suspend or \"off\" to exceed the window",
	},

	// ============================================
	// Header compression (R060-R069)
	// ============================================

	"R060": {
		Kind:    KindEncodeIndex,
		Message: "Header field not present in table",
		Detail:  "An indexed representation was forced for a field the table does not hold.",
	},
	"R061": {
		Kind:    KindDecodeIndex,
		Message: "Header table index out of range",
	},
	"R062": {
		Kind:    KindBlocked,
		Message: "Header section blocked on encoder stream",
	},

	// ============================================
	// Usage (R070-R079)
	// ============================================

	"R070": {
		Kind:    KindUsage,
		Message: "Unknown stream",
	},
	"R071": {
		Kind:    KindUsage,
		Message: "Operation not supported by protocol",
	},
	"R072": {
		Kind:    KindUsage,
		Message: "Invalid target",
	},
	"R073": {
		Kind:    KindUsage,
		Message: "Too many redirects",
	},

	// ============================================
	// Config (R080-R089)
	// ============================================

	"R080": {
		Kind:       KindConfig,
		Message:    "Invalid configuration file",
		Suggestion: "Check that rawhttp.json is valid JSON",
	},
	"R081": {
		Kind:    KindConfig,
		Message: "Configuration file not found",
	},
	"R082": {
		Kind:    KindConfig,
		Message: "Invalid configuration value",
	},
}

// Lookup returns the template for a code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
