package changefeed

// opWhitelist is the set of operation types the codec will emit verbatim;
// anything outside it is classified as "unknown" (spec §4.3 step 2).
var opWhitelist = map[string]bool{
	"insert":       true,
	"update":       true,
	"replace":      true,
	"delete":       true,
	"drop":         true,
	"rename":       true,
	"dropDatabase": true,
	"invalidate":   true,
}

const unknownOp = "unknown"

// classify maps a raw op_type to its sanitized form.
func classify(opType string) string {
	if opWhitelist[opType] {
		return opType
	}
	return unknownOp
}
