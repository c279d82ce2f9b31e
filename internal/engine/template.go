package engine

import (
	"strings"

	"github.com/dripline/dripline/internal/lead"
)

// ResolveTemplate substitutes {{lead.<path>}} placeholders in body with
// values from the lead record. Placeholders whose path does not resolve, and
// malformed or non-lead placeholders, are left verbatim so the message still
// reads as authored rather than silently losing text.
func ResolveTemplate(body string, rec lead.Record) string {
	var out strings.Builder
	out.Grow(len(body))

	rest := body
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			out.WriteString(rest)
			return out.String()
		}
		close := strings.Index(rest[open:], "}}")
		if close < 0 {
			out.WriteString(rest)
			return out.String()
		}
		close += open

		out.WriteString(rest[:open])
		placeholder := rest[open : close+2]
		expr := strings.TrimSpace(rest[open+2 : close])

		if path, ok := strings.CutPrefix(expr, "lead."); ok {
			if val, found := rec.GetString(path); found {
				out.WriteString(val)
			} else {
				out.WriteString(placeholder)
			}
		} else {
			out.WriteString(placeholder)
		}
		rest = rest[close+2:]
	}
}
