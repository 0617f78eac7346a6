package locator

import (
	"strconv"
	"strings"
)

// Build renders transport parameters as a locator string.
//
// The output is scheme://host[:port][path]. The port is omitted when it is
// zero or the scheme's default. The path is only emitted for WebSocket
// schemes, and only when non-empty, so for any locator x that parses:
//
//	p1, _ := Parse(x)
//	p2, _ := Parse(Build(p1))
//	p1.Equal(p2) == true
func Build(p Parts) string {
	var b strings.Builder

	b.WriteString(p.Scheme.String())
	b.WriteString(schemeSeparator)

	if strings.Contains(p.Host, ":") {
		b.WriteByte('[')
		b.WriteString(p.Host)
		b.WriteByte(']')
	} else {
		b.WriteString(p.Host)
	}

	if p.Port != 0 && p.Port != p.Scheme.DefaultPort() {
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(uint64(p.Port), 10))
	}

	if p.Scheme.WebSocket() && p.Path != "" {
		if !strings.HasPrefix(p.Path, "/") {
			b.WriteByte('/')
		}
		b.WriteString(p.Path)
	}

	return b.String()
}
