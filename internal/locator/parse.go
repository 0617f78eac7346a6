package locator

import (
	"strconv"
	"strings"
)

const schemeSeparator = "://"

// Parse splits a broker locator into its transport parameters.
//
// The locator must have the form scheme://[credentials@]host[:port][/path].
// A missing port resolves to the scheme's default and a missing path to "/".
// IPv6 hosts must be bracketed ("mqtt://[::1]:1883"); the brackets are
// stripped from Host.
//
// On failure the returned error wraps ErrInvalidLocator and a specific reason;
// no partially filled Parts is returned.
func Parse(locator string) (Parts, error) {
	idx := strings.Index(locator, schemeSeparator)
	if idx < 0 {
		return Parts{}, parseError(locator, ErrMissingSeparator, "")
	}

	scheme, ok := lookupScheme(locator[:idx])
	if !ok {
		return Parts{}, parseError(locator, ErrUnknownScheme, locator[:idx])
	}

	rest := locator[idx+len(schemeSeparator):]

	authority, path := rest, DefaultPath
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		authority, path = rest[:slash], rest[slash:]
	}

	// Credentials are not exposed; they are set on the client separately.
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		authority = authority[at+1:]
	}

	host, portText, err := splitHostPort(authority)
	if err != nil {
		return Parts{}, parseError(locator, err, "")
	}
	if host == "" {
		return Parts{}, parseError(locator, ErrEmptyHost, "")
	}

	port := scheme.DefaultPort()
	if portText != "" || strings.HasSuffix(authority, ":") {
		n, convErr := strconv.ParseUint(portText, 10, 16)
		if convErr != nil || n == 0 {
			return Parts{}, parseError(locator, ErrInvalidPort, portText)
		}
		port = uint16(n)
	}

	return Parts{
		Scheme: scheme,
		Host:   host,
		Port:   port,
		Path:   path,
	}, nil
}

// splitHostPort separates host and port text. Unlike net.SplitHostPort the
// port is optional.
func splitHostPort(authority string) (host, port string, err error) {
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", ErrEmptyHost
		}
		host = authority[1:end]
		tail := authority[end+1:]
		switch {
		case tail == "":
			return host, "", nil
		case strings.HasPrefix(tail, ":"):
			return host, tail[1:], nil
		default:
			return "", "", ErrInvalidPort
		}
	}

	colon := strings.LastIndexByte(authority, ':')
	if colon < 0 {
		return authority, "", nil
	}
	host = authority[:colon]
	if strings.Contains(host, ":") {
		return "", "", ErrUnbracketedHost
	}
	return host, authority[colon+1:], nil
}
