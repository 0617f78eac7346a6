package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/mqttlink/internal/locator"
)

// locatorResponse describes a parsed or built broker locator.
type locatorResponse struct {
	Scheme    string `json:"scheme"`
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
	Path      string `json:"path"`
	Secure    bool   `json:"secure"`
	WebSocket bool   `json:"websocket"`
	Canonical string `json:"canonical"`
}

// handleLocator parses ?uri= or, without it, builds a locator from
// ?host=&port=&secure=&websocket=&path=.
func (s *Server) handleLocator(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if raw := q.Get("uri"); raw != "" {
		parts, err := locator.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, newLocatorResponse(parts))
		return
	}

	host := q.Get("host")
	if host == "" {
		writeBadRequest(w, "uri or host query parameter is required")
		return
	}

	secure, err := queryBool(q.Get("secure"))
	if err != nil {
		writeBadRequest(w, "secure must be a boolean")
		return
	}
	websocket, err := queryBool(q.Get("websocket"))
	if err != nil {
		writeBadRequest(w, "websocket must be a boolean")
		return
	}

	parts := locator.Parts{
		Scheme: locator.SchemeFor(secure, websocket),
		Host:   host,
		Path:   q.Get("path"),
	}
	if v := q.Get("port"); v != "" {
		n, convErr := strconv.ParseUint(v, 10, 16)
		if convErr != nil || n == 0 {
			writeBadRequest(w, "port must be between 1 and 65535")
			return
		}
		parts.Port = uint16(n)
	}

	writeJSON(w, http.StatusOK, newLocatorResponse(parts))
}

func newLocatorResponse(p locator.Parts) locatorResponse {
	return locatorResponse{
		Scheme:    p.Scheme.String(),
		Host:      p.Host,
		Port:      p.Port,
		Path:      p.Path,
		Secure:    p.Scheme.Secure(),
		WebSocket: p.Scheme.WebSocket(),
		Canonical: locator.Build(p),
	}
}

func queryBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
