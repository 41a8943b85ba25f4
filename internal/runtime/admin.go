package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/commitguard/internal/runtime/jsoncodec"
)

// StartAdminServer exposes the registered handlers, the channel report and
// the commit metrics as JSON on Conf.AdminPort. It is a no-op when the port is
// zero. The server starts with the service.
func (s *Service) StartAdminServer() {
	port := s.Conf.AdminPort
	if port == 0 {
		return
	}

	s.RegisterHTTPHandler(port, "/api/handlers", s.adminEndpoint(func() any { return s.Handlers() }))
	s.RegisterHTTPHandler(port, "/api/channels", s.adminEndpoint(func() any { return s.Channels() }))
	s.RegisterHTTPHandler(port, "/api/commits", s.adminEndpoint(func() any { return s.metrics.GetSnapshot() }))
}

func (s *Service) adminEndpoint(body func() any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if len(s.Conf.AdminCORSAllowedOrigins) > 0 {
			if allowed := s.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
		}

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodGet:
		default:
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := jsoncodec.Encode(w, body()); err != nil {
			s.Logger.Error("Failed to encode admin response", err, nil)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	})
}

func (s *Service) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.AdminCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
