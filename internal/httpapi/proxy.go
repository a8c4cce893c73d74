package httpapi

import (
	"net/http"
	"net/http/httputil"
	"strings"

	"go.uber.org/zap"
)

// upstreamProxy forwards /api/<path> to <upstream>/<path>, replacing the
// caller's token with the server's API key.
func (s *Server) upstreamProxy() http.Handler {
	target := s.deps.Upstream
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, "/api")
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Set("Authorization", "Bearer "+s.deps.UpstreamKey)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.log.Error("upstream proxy failed", zap.String("path", r.URL.Path), zap.Error(err))
			writeDetail(w, http.StatusBadGateway, "upstream unavailable")
		},
	}
}
