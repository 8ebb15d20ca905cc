package logx

import (
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// quietPaths are probed constantly by orchestrators and scrapers; they are logged at Debug.
var quietPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// anonymizeIP keeps the network part of a client address: the first three octets
// of an IPv4 address or the /64 prefix of an IPv6 address.
func anonymizeIP(remoteAddr string) string {
	addr, err := netip.ParseAddrPort(remoteAddr)
	var ip netip.Addr
	if err == nil {
		ip = addr.Addr()
	} else if ip, err = netip.ParseAddr(remoteAddr); err != nil {
		return "unknown_ip"
	}
	ip = ip.Unmap()

	if ip.IsLoopback() {
		return "127.0.0.1"
	}

	bits := 64
	if ip.Is4() {
		bits = 24
	}
	prefix, err := ip.Prefix(bits)
	if err != nil {
		return "unknown_ip"
	}
	return prefix.Addr().String()
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// RequestLogger returns a middleware that attaches a request-scoped logger to the context
// and logs one line per completed request. WebSocket upgrades are logged when the
// connection closes, with the connection lifetime as latency.
func RequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			logger := Component("http").With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("remote_ip", anonymizeIP(r.RemoteAddr)).
				Str("request_method", r.Method).
				Str("request_uri", r.RequestURI).
				Logger()

			r = r.WithContext(logger.WithContext(r.Context()))
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if isUpgrade(r) && status == 0 {
				status = http.StatusSwitchingProtocols
			}

			var ev *zerolog.Event
			switch {
			case status >= 500:
				ev = logger.Error()
			case status >= 400:
				ev = logger.Warn()
			default:
				if _, quiet := quietPaths[r.URL.Path]; quiet {
					ev = logger.Debug()
				} else {
					ev = logger.Info()
				}
			}

			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				ev = ev.Str("route", rctx.RoutePattern())
			}

			msg := "Request completed"
			if status == http.StatusSwitchingProtocols {
				msg = "WebSocket connection closed"
			}

			ev.Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Msg(msg)
		})
	}
}
