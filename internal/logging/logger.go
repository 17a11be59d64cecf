package logging

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// Environment is stamped on every request line.
type Environment struct {
	Service string
	Version string
	Commit  string
	Region  string
	Issuer  string
}

type ctxKey struct{}

// requestState carries the request id and the ledger facts handlers attach
// while serving one request.
type requestState struct {
	id     string
	mu     sync.Mutex
	fields map[string]any
}

func NewJSONLogger(level string) *slog.Logger {
	return NewJSONLoggerTo(os.Stdout, level)
}

// NewJSONLoggerTo builds a JSON logger whose records pick up the request id
// from the context they are logged with.
func NewJSONLoggerTo(w io.Writer, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(contextHandler{Handler: h})
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, rec slog.Record) error {
	if id := RequestID(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	return h.Handler.Handle(ctx, rec)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{Handler: h.Handler.WithGroup(name)}
}

// RequestID returns the id assigned by Middleware, or "" outside a request.
func RequestID(ctx context.Context) string {
	if st, ok := ctx.Value(ctxKey{}).(*requestState); ok && st != nil {
		return st.id
	}
	return ""
}

// AddField attaches a ledger fact (member id, block index, resolution
// outcome) to the current request line. It is a no-op outside Middleware.
func AddField(ctx context.Context, key string, value any) {
	st, ok := ctx.Value(ctxKey{}).(*requestState)
	if !ok || st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.fields[key] = value
}

func (st *requestState) attrs() []any {
	st.mu.Lock()
	defer st.mu.Unlock()
	keys := make([]string, 0, len(st.fields))
	for k := range st.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, slog.Any(k, st.fields[k]))
	}
	return out
}

// Middleware writes one http_request line per request. Handler facts added
// with AddField are grouped under "ledger"; route is the matched mux pattern.
func Middleware(logger *slog.Logger, env Environment) func(http.Handler) http.Handler {
	base := logger.With(
		slog.String("service", env.Service),
		slog.String("version", env.Version),
		slog.String("commit", env.Commit),
		slog.String("region", env.Region),
		slog.String("issuer", env.Issuer),
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			st := &requestState{id: strings.TrimSpace(r.Header.Get(RequestIDHeader)), fields: map[string]any{}}
			if st.id == "" {
				st.id = "req_" + uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, st.id)
			ctx := context.WithValue(r.Context(), ctxKey{}, st)
			r = r.WithContext(ctx)
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			var panicked any
			defer func() {
				level, outcome := slog.LevelInfo, "success"
				switch {
				case sw.status >= 500:
					level, outcome = slog.LevelError, "error"
				case sw.status >= 400:
					outcome = "rejected"
				}
				attrs := []any{
					slog.String("method", r.Method),
					slog.String("route", r.Pattern),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.Int("status", sw.status),
					slog.Int("bytes", sw.bytes),
					slog.Int64("duration_ms", time.Since(start).Milliseconds()),
					slog.String("outcome", outcome),
				}
				if ledgerAttrs := st.attrs(); len(ledgerAttrs) > 0 {
					attrs = append(attrs, slog.Group("ledger", ledgerAttrs...))
				}
				if panicked != nil {
					attrs = append(attrs, slog.Any("panic", panicked), slog.String("stack", string(debug.Stack())))
				}
				base.Log(ctx, level, "http_request", attrs...)
				if panicked != nil {
					panic(panicked)
				}
			}()
			defer func() {
				if panicked = recover(); panicked != nil {
					sw.status = http.StatusInternalServerError
					http.Error(sw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(sw, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}
