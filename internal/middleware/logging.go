package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Flush passthrough so streaming responses keep working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type accessLogLine struct {
	Time       string `json:"time"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Bytes      int    `json:"bytes"`
	RequestID  string `json:"request_id,omitempty"`
	RemoteAddr string `json:"remote_addr"`
}

// StructuredLogging returns request-logging middleware. format is "text" or
// "json".
func StructuredLogging(format string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: 200}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			reqID := GetRequestID(r.Context())

			if format == "json" {
				line, _ := json.Marshal(accessLogLine{
					Time:       start.UTC().Format(time.RFC3339),
					Method:     r.Method,
					Path:       r.URL.Path,
					Status:     rec.statusCode,
					DurationMs: duration.Milliseconds(),
					Bytes:      rec.bytes,
					RequestID:  reqID,
					RemoteAddr: r.RemoteAddr,
				})
				log.Printf("%s", line)
				return
			}

			if reqID != "" {
				log.Printf("[http] %s %s %d %v [%s]", r.Method, r.URL.Path, rec.statusCode, duration, reqID)
			} else {
				log.Printf("[http] %s %s %d %v", r.Method, r.URL.Path, rec.statusCode, duration)
			}
		})
	}
}
