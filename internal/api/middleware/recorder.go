package middleware

import "net/http"

// statusRecorder запоминает код ответа и число записанных байт.
// Общий для RequestLogger и MetricsMiddleware.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

// record оборачивает w, если он ещё не обёрнут.
func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

// Unwrap нужен http.ResponseController и http.ServeContent.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
