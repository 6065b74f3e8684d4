package errors

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/copyleftdev/nsel/internal/logging"
)

// Response is the JSON body written for failed REST requests.
type Response struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// WriteError writes err as a JSON error response with the status from
// HTTPStatus. Internal errors are reported with their status text only.
func WriteError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Error: msg, Status: status})
}

// RecoveryMiddleware returns a middleware that recovers from panics.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				fields := map[string]interface{}{
					"panic": rec,
					"stack": string(debug.Stack()),
				}
				if r != nil {
					fields["method"] = r.Method
					fields["path"] = r.URL.Path
					fields["query"] = r.URL.RawQuery
					fields["request_id"] = middleware.GetReqID(r.Context())
				}
				logger.Error("Recovered from panic", fields)

				WriteError(w, New("panic while handling request").WithStatus(http.StatusInternalServerError))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
