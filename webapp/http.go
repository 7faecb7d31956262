package webapp

import (
	"crypto/subtle"
	"log"
	"net/http"
	"time"
)

func HTTPLogger(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		initialTime := time.Now()
		method := r.Method
		path := r.URL.String()
		wr := NewStatusCodeRecorderResponseWriter(w)
		handler.ServeHTTP(wr, r)
		finalTime := time.Now()
		statusCode := wr.Status
		log.Printf("http: time:%dms %d %s %s", finalTime.Sub(initialTime)/time.Millisecond, statusCode, method, path)
	})
}

type StatusCodeRecorderResponseWriter struct {
	http.ResponseWriter
	Status int
}

func (r *StatusCodeRecorderResponseWriter) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

func NewStatusCodeRecorderResponseWriter(w http.ResponseWriter) *StatusCodeRecorderResponseWriter {
	return &StatusCodeRecorderResponseWriter{ResponseWriter: w, Status: 200}
}

// BasicAuth gates every route behind the configured user list.
func BasicAuth(config *Config, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if ok {
			auth := config.Authentication[username]
			if auth != nil && subtle.ConstantTimeCompare([]byte(auth.Password), []byte(password)) == 1 {
				handler.ServeHTTP(w, r)
				return
			}
			log.Printf("http: rejected credentials for user %s", username)
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="annotator"`)
		w.WriteHeader(http.StatusUnauthorized)
	})
}
