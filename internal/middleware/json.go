package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/valyala/fastjson"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// RequireJSON rejects POST/PUT/PATCH requests whose body is not valid JSON
// before any handler runs, and caps body size. The body is re-buffered so
// handlers can decode it normally.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			http.Error(w, `{"error":"unable to read request body"}`, http.StatusBadRequest)
			return
		}
		r.Body.Close()
		if len(body) > maxBodyBytes {
			http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}

		if len(body) > 0 {
			if err := fastjson.ValidateBytes(body); err != nil {
				http.Error(w, `{"error":"request body must be valid JSON"}`, http.StatusBadRequest)
				return
			}
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
