package grpcwebserver

import "net/http"

// applyCORSHeaders sets the headers spec.md §6 requires on every
// non-preflight response.
func applyCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", "*")
}

// writePreflight answers an OPTIONS request with the fixed CORS response
// from spec.md §6, grounded on sonora's wsgi/asgi _do_cors_preflight.
func writePreflight(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Expose-Headers", "*")
	h.Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}
