package shield

import "net/http"

// HeadToGet serves HEAD requests with the GET handler so routes registered
// with r.Get() answer 200 instead of 405. net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
