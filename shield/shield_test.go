package shield

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/pdfwatch/kit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func TestHeadToGet(t *testing.T) {
	// WHAT: HEAD reaches a GET-only route.
	// WHY: Uptime monitors use HEAD /health.
	r := chi.NewRouter()
	r.Use(HeadToGet)
	r.Get("/health", okHandler().ServeHTTP)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("HEAD status: got %d", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	// WHAT: Configured headers are set; empty ones are skipped.
	cfg := DefaultHeaders()
	cfg.ReferrerPolicy = ""
	h := SecurityHeaders(cfg)(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("nosniff: got %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("frame options: got %q", got)
	}
	if _, ok := w.Header()["Referrer-Policy"]; ok {
		t.Error("empty header should not be set")
	}
}

func TestMaxBody(t *testing.T) {
	// WHAT: Bodies over the cap are rejected with 413.
	// WHY: Trigger endpoints accept POST from any client.
	h := MaxBody(8)(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 100))))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body: got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader("tiny")))
	if w.Code != http.StatusOK {
		t.Errorf("small body: got %d", w.Code)
	}
}

func TestTraceID(t *testing.T) {
	// WHAT: A trace id is generated, exposed and placed in the context; valid incoming ids are kept.
	// WHY: Log lines of one request are correlated by trace_id.
	var ctxID string
	var gotLogger bool
	h := TraceID(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = kit.GetTraceID(r.Context())
		_, gotLogger = r.Context().Value(LoggerKey).(*slog.Logger)
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	hdr := w.Header().Get("X-Trace-ID")
	if len(hdr) != 16 || hdr != ctxID {
		t.Errorf("trace id: header=%q ctx=%q", hdr, ctxID)
	}
	if !gotLogger {
		t.Error("request logger missing from context")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status: got %d", w.Code)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-ID", "upstream-42")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-ID"); got != "upstream-42" {
		t.Errorf("incoming id: got %q", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-ID", "bad id\n")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-ID"); got == "bad id\n" {
		t.Error("malformed incoming id was kept")
	}
}

func TestGetLogger_Default(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if GetLogger(req.Context()) != slog.Default() {
		t.Error("expected slog.Default without middleware")
	}
}

func TestRateLimiter(t *testing.T) {
	// WHAT: Requests over the limit get 429 until the window resets; IPs are independent.
	// WHY: Manual triggers start full scrapes.
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(okHandler())

	call := func(ip string) int {
		req := httptest.NewRequest("POST", "/trigger", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if call("10.0.0.1") != 200 || call("10.0.0.1") != 200 {
		t.Fatal("first two requests should pass")
	}
	if got := call("10.0.0.1"); got != http.StatusTooManyRequests {
		t.Errorf("third request: got %d", got)
	}
	if got := call("10.0.0.2"); got != 200 {
		t.Errorf("other ip: got %d", got)
	}

	now = now.Add(2 * time.Minute)
	if got := call("10.0.0.1"); got != 200 {
		t.Errorf("after window: got %d", got)
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	for range 10 {
		if !rl.allow("1.2.3.4") {
			t.Fatal("disabled limiter blocked a request")
		}
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := ExtractIP(req); got != "192.0.2.1" {
		t.Errorf("remote addr: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.7" {
		t.Errorf("xff: got %q", got)
	}
}

func TestMetrics_RoutePattern(t *testing.T) {
	// WHAT: Requests are labelled with chi's route pattern, not the raw path.
	// WHY: Per-id paths must collapse into one series.
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/documents/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for _, id := range []string{"1", "2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/documents/"+id, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
	}

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "pdfwatch_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == "/documents/12" || labels["route"] == "/documents/1" {
				t.Errorf("raw path used as label: %v", labels)
			}
			if labels["route"] == "/documents/{id}" && labels["status"] == "200" {
				if got := m.GetCounter().GetValue(); got < 2 {
					t.Errorf("counter: got %v, want >= 2", got)
				}
				return
			}
		}
	}
	t.Error("no series for /documents/{id}")
}
