package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/pdfwatch/pdfwatch"
)

var fakePDF = []byte("%PDF-1.4\nnot really a pdf\n%%EOF\n")

// setupAPI starts a watched site with one linked PDF and an API server on a
// fresh database.
func setupAPI(t *testing.T, rateLimit int) *httptest.Server {
	t.Helper()
	site := http.NewServeMux()
	site.HandleFunc("/page/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="files/exam-plan.pdf">Exam plan</a> <a href="files/gone.pdf">Gone</a>`))
	})
	site.HandleFunc("/page/files/exam-plan.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Write(fakePDF)
	})
	siteSrv := httptest.NewServer(site)
	t.Cleanup(siteSrv.Close)

	cfg := pdfwatch.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "pdfwatch.db")
	cfg.Target.PageURL = siteSrv.URL + "/page/"
	cfg.Fetch.AllowPrivate = true
	cfg.Fetch.Retries = -1
	cfg.Fetch.Timeout = 5 * time.Second
	cfg.Schedule.Disabled = true
	cfg.TriggerRateLimit = rateLimit

	svc, err := pdfwatch.Open(cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	api := httptest.NewServer(newRouter(svc, nil))
	t.Cleanup(api.Close)
	return api
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestRoutes_Health(t *testing.T) {
	// WHAT: /health answers GET and HEAD with the security headers set.
	// WHY: Load balancers check health with HEAD.
	api := setupAPI(t, -1)

	var body map[string]string
	if code := getJSON(t, api.URL+"/health", &body); code != 200 || body["status"] != "ok" {
		t.Fatalf("health: %d %v", code, body)
	}

	resp, err := http.Head(api.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("HEAD: got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" || resp.Header.Get("X-Trace-ID") == "" {
		t.Errorf("missing middleware headers: %v", resp.Header)
	}
}

func TestRoutes_TriggerListGetDownload(t *testing.T) {
	// WHAT: A manual trigger stores the linked PDF, which is then listed, fetched and downloaded.
	// WHY: This is the whole API surface in one flow.
	api := setupAPI(t, -1)

	var docs []map[string]any
	if code := getJSON(t, api.URL+"/documents/", &docs); code != 200 || len(docs) != 0 {
		t.Fatalf("empty list: %d %v", code, docs)
	}

	resp, err := http.Post(api.URL+"/documents_manual_trigger/", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var rep pdfwatch.RunReport
	json.NewDecoder(resp.Body).Decode(&rep)
	resp.Body.Close()
	if resp.StatusCode != 200 || rep.Run == nil {
		t.Fatalf("trigger: %d", resp.StatusCode)
	}
	if rep.Inserted != 1 || rep.NotFound != 1 || rep.Trigger != pdfwatch.TriggerManual {
		t.Errorf("report: %+v", rep.Run)
	}

	// GET trigger works too and finds nothing new.
	var again pdfwatch.RunReport
	if code := getJSON(t, api.URL+"/documents_manual_trigger/", &again); code != 200 || again.Inserted != 0 || again.Duplicates != 1 {
		t.Errorf("second trigger: %d %+v", code, again.Run)
	}

	if code := getJSON(t, api.URL+"/documents/", &docs); code != 200 || len(docs) != 1 {
		t.Fatalf("list: %d %v", code, docs)
	}
	if _, ok := docs[0]["data"]; ok {
		t.Error("list should omit data by default")
	}
	if docs[0]["filename"] != "exam-plan.pdf" || docs[0]["title"] != "Exam plan" {
		t.Errorf("document: %v", docs[0])
	}
	if docs[0]["pdf_creation_datetime"] != nil {
		t.Errorf("unreadable PDF should have no date: %v", docs[0]["pdf_creation_datetime"])
	}

	if code := getJSON(t, api.URL+"/documents/?include_data=true", &docs); code != 200 || docs[0]["data"] == nil {
		t.Error("include_data=true should return data")
	}

	var doc pdfwatch.Document
	if code := getJSON(t, api.URL+"/documents/1", &doc); code != 200 || !bytes.Equal(doc.Data, fakePDF) {
		t.Errorf("get: %d data=%q", code, doc.Data)
	}

	resp, err = http.Get(api.URL + "/documents_download/1")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.Header.Get("Content-Type") != "application/pdf" || !bytes.Equal(body, fakePDF) {
		t.Errorf("download: %s %q", resp.Header.Get("Content-Type"), body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "filename=exam-plan.pdf") {
		t.Errorf("content-disposition: %q", cd)
	}

	var runs []pdfwatch.Run
	if code := getJSON(t, api.URL+"/runs", &runs); code != 200 || len(runs) != 2 {
		t.Errorf("runs: %d %d", code, len(runs))
	}
}

func TestRoutes_DocumentErrors(t *testing.T) {
	// WHAT: Unknown ids are 404, non-integer ids 400, both with a JSON error.
	// WHY: Clients branch on the status code.
	api := setupAPI(t, -1)

	var body map[string]string
	if code := getJSON(t, api.URL+"/documents/42", &body); code != 404 || body["error"] != "document not found" {
		t.Errorf("unknown id: %d %v", code, body)
	}
	if code := getJSON(t, api.URL+"/documents/abc", &body); code != 400 || body["error"] == "" {
		t.Errorf("bad id: %d %v", code, body)
	}
	if code := getJSON(t, api.URL+"/documents_download/42", &body); code != 404 {
		t.Errorf("download unknown: %d", code)
	}
	if code := getJSON(t, api.URL+"/documents/?skip=-1", &body); code != 400 {
		t.Errorf("negative skip: %d", code)
	}
}

func TestRoutes_TriggerErrors(t *testing.T) {
	// WHAT: A bad page_url is 400; an unreachable page is 500 with the error.
	// WHY: Operators must tell their own mistakes from upstream failures.
	api := setupAPI(t, -1)

	var body map[string]any
	if code := getJSON(t, api.URL+"/documents_manual_trigger/?page_url=ftp://x/", &body); code != 400 {
		t.Errorf("bad url: %d %v", code, body)
	}
	if code := getJSON(t, api.URL+"/documents_manual_trigger/?page_url=http://127.0.0.1:1/", &body); code != 500 || body["error"] == nil {
		t.Errorf("unreachable: %d %v", code, body)
	}
}

func TestRoutes_TriggerRateLimit(t *testing.T) {
	// WHAT: Manual triggers beyond the per-minute limit get 429.
	// WHY: Each trigger starts a full scrape of the target.
	api := setupAPI(t, 1)

	if code := getJSON(t, api.URL+"/documents_manual_trigger/", nil); code != 200 {
		t.Fatalf("first trigger: %d", code)
	}
	if code := getJSON(t, api.URL+"/documents_manual_trigger/", nil); code != http.StatusTooManyRequests {
		t.Errorf("second trigger: got %d, want 429", code)
	}
	if code := getJSON(t, api.URL+"/documents/", nil); code != 200 {
		t.Errorf("listing is not limited: %d", code)
	}
}

func TestRoutes_StaticAndMetrics(t *testing.T) {
	// WHAT: The index page, its script and the metrics endpoint are served.
	api := setupAPI(t, -1)
	getJSON(t, api.URL+"/health", nil)

	for path, want := range map[string]string{
		"/":              "<title>pdfwatch</title>",
		"/static/app.js": "documents_manual_trigger",
		"/metrics":       "pdfwatch_http_requests_total",
	} {
		resp, err := http.Get(api.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != 200 || !strings.Contains(string(body), want) {
			t.Errorf("%s: %d, body lacks %q", path, resp.StatusCode, want)
		}
	}
}

func TestRoutes_TriggerOutlastsWriteTimeout(t *testing.T) {
	// WHAT: A trigger whose run takes longer than the server WriteTimeout still gets its report.
	// WHY: Replays routinely run for minutes; the client must not see a dropped connection.
	site := http.NewServeMux()
	site.HandleFunc("/page/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="files/slow.pdf">Slow</a>`))
	})
	site.HandleFunc("/page/files/slow.pdf", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(600 * time.Millisecond)
		w.Write(fakePDF)
	})
	siteSrv := httptest.NewServer(site)
	t.Cleanup(siteSrv.Close)

	cfg := pdfwatch.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "pdfwatch.db")
	cfg.Target.PageURL = siteSrv.URL + "/page/"
	cfg.Fetch.AllowPrivate = true
	cfg.Fetch.Retries = -1
	cfg.Schedule.Disabled = true
	cfg.TriggerRateLimit = -1
	svc, err := pdfwatch.Open(cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	api := httptest.NewUnstartedServer(newRouter(svc, nil))
	api.Config.WriteTimeout = 200 * time.Millisecond
	api.Start()
	t.Cleanup(api.Close)

	var rep pdfwatch.RunReport
	if code := getJSON(t, api.URL+"/documents_manual_trigger/", &rep); code != 200 {
		t.Fatalf("trigger: got %d", code)
	}
	if rep.Run == nil || rep.Inserted != 1 {
		t.Errorf("report: %+v", rep.Run)
	}
}
