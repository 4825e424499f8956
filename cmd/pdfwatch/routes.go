package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/pdfwatch/pdfwatch"
	"github.com/hazyhaar/pdfwatch/shield"
)

//go:embed static
var staticFS embed.FS

var errBadID = errors.New("document id must be an integer")

// newRouter wires the HTTP API on svc.
func newRouter(svc *pdfwatch.Service, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(staticFS, "static/index.html")
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(data)
	})
	r.Handle("/static/*", http.FileServerFS(staticFS))

	r.Get("/documents/", func(w http.ResponseWriter, r *http.Request) {
		skip := queryInt(r, "skip", 0)
		limit := queryInt(r, "limit", 0)
		if skip < 0 || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("skip and limit must be >= 0"))
			return
		}
		docs, err := svc.ListDocuments(r.Context(), skip, limit)
		if err != nil {
			shield.GetLogger(r.Context()).Error("http: list documents", "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if r.URL.Query().Get("include_data") != "true" {
			docs = pdfwatch.WithoutData(docs)
		}
		writeJSON(w, http.StatusOK, docs)
	})

	r.Get("/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		doc, ok := lookupDocument(w, r, svc)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, doc)
	})

	r.Get("/documents_download/{id}", func(w http.ResponseWriter, r *http.Request) {
		doc, ok := lookupDocument(w, r, svc)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
		w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
		w.Write(doc.Data)
	})

	limiter := shield.NewRateLimiter(max(svc.Config().TriggerRateLimit, 0), time.Minute)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)

		runTimeout := svc.Config().RunTimeout
		live := triggerHandler(svc.Run, runTimeout)
		r.Get("/documents_manual_trigger/", live)
		r.Post("/documents_manual_trigger/", live)

		wayback := triggerHandler(svc.RunHistorical, runTimeout)
		r.Get("/documents_manual_trigger_wayback/", wayback)
		r.Post("/documents_manual_trigger_wayback/", wayback)
	})

	r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		runs, err := svc.ListRuns(r.Context(), queryInt(r, "limit", 0))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	return r
}

type runFunc func(ctx context.Context, trigger, pageURL, ext string) (*pdfwatch.RunReport, error)

// triggerWriteSlack is added to the run timeout when extending the write
// deadline of a trigger response.
const triggerWriteSlack = 30 * time.Second

// triggerHandler runs fn for the page and extension given as query
// parameters (configured target when absent) and answers with the report.
// A run may outlast the server's WriteTimeout, so the write deadline of the
// response is pushed past runTimeout.
func triggerHandler(fn runFunc, runTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Now().Add(runTimeout + triggerWriteSlack)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			shield.GetLogger(r.Context()).Warn("http: extend write deadline", "error", err)
		}
		q := r.URL.Query()
		rep, err := fn(r.Context(), pdfwatch.TriggerManual, q.Get("page_url"), q.Get("ext"))
		switch {
		case errors.Is(err, pdfwatch.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		case err != nil:
			shield.GetLogger(r.Context()).Error("http: trigger failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":  err.Error(),
				"report": rep,
			})
		default:
			writeJSON(w, http.StatusOK, rep)
		}
	}
}

func lookupDocument(w http.ResponseWriter, r *http.Request, svc *pdfwatch.Service) (*pdfwatch.Document, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errBadID)
		return nil, false
	}
	doc, err := svc.GetDocument(r.Context(), id)
	if pdfwatch.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return nil, false
	}
	if err != nil {
		shield.GetLogger(r.Context()).Error("http: get document", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return doc, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
