package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
)

// Page is an extra endpoint served next to /metrics, listed on the index.
type Page struct {
	Path    string
	Title   string
	Handler http.Handler
}

// JSONPage serves whatever fn returns as JSON.
func JSONPage(path, title string, fn func() any) Page {
	return Page{
		Path:  path,
		Title: title,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(fn())
		}),
	}
}

var indexTmpl = template.Must(template.New("index").Parse(`<html><body><h1>snapsearch</h1><ul>
<li><a href="/metrics">/metrics</a></li>
{{range .}}<li><a href="{{.Path}}">{{.Path}}</a> {{.Title}}</li>
{{end}}</ul></body></html>`))

func newMux(pages []Page) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	for _, p := range pages {
		mux.Handle("GET "+p.Path, p.Handler)
	}
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = indexTmpl.Execute(w, pages)
	})
	return mux
}

// StartServer serves /metrics and the given pages on port in the background.
// The returned func shuts the server down.
func StartServer(port int, pages ...Page) (shutdown func(context.Context) error) {
	log := logger.WithComponent("metrics-server")
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      newMux(pages),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("metrics server listening", "addr", server.Addr, "pages", len(pages))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return server.Shutdown
}
