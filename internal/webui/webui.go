// Package webui embeds the static terminal page served by the web server.
package webui

import (
	"embed"
	"net/http"
)

//go:embed static
var staticFS embed.FS

// Index returns the terminal page bytes.
func Index() ([]byte, error) {
	return staticFS.ReadFile("static/index.html")
}

// Handler serves the terminal page. Every page route gets the same
// document; the page derives its session name from the URL path.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, err := Index()
		if err != nil {
			http.Error(w, "terminal page unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	})
}
