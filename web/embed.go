// Package web embeds the login page. Unknown paths fall back to the page so
// bookmarked routes still land on it.
package web

import (
	"bytes"
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"
)

//go:embed static
var staticFS embed.FS

const (
	indexFile = "index.html"
	// assetMaxAge applies to embedded files other than the page itself.
	assetMaxAge = "public, max-age=3600"
)

// Handler returns an http.Handler that serves the embedded page and assets.
// The page is revalidated on every load and may not be framed.
func Handler() http.Handler {
	subFS, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	index, err := fs.ReadFile(subFS, indexFile)
	if err != nil {
		panic("web: missing " + indexFile + ": " + err.Error())
	}
	started := time.Now()
	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name != "" && name != indexFile && isFile(subFS, name) {
			w.Header().Set("Cache-Control", assetMaxAge)
			fileServer.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "text/html; charset=utf-8")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		http.ServeContent(w, r, indexFile, started, bytes.NewReader(index))
	})
}

func isFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
