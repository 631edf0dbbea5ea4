package server

import (
	"embed"
	"io/fs"
	"mime"
	"net/http"
	"path"
)

//go:embed assets
var embedded embed.FS

var assets, _ = fs.Sub(embedded, "assets")

const notFoundFallback = "404 - not found"

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.serveAsset(w, "index.html")
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	s.serveAsset(w, r.PathValue("filename"))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeNotFound(w)
}

func (s *Server) serveAsset(w http.ResponseWriter, name string) {
	data, err := fs.ReadFile(assets, name)
	if err != nil {
		writeNotFound(w)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

func writeNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data, err := fs.ReadFile(assets, "404.html")
	if err != nil {
		data = []byte(notFoundFallback)
	}
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(data)
}
