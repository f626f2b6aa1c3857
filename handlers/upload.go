package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/jalad-shrimali/cdr-trace/export"
	"github.com/jalad-shrimali/cdr-trace/pipeline"
)

// Runner runs one file through the pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// Server serves upload, download and tile configuration.
type Server struct {
	Runner    Runner
	UploadDir string
	OutputDir string
	Tiles     map[string]string
	Origins   []string
}

type uploadResponse struct {
	RunID     string         `json:"run_id"`
	File      string         `json:"file"`
	Processed bool           `json:"processed"`
	Rows      int            `json:"rows"`
	Stats     pipeline.Stats `json:"stats"`
	Downloads []string       `json:"downloads"`
}

// max multipart memory; larger uploads spill to temp files
const maxMemory = 32 << 20

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.Origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
	}))

	r.Post("/upload", s.Upload)
	r.Get("/tiles", s.TileSources)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Handle("/download/*", http.StripPrefix("/download/", http.FileServer(http.Dir(s.OutputDir))))
	return r
}

// Upload runs the pipeline over the multipart "file" field and writes the
// processed CSV and xlsx report into the output directory.
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	log := zap.L().Named("handlers").With(zap.String("request_id", middleware.GetReqID(r.Context())))

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := filepath.Base(hdr.Filename)
	if name == "." || name == string(filepath.Separator) || strings.TrimSpace(name) == "" {
		http.Error(w, "missing file name", http.StatusBadRequest)
		return
	}

	for _, d := range []string{s.UploadDir, s.OutputDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	src := filepath.Join(s.UploadDir, name)
	if err := saveUploaded(file, src); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	in, err := os.Open(src)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer in.Close()

	resp, err := s.Runner.Run(r.Context(), pipeline.Request{Name: name, Body: in})
	if err != nil {
		if pipeline.IsInputError(err) {
			log.Info("upload rejected", zap.String("file", name), zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error("upload failed", zap.String("file", name), zap.Error(err))
		http.Error(w, "processing failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	csvPath, xlsxPath, err := export.Save(s.OutputDir, name, resp.Final)
	if err != nil {
		log.Error("export failed", zap.String("file", name), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		RunID:     resp.RunID,
		File:      name,
		Processed: resp.Processed,
		Rows:      len(resp.Final.Rows),
		Stats:     resp.Stats,
		Downloads: []string{"/download/" + filepath.Base(csvPath), "/download/" + filepath.Base(xlsxPath)},
	})
}

// TileSources returns the configured map tile layers.
func (s *Server) TileSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Tiles)
}

func saveUploaded(src io.Reader, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
