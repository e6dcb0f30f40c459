package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vincentbai/posetrace-agent/internal/models"
	"github.com/vincentbai/posetrace-agent/internal/pose"
	"github.com/vincentbai/posetrace-agent/internal/session"
)

const (
	maxSceneBytes = 64 << 20
	maxImageSide  = 8192
)

// Options controls what the server does around each capture.
type Options struct {
	OutputPath        string // recording file, flushed on demand and at shutdown
	SceneExportPath   string // copy of the first render scene; empty disables
	FlushEveryCapture bool
	AutoRegister      bool // adopt the first capture's object names
	SceneOptions      []pose.SceneOption
}

type Server struct {
	session *session.Session
	address string
	options Options
	server  *http.Server
}

func NewServer(sess *session.Session, address string, options Options) *Server {
	return &Server{
		session: sess,
		address: address,
		options: options,
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, request *http.Request) {
	if request.URL.Path != "/" {
		http.NotFound(w, request)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte("<!doctype html>\n<html><body><h1>Pose Recording Server</h1></body></html>\n"))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

// handleRender implements the render endpoint of a glTF render client.
// Instead of rendering it records the scene's poses and answers with a
// black image of the requested size.
func (s *Server) handleRender(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if err := request.ParseMultipartForm(maxSceneBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid form: %v", err))
		return
	}
	params, err := parseRenderParams(request)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sceneData, err := readScene(request)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scene, err := pose.ParseScene(sceneData, s.options.SceneOptions...)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid scene: %v", err))
		return
	}

	if !s.adopt(w, scene.Names()) {
		return
	}

	frame, ok := s.capture(w, scene)
	if !ok {
		return
	}
	if frame == 0 && s.options.SceneExportPath != "" {
		if err := exportScene(s.options.SceneExportPath, sceneData); err != nil {
			log.Printf("Failed to export scene: %v", err)
		}
	}

	var buffer bytes.Buffer
	if err := renderPlaceholder(&buffer, params); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buffer.Bytes())
}

func (s *Server) handleCapture(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var capture models.CaptureRequest
	if err := json.NewDecoder(request.Body).Decode(&capture); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	names := make([]string, 0, len(capture.Poses))
	for name := range capture.Poses {
		names = append(names, name)
	}
	sort.Strings(names)
	if !s.adopt(w, names) {
		return
	}
	frame, ok := s.capture(w, pose.NewTable(capture))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, models.CaptureResponse{Frame: frame})
}

// adopt registers names as the session's objects when auto-registration is
// on and nothing has been registered or captured yet. On failure it writes
// the error response and returns false.
func (s *Server) adopt(w http.ResponseWriter, names []string) bool {
	if !s.options.AutoRegister {
		return true
	}
	adopted, err := s.session.Adopt(names)
	if err != nil {
		log.Printf("Failed to register objects: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	if adopted {
		log.Printf("Tracking %d objects from the first capture", len(names))
	}
	return true
}

// capture records one frame from src and flushes if configured. On failure
// it writes the error response and returns false.
func (s *Server) capture(w http.ResponseWriter, src pose.Source) (models.Frame, bool) {
	frame, err := s.session.Capture(src)
	if err != nil {
		var notFound *pose.ObjectNotFoundError
		var invalid *pose.InvalidPoseError
		if errors.As(err, &notFound) || errors.As(err, &invalid) {
			log.Printf("Capture rejected: %v", err)
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return 0, false
		}
		log.Printf("Capture error: %v", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Internal server error: %v", err))
		return 0, false
	}
	log.Printf("Saved keyframe %d", frame)

	if s.options.FlushEveryCapture {
		if _, err := s.flush(); err != nil {
			log.Printf("Flush error: %v", err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write recording: %v", err))
			return 0, false
		}
	}
	return frame, true
}

func (s *Server) handleSnapshot(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	writeJSON(w, http.StatusOK, models.NewSnapshotJSON(s.session.Snapshot()))
}

type flushResponse struct {
	Path   string `json:"path"`
	Bytes  int    `json:"bytes"`
	Frames int    `json:"frames"`
}

func (s *Server) handleFlush(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	resp, err := s.flush()
	if err != nil {
		log.Printf("Flush error: %v", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write recording: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) flush() (flushResponse, error) {
	if s.options.OutputPath == "" {
		return flushResponse{}, errors.New("no output path configured")
	}
	snap, n, err := s.session.Flush(s.options.OutputPath)
	if err != nil {
		return flushResponse{}, err
	}
	return flushResponse{Path: s.options.OutputPath, Bytes: n, Frames: int(snap.NextFrame)}, nil
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/render", s.handleRender)
	mux.HandleFunc("/capture", s.handleCapture)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/flush", s.handleFlush)
	return mux
}

// Start serves until SIGINT or SIGTERM, then writes the final recording.
func (s *Server) Start() error {
	mux := s.setupRoutes()
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, syscall.SIGINT, syscall.SIGTERM)

	serveErrors := make(chan error, 1)
	go func() {
		log.Printf("Pose recording agent listening on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrors <- err
		}
	}()

	select {
	case err := <-serveErrors:
		return fmt.Errorf("server failed to start: %w", err)
	case <-shutdownChannel:
	}
	log.Println("Shutting down server...")

	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	resp, err := s.flush()
	if err != nil {
		return fmt.Errorf("failed to write final recording: %w", err)
	}
	log.Printf("Wrote %d frames to %s (%s)", resp.Frames, resp.Path, humanize.Bytes(uint64(resp.Bytes)))
	log.Println("Server exited")
	return nil
}

// parseRenderParams copies the render form fields into RenderParams.
// Unknown fields are rejected; "submit" is html boilerplate and ignored.
func parseRenderParams(request *http.Request) (models.RenderParams, error) {
	var params models.RenderParams
	required := map[string]bool{
		"scene_sha256": false, "image_type": false, "width": false, "height": false,
		"near": false, "far": false, "focal_x": false, "focal_y": false,
		"fov_x": false, "fov_y": false, "center_x": false, "center_y": false,
	}
	floats := map[string]*float64{
		"near": &params.Near, "far": &params.Far,
		"focal_x": &params.FocalX, "focal_y": &params.FocalY,
		"fov_x": &params.FovX, "fov_y": &params.FovY,
		"center_x": &params.CenterX, "center_y": &params.CenterY,
	}

	for name, values := range request.MultipartForm.Value {
		if name == "submit" {
			continue
		}
		if len(values) != 1 {
			return params, fmt.Errorf("field %s given %d times", name, len(values))
		}
		value := values[0]
		switch name {
		case "scene_sha256":
			params.SceneSHA256 = value
		case "image_type":
			if value != "color" && value != "depth" && value != "label" {
				return params, fmt.Errorf("invalid literal for image_type: %q", value)
			}
			params.ImageType = value
		case "width", "height":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 || n > maxImageSide {
				return params, fmt.Errorf("invalid %s: %q", name, value)
			}
			if name == "width" {
				params.Width = n
			} else {
				params.Height = n
			}
		case "min_depth", "max_depth":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return params, fmt.Errorf("invalid %s: %q", name, value)
			}
			if name == "min_depth" {
				params.MinDepth = &f
			} else {
				params.MaxDepth = &f
			}
		default:
			target, ok := floats[name]
			if !ok {
				return params, fmt.Errorf("unknown field %s", name)
			}
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return params, fmt.Errorf("invalid %s: %q", name, value)
			}
			*target = f
		}
		if _, ok := required[name]; ok {
			required[name] = true
		}
	}
	for name, present := range required {
		if !present {
			return params, fmt.Errorf("missing field %s", name)
		}
	}
	return params, nil
}

func readScene(request *http.Request) ([]byte, error) {
	if n := len(request.MultipartForm.File); n != 1 {
		return nil, fmt.Errorf("expected exactly one file, got %d", n)
	}
	file, _, err := request.FormFile("scene")
	if err != nil {
		return nil, fmt.Errorf("missing scene file: %w", err)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxSceneBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read scene: %w", err)
	}
	return data, nil
}

func exportScene(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Printf("Exported first scene to %s (%s)", path, humanize.Bytes(uint64(len(data))))
	return nil
}

func renderPlaceholder(w io.Writer, params models.RenderParams) error {
	img := image.NewRGBA(image.Rect(0, 0, params.Width, params.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	return png.Encode(w, img)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, models.ErrorResponse{Error: true, Message: message, Code: code})
}
