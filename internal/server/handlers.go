package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/michaelbrown/rex/internal/archive"
	"github.com/michaelbrown/rex/internal/runtime"
)

const maxUploadMemory = 32 << 20

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeTransferred reports a runtime failure so the client can rebuild it.
func writeTransferred(w http.ResponseWriter, err error, traceback string) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, runtime.StatusTransferredError, runtime.TransferEnvelope{
		Exception: runtime.NewExceptionTransfer(err, traceback),
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Session handlers ---

func (s *Server) handleIsAlive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp, err := s.runtime.IsAlive(r.Context(), 0)
	if err != nil {
		writeTransferred(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req runtime.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	resp, err := s.runtime.CreateSession(r.Context(), &req)
	if err != nil {
		writeTransferred(w, err, "")
		return
	}
	s.sessions.Opened(r.Context(), req.Name, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunInSession(w http.ResponseWriter, r *http.Request) {
	var action runtime.Action
	if err := decodeJSON(r, &action); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	obs, err := s.runAction(r, &action)
	if err != nil {
		writeTransferred(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

// runAction runs and records one action. Shared with the websocket handler.
func (s *Server) runAction(r *http.Request, action *runtime.Action) (*runtime.Observation, error) {
	started := time.Now()
	obs, err := s.runtime.RunInSession(r.Context(), action)
	s.sessions.Recorded(r.Context(), action, obs, err, started)
	return obs, err
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req runtime.CloseSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	resp, err := s.runtime.CloseSession(r.Context(), &req)
	// The registry forgets the name whatever the close outcome.
	s.sessions.Closed(r.Context(), req.Session)
	if err != nil {
		writeTransferred(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Process and file handlers ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var cmd runtime.Command
	if err := decodeJSON(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	resp, err := s.runtime.Execute(r.Context(), &cmd)
	if err != nil {
		writeTransferred(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	var req runtime.ReadFileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	resp, err := s.runtime.ReadFile(r.Context(), &req)
	if err != nil {
		writeTransferred(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var req runtime.WriteFileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	resp, err := s.runtime.WriteFile(r.Context(), &req)
	if err != nil {
		writeTransferred(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpload stores the uploaded file at target_path, extracting it there
// instead when unzip is true.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	target := r.FormValue("target_path")
	if target == "" {
		writeError(w, http.StatusBadRequest, "target_path is required")
		return
	}
	unzip, _ := strconv.ParseBool(r.FormValue("unzip"))

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if err := s.storeUpload(file, target, unzip); err != nil {
		writeTransferred(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, runtime.UploadResponse{})
}

func (s *Server) storeUpload(file io.Reader, target string, unzip bool) error {
	if !unzip {
		return writeUploadedFile(file, target)
	}

	tmp, err := os.MkdirTemp("", "rex-upload-")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	zipPath := filepath.Join(tmp, "upload.zip")
	if err := writeUploadedFile(file, zipPath); err != nil {
		return err
	}
	if err := archive.Unzip(zipPath, target); err != nil {
		return fmt.Errorf("unpacking upload: %w", err)
	}
	s.logger.Debug("upload extracted", "target", target)
	return nil
}

func writeUploadedFile(file io.Reader, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return out.Close()
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	err := s.runtime.Close(r.Context())
	s.sessions.CloseAll(r.Context())
	if err != nil {
		writeTransferred(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
