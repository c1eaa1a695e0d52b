package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"dmchat/attachments"
	"dmchat/chat"
	"dmchat/models"
)

func (s *Server) handleAddImageMessage(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, models.KindImage, "image")
}

func (s *Server) handleAddAudioMessage(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, models.KindAudio, "audio")
}

// handleUpload stores the multipart file first and only then creates the
// message that references it. The stored file is removed again when the
// message cannot be created.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, kind models.MessageKind, field string) {
	if s.blobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "uploads are disabled"})
		return
	}

	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	file, header, err := r.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "upload too large"})
			return
		}
		writeBadRequest(w, fmt.Sprintf("%s is required", field))
		return
	}
	defer func() {
		_ = file.Close()
	}()

	if from == "" || to == "" {
		writeBadRequest(w, "from and to are required")
		return
	}
	if from == to {
		writeBadRequest(w, "sender and receiver must differ")
		return
	}

	tmpPath, err := s.spool(file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ref, err := s.blobs.Put(r.Context(), attachments.TempFile{Path: tmpPath, OriginalName: header.Filename}, kind)
	if err != nil {
		_ = os.Remove(tmpPath)
		if errors.Is(err, attachments.ErrInvalidUpload) {
			s.log.Warn().Err(err).Str("kind", string(kind)).Msg("upload rejected")
			writeBadRequest(w, err.Error())
			return
		}
		s.writeError(w, r, err)
		return
	}

	msg, err := s.chat.CreateMessage(r.Context(), chat.NewMessage{
		Content:    ref,
		Kind:       kind,
		SenderID:   from,
		ReceiverID: to,
	})
	if err != nil {
		if rmErr := s.blobs.Remove(r.Context(), ref); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("ref", ref).Msg("attachment stored without message")
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: msg})
}

// spool copies an upload into the blob store's temp dir under a random name.
func (s *Server) spool(src io.Reader) (string, error) {
	tmpPath := filepath.Join(s.blobs.TempDir(), uuid.NewString())
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create upload temp file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write upload temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close upload temp file: %w", err)
	}
	return tmpPath, nil
}

// uploadsHandler serves placed attachments. Files still being spooled are hidden.
func (s *Server) uploadsHandler() http.Handler {
	files := http.FileServer(http.Dir(s.blobs.Root()))
	hidden := "/" + attachments.TempDirName + "/"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(path.Clean(r.URL.Path)+"/", hidden) {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
