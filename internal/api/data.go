package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/depotjobs/internal/model"
)

const maxUploadSize = 64 << 20 // 64 MB

// handleUploadData stores the request body as supplied data. The name and
// encoding come from query parameters; the media type from Content-Type.
func (s *Server) handleUploadData(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	enc, err := model.ParseEncoding(r.URL.Query().Get("encoding"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mediaType := r.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = model.MediaTypeOctet
	}
	if _, _, err := mime.ParseMediaType(mediaType); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid Content-Type")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	d, err := s.engine.StoreSuppliedData(r.Context(), name, mediaType, enc, r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.logger.Error("upload data", "name", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store data")
		return
	}

	dataBytesTotal.WithLabelValues("upload").Add(float64(d.Size))
	s.writeJSON(w, http.StatusCreated, d)
}

// handleDownloadData streams a stored blob. Gzip blobs are sent as-is with
// Content-Encoding when the client accepts gzip, and decoded otherwise.
func (s *Server) handleDownloadData(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")

	obj, ok, err := s.engine.TryObtainData(r.Context(), guid)
	if err != nil {
		s.logger.Error("open data", "data_guid", guid, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to open data")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "data not found")
		return
	}

	// Closing body closes obj.
	var body io.ReadCloser = obj
	if obj.Data.Encoding == model.EncodingGzip && acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Data.Size, 10))
	} else {
		decoded, err := obj.Decoded()
		if err != nil {
			obj.Close()
			s.logger.Error("decode data", "data_guid", guid, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to decode data")
			return
		}
		body = decoded
	}
	defer body.Close()

	w.Header().Set("Content-Type", obj.Data.MediaType)
	w.Header().Set("Vary", "Accept-Encoding")
	if filename, ok := s.engine.DeriveDataFilename(guid); ok {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	}

	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, body)
	dataBytesTotal.WithLabelValues("download").Add(float64(n))
	if err != nil {
		s.logger.Warn("download data", "data_guid", guid, "bytes", n, "error", err)
	}
}

func acceptsGzip(r *http.Request) bool {
	for part := range strings.SplitSeq(r.Header.Get("Accept-Encoding"), ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}
