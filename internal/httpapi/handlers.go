package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/jonbarlo/s4/internal/auth"
	"github.com/jonbarlo/s4/internal/db"
	"github.com/jonbarlo/s4/internal/vault"
)

// Wire shapes keep the original API's field names.
type bucketJSON struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	TargetFTPFolder string `json:"targetFTPfolder"`
	UserID          int64  `json:"userId"`
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
}

type fileJSON struct {
	ID              int64  `json:"id"`
	Filename        string `json:"filename"`
	Size            int64  `json:"size"`
	UploadedAt      int64  `json:"uploadedAt"`
	BucketID        int64  `json:"bucketId"`
	UserID          int64  `json:"userId"`
	TargetFTPFolder string `json:"targetFTPfolder"`
}

func toBucketJSON(b *db.Bucket) bucketJSON {
	return bucketJSON{
		ID:              b.ID,
		Name:            b.Name,
		TargetFTPFolder: b.TargetFolder,
		UserID:          b.UserID,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func toFileJSON(f *db.File) fileJSON {
	return fileJSON{
		ID:              f.ID,
		Filename:        f.Filename,
		Size:            f.Size,
		UploadedAt:      f.UploadedAt,
		BucketID:        f.BucketID,
		UserID:          f.UserID,
		TargetFTPFolder: f.TargetFolder,
	}
}

func (s *Server) handleBuckets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		id, ok := s.requireRead(w, r)
		if !ok {
			return
		}
		buckets, err := s.Vault.ListBuckets(r.Context(), id.UserID)
		if err != nil {
			s.writeCoordinatorError(w, r, err)
			return
		}
		out := make([]bucketJSON, 0, len(buckets))
		for i := range buckets {
			out = append(out, toBucketJSON(&buckets[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"buckets": out})
	case http.MethodPost:
		id, ok := s.requireWrite(w, r)
		if !ok {
			return
		}
		var req struct {
			Name            string `json:"name"`
			TargetFTPFolder string `json:"targetFTPfolder"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		if req.Name == "" || req.TargetFTPFolder == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and targetFTPfolder are required"})
			return
		}
		b, err := s.Vault.CreateBucket(r.Context(), id.UserID, req.Name, req.TargetFTPFolder)
		if err != nil {
			s.writeCoordinatorError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"bucket": toBucketJSON(b)})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleBucketByID(w http.ResponseWriter, r *http.Request) {
	bucketID, rest, ok := pathID(r.URL.Path, "/buckets/")
	if !ok || len(rest) != 0 {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	id, okPerm := s.requireWrite(w, r)
	if !okPerm {
		return
	}
	deleted, err := s.Vault.DeleteBucket(r.Context(), id.UserID, bucketID)
	if err != nil {
		s.writeCoordinatorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		id, ok := s.requireRead(w, r)
		if !ok {
			return
		}
		files, err := s.Vault.ListFiles(r.Context(), id.UserID)
		if err != nil {
			s.writeCoordinatorError(w, r, err)
			return
		}
		out := make([]fileJSON, 0, len(files))
		for i := range files {
			out = append(out, toFileJSON(&files[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": out})
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireWrite(w, r)
	if !ok {
		return
	}

	maxBytes := s.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 128 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return
	}
	defer file.Close()

	bucketID, err := strconv.ParseInt(r.FormValue("bucketId"), 10, 64)
	if err != nil || bucketID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bucketId is required"})
		return
	}
	subPath := r.FormValue("targetFTPfolder")

	f, err := s.Vault.Upload(r.Context(), id.UserID, bucketID, hdr.Filename, subPath, file)
	if err != nil {
		// The upload contract reports an unowned or absent bucket as a
		// bad request, not a 404 on the file route.
		if errors.Is(err, vault.ErrNotFound) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bucket not found"})
			return
		}
		s.writeCoordinatorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"file": toFileJSON(f)})
}

func (s *Server) handleFileByID(w http.ResponseWriter, r *http.Request) {
	fileID, rest, ok := pathID(r.URL.Path, "/files/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(rest) == 0 && r.Method == http.MethodDelete:
		id, okPerm := s.requireWrite(w, r)
		if !okPerm {
			return
		}
		if err := s.Vault.DeleteFile(r.Context(), id.UserID, fileID); err != nil {
			s.writeCoordinatorError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
	case len(rest) == 1 && rest[0] == "download" && r.Method == http.MethodGet:
		s.handleDownload(w, r, fileID)
	case len(rest) == 0 || (len(rest) == 1 && rest[0] == "download"):
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, fileID int64) {
	id, ok := s.requireRead(w, r)
	if !ok {
		return
	}

	rc, f, err := s.Vault.Download(r.Context(), id.UserID, fileID)
	if err != nil {
		s.writeCoordinatorError(w, r, err)
		return
	}
	// Closing removes the staged copy on success, error, and client
	// disconnect alike.
	defer rc.Close()

	w.Header().Set("content-type", "application/octet-stream")
	w.Header().Set("content-disposition", `attachment; filename="`+sanitizeFilename(f.Filename)+`"`)
	w.Header().Set("content-length", strconv.FormatInt(f.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		s.log().Warn("download interrupted", "file", f.ID, "error", err)
	}
}

func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '"' || r == '\\' || r < 0x20 {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		id, ok := s.requireRead(w, r)
		if !ok {
			return
		}
		folders, err := s.Vault.Folders(r.Context(), id.UserID)
		if err != nil {
			s.writeCoordinatorError(w, r, err)
			return
		}
		if folders == nil {
			folders = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
	case http.MethodDelete:
		id, ok := s.requireWrite(w, r)
		if !ok {
			return
		}
		var req struct {
			FolderPath string `json:"folderPath"`
			BucketID   int64  `json:"bucketId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		if req.FolderPath == "" || req.BucketID <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "folderPath and bucketId are required"})
			return
		}
		res, err := s.Vault.DeleteFolder(r.Context(), id.UserID, req.BucketID, req.FolderPath)
		if err != nil {
			s.writeCoordinatorError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"deleted":         res.Deleted,
			"remote_failures": res.RemoteFailures,
		})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleAPIKeys(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	switch r.Method {
	case http.MethodGet:
		keys, err := s.DB.ListAPIKeysForUser(r.Context(), id.UserID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
			return
		}
		type item struct {
			ID        int64  `json:"id"`
			Key       string `json:"key"`
			CreatedAt int64  `json:"createdAt"`
		}
		out := make([]item, 0, len(keys))
		for _, k := range keys {
			out = append(out, item{ID: k.ID, Key: k.Key, CreatedAt: k.CreatedAt})
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": out})
	case http.MethodPost:
		key := auth.NewAPIKey()
		keyID, err := s.DB.CreateAPIKey(r.Context(), id.UserID, key)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": keyID, "key": key})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleAPIKeyByID(w http.ResponseWriter, r *http.Request) {
	keyID, rest, ok := pathID(r.URL.Path, "/auth/keys/")
	if !ok || len(rest) != 0 {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	id := identityFrom(r)
	rows, err := s.DB.DeleteAPIKeyForUser(r.Context(), keyID, id.UserID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}
	if rows == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}
