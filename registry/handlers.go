package registry

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

const (
	defaultLimit = 20
	maxLimit     = 100
	uploadField  = "plugin"
)

// Handler wires the registry Store to the HTTP surface described in §6.
type Handler struct {
	store *Store
}

// NewHandler constructs a Handler over store.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Upload handles POST /plugins: a multipart upload of a plugin archive
// named by the "name" and "version" form fields and carried in the
// "plugin" file part.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	name := r.FormValue("name")
	version := r.FormValue("version")

	file, _, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing %q file part", uploadField))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	rec, err := h.store.Upload(name, version, data)
	if err != nil {
		switch {
		case errors.Is(err, ErrTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, ErrDuplicate):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidUpload), errors.Is(err, ErrVersionInvalid):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// List handles GET /plugins?page=&limit=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(r, "limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	offset := (page - 1) * limit
	items, total := h.store.List(offset, limit)
	writePaginated(w, items, total, page, limit)
}

// Get handles GET /plugins/{name}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rec, err := h.store.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Download handles GET /plugins/{name}/download?version=.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	version := r.URL.Query().Get("version")

	data, rec, err := h.store.Download(name, version)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("X-Plugin-Name", rec.Name)
	w.Header().Set("X-Plugin-Version", rec.Version)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-%s.zip", rec.Name, rec.Version))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Delete handles DELETE /plugins/{name}. Requires an admin JWT (enforced by
// router-level middleware).
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.store.Delete(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListVersions handles GET /plugins/{name}/versions.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	versions, err := h.store.ListVersions(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

// GetVersion handles GET /plugins/{name}/versions/{v}.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	version := r.PathValue("v")
	rec, err := h.store.GetVersion(name, version)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Promote handles POST /plugins/{name}/versions/{v}/promote. Requires an
// admin JWT.
func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	version := r.PathValue("v")
	if err := h.store.Promote(name, version); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	rec, _ := h.store.GetVersion(name, version)
	writeJSON(w, http.StatusOK, rec)
}

// Rollback handles POST /plugins/{name}/versions/rollback. Requires an
// admin JWT.
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.store.Rollback(name); err != nil {
		if errors.Is(err, ErrNoVersions) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	rec, _ := h.store.Get(name)
	writeJSON(w, http.StatusOK, rec)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
