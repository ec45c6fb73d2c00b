package registry

import "net/http"

// Config parameterizes NewRouter.
type Config struct {
	// JWTSigningKey authenticates DELETE, promote, and rollback requests.
	JWTSigningKey []byte
	// MaxArtifactSize is the configured per-archive size limit in bytes.
	// NewRouter does not read it; uploads are bounded by the limit given
	// to NewStore.
	MaxArtifactSize int64
}

// NewRouter builds the registry's HTTP surface over store, matching the
// reference stack's own http.NewServeMux construction with Go 1.22+
// method-pattern routes.
func NewRouter(store *Store, cfg Config) http.Handler {
	mux := http.NewServeMux()
	h := NewHandler(store)
	admin := requireAdmin(cfg.JWTSigningKey)

	mux.HandleFunc("POST /plugins", h.Upload)
	mux.HandleFunc("GET /plugins", h.List)
	mux.HandleFunc("GET /plugins/{name}", h.Get)
	mux.HandleFunc("GET /plugins/{name}/download", h.Download)
	mux.Handle("DELETE /plugins/{name}", admin(http.HandlerFunc(h.Delete)))
	mux.HandleFunc("GET /plugins/{name}/versions", h.ListVersions)
	mux.HandleFunc("GET /plugins/{name}/versions/{v}", h.GetVersion)
	mux.Handle("POST /plugins/{name}/versions/{v}/promote", admin(http.HandlerFunc(h.Promote)))
	mux.Handle("POST /plugins/{name}/versions/rollback", admin(http.HandlerFunc(h.Rollback)))

	return mux
}
