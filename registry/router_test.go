package registry

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("registry-test-secret")

func adminToken(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "admin", "exp": time.Now().Add(time.Hour).Unix()}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign admin token: %v", err)
	}
	return tok
}

func uploadRequest(t *testing.T, name, version, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("name", name)
	_ = w.WriteField("version", version)
	fw, err := w.CreateFormFile(uploadField, "plugin.zip")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write([]byte(content))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/plugins", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadThenGetThenDownload(t *testing.T) {
	router := NewRouter(NewStore(0), Config{JWTSigningKey: testSecret})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "echo", "1.0.0", "binary-contents"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/plugins/echo", nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}

	dlRec := httptest.NewRecorder()
	router.ServeHTTP(dlRec, httptest.NewRequest(http.MethodGet, "/plugins/echo/download", nil))
	if dlRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", dlRec.Code)
	}
	if dlRec.Header().Get("X-Plugin-Name") != "echo" {
		t.Fatalf("expected X-Plugin-Name header, got %q", dlRec.Header().Get("X-Plugin-Name"))
	}
	if dlRec.Body.String() != "binary-contents" {
		t.Fatalf("unexpected download body: %q", dlRec.Body.String())
	}
}

func TestUploadDuplicateReturnsConflict(t *testing.T) {
	router := NewRouter(NewStore(0), Config{JWTSigningKey: testSecret})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, uploadRequest(t, "echo", "1.0.0", "payload"))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, uploadRequest(t, "echo", "1.0.0", "different payload entirely"))
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", second.Code)
	}
}

func TestDeleteWithoutTokenIsRejected(t *testing.T) {
	router := NewRouter(NewStore(0), Config{JWTSigningKey: testSecret})
	router.ServeHTTP(httptest.NewRecorder(), uploadRequest(t, "echo", "1.0.0", "payload"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/plugins/echo", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}
}

func TestDeleteWithAdminTokenSucceeds(t *testing.T) {
	router := NewRouter(NewStore(0), Config{JWTSigningKey: testSecret})
	router.ServeHTTP(httptest.NewRecorder(), uploadRequest(t, "echo", "1.0.0", "payload"))

	req := httptest.NewRequest(http.MethodDelete, "/plugins/echo", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/plugins/echo", nil))
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", getRec.Code)
	}
}

func TestPromoteRequiresAdminAndUpdatesActiveVersion(t *testing.T) {
	router := NewRouter(NewStore(0), Config{JWTSigningKey: testSecret})
	router.ServeHTTP(httptest.NewRecorder(), uploadRequest(t, "echo", "1.0.0", "v1"))
	router.ServeHTTP(httptest.NewRecorder(), uploadRequest(t, "echo", "2.0.0", "v2"))

	unauth := httptest.NewRecorder()
	router.ServeHTTP(unauth, httptest.NewRequest(http.MethodPost, "/plugins/echo/versions/2.0.0/promote", nil))
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", unauth.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/plugins/echo/versions/2.0.0/promote", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got Record
	if err := json.Unmarshal(unwrapData(t, rec.Body.Bytes()), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Version != "2.0.0" {
		t.Fatalf("expected active version 2.0.0, got %s", got.Version)
	}
}

func TestListRespectsLimitAndCapsAt100(t *testing.T) {
	store := NewStore(0)
	for i := 0; i < 3; i++ {
		name := []string{"alpha", "beta", "gamma"}[i]
		if _, err := store.Upload(name, "1.0.0", []byte(name)); err != nil {
			t.Fatalf("seed upload: %v", err)
		}
	}
	router := NewRouter(store, Config{JWTSigningKey: testSecret})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plugins?limit=500", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Limit int `json:"limit"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Limit != maxLimit {
		t.Fatalf("expected limit capped at %d, got %d", maxLimit, env.Limit)
	}
	if env.Total != 3 {
		t.Fatalf("expected total 3, got %d", env.Total)
	}
}

// unwrapData extracts the "data" field from an envelope-wrapped JSON body.
func unwrapData(t *testing.T, body []byte) []byte {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unwrap envelope: %v", err)
	}
	return env.Data
}
