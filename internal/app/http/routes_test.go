package routes

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paper-showcase/database"
	authapi "paper-showcase/internal/api/auth"
	"paper-showcase/internal/api/papers"
	"paper-showcase/internal/domain/details"
	"paper-showcase/internal/domain/session"
	"paper-showcase/internal/infra/durable"
	"paper-showcase/internal/infra/mirror"
	"paper-showcase/internal/reconcile"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

var secret = []byte("routes-secret")

type server struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	db, err := database.Open(":memory:", log)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mir, err := mirror.New(mirror.DefaultQuota)
	require.NoError(t, err)
	engine := reconcile.New(durable.New(db, log), mir, reconcile.WithLogger(log))

	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	r := gin.New()
	RegisterRoutes(r, Deps{
		Auth:   &authapi.Handler{Username: "admin", PasswordHash: string(hash), Secret: secret, Log: log},
		Papers: &papers.Handler{Engine: engine, Log: log},
		Secret: secret,
	})

	token, err := authapi.IssueToken(secret, session.New(true), time.Now())
	require.NoError(t, err)
	return &server{t: t, router: r, token: token}
}

func (s *server) do(method, path string, body *bytes.Buffer, contentType string, admin bool) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) json(method, path, body string, admin bool) *httptest.ResponseRecorder {
	return s.do(method, path, bytes.NewBufferString(body), "application/json", admin)
}

type detailsBody struct {
	Record   details.RecordJSON `json:"record"`
	EditedAt int64              `json:"editedAt"`
	View     details.View       `json:"view"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) detailsBody {
	t.Helper()
	var out detailsBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func pngFile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func multipartBody(t *testing.T, files map[string][]byte, order []string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range order {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthAndLogin(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", nil, "", false).Code)

	w := s.json(http.MethodPost, "/login", `{"username":"admin","password":"pw"}`, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "token")
}

func TestGetDefaultDetails(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/papers/3/details", nil, "", false)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, details.MainPlaceholder, body.Record.MainContent)
	assert.Equal(t, []string{details.NoContentPlaceholder}, body.View.Main)
	assert.Equal(t, details.NoImagesPlaceholder, body.View.Galleries[details.GalleryKey].Placeholder)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/papers/abc/details", nil, "", false).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/papers/0/details", nil, "", false).Code)
}

func TestEditRequiresAdmin(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusUnauthorized,
		s.json(http.MethodPut, "/papers/3/details", `{"mainContent":"x"}`, false).Code)
	assert.Equal(t, http.StatusUnauthorized,
		s.do(http.MethodDelete, "/papers/3/galleries/key/images/0", nil, "", false).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/admin/details/export", nil, "", false).Code)
}

func TestExpiredTokenReadsAsVisitor(t *testing.T) {
	s := newServer(t)
	expired, err := authapi.IssueToken(secret, session.New(true), time.Now().Add(-2*authapi.TokenTTL))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/papers/3/details", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, details.MainPlaceholder, decode(t, w).Record.MainContent)

	req = httptest.NewRequest(http.MethodPut, "/papers/3/details", bytes.NewBufferString(`{"mainContent":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+expired)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid or expired token")
}

func TestEditAndGalleryFlow(t *testing.T) {
	s := newServer(t)

	w := s.json(http.MethodPut, "/papers/7/details",
		`{"mainContent":"<b>Updated</b> by admin","linkContent":"www.example.org/paper"}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Updated by admin", body.Record.MainContent)
	assert.Equal(t, "https://www.example.org/paper", body.View.Link.Href)
	assert.NotZero(t, body.EditedAt)

	img := pngFile(t)
	files := map[string][]byte{"a.png": img, "b.png": img, "c.png": img}
	buf, ct := multipartBody(t, files, []string{"a.png", "b.png", "c.png"})
	w = s.do(http.MethodPost, "/papers/7/galleries/homepageImages/images", buf, ct, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, decode(t, w).Record.HomepageImages, 3)

	w = s.do(http.MethodDelete, "/papers/7/galleries/homepage/images/5", nil, "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodDelete, "/papers/7/galleries/homepage/images/1", nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w).Record.HomepageImages, 2)

	w = s.json(http.MethodPut, "/papers/7/galleries/homepage/swap", `{"from":0,"to":1}`, true)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.json(http.MethodPut, "/papers/7/galleries/homepage/reorder", `{"positions":[1,0]}`, true)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.json(http.MethodPut, "/papers/7/galleries/homepage/reorder", `{"positions":[0]}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.json(http.MethodPut, "/papers/7/galleries/cover/swap", `{"from":0,"to":1}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/papers/7/details/export", nil, "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "paperDetails07.json")
	var exported details.RecordJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exported))
	assert.Equal(t, "Updated by admin", exported.MainContent)
	assert.Len(t, exported.HomepageImages, 2)

	w = s.do(http.MethodGet, "/admin/details/export", nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Files map[string]details.RecordJSON `json:"files"`
		Index map[string]struct {
			Filename string `json:"filename"`
			PaperID  int64  `json:"paperId"`
		} `json:"index"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Contains(t, all.Files, "paperDetails07.json")
	assert.Equal(t, "paperDetails07.json", all.Index["7"].Filename)
	assert.NotContains(t, all.Files, "paperDetails04.json")

	// a paper list supplied by the caller includes never-edited papers
	w = s.do(http.MethodGet, "/admin/details/export?ids=4,7", nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Equal(t, details.MainPlaceholder, all.Files["paperDetails04.json"].MainContent)
	assert.Equal(t, "Updated by admin", all.Files["paperDetails07.json"].MainContent)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/admin/details/export?ids=1,x", nil, "", true).Code)
}

func TestUploadRejectsNonImages(t *testing.T) {
	s := newServer(t)

	buf, ct := multipartBody(t, map[string][]byte{"notes.txt": []byte("hello")}, []string{"notes.txt"})
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/papers/2/galleries/key/images", buf, ct, true).Code)

	buf, ct = multipartBody(t, map[string][]byte{"fake.png": []byte("not really a png")}, []string{"fake.png"})
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/papers/2/galleries/key/images", buf, ct, true).Code)

	buf, ct = multipartBody(t, map[string][]byte{}, nil)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/papers/2/galleries/key/images", buf, ct, true).Code)
}
