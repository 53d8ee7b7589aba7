package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/imagehost/internal/api/handlers"
	"github.com/bigkaa/imagehost/internal/api/middleware"
	"github.com/bigkaa/imagehost/internal/domain/binarylink"
	"github.com/bigkaa/imagehost/internal/domain/model"
	"github.com/bigkaa/imagehost/internal/imagecodec"
	"github.com/bigkaa/imagehost/internal/repository/repotest"
	"github.com/bigkaa/imagehost/internal/service"
	"github.com/bigkaa/imagehost/internal/storage/filestore"
)

const testKeyID = "e2e-key"

// testApp — полностью собранный роутер поверх in-memory хранилища.
type testApp struct {
	srv   *httptest.Server
	store *repotest.Store
	key   *rsa.PrivateKey
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	codec, err := imagecodec.New(imagecodec.ColorModeBinary, imagecodec.FormatJPEG, 95)
	if err != nil {
		t.Fatalf("ошибка создания кодека: %v", err)
	}

	store := repotest.NewSeeded()
	store.AddUser("basic", "Basic")
	store.AddUser("premium", "Premium")
	store.AddUser("enterprise", "Enterprise")
	store.AddUser("enterprise-2", "Enterprise")
	store.AddUser("nobody", "")

	plans := service.NewPlanCache(16, time.Minute)
	users := service.NewUserResolver(store, plans, logger)
	images := service.NewImageService(store, files, codec, 1<<20, logger)
	binaries := service.NewBinaryImageService(store, files, codec, logger)
	thumbnails := service.NewThumbnailService(images, files, codec, logger)
	health := handlers.NewHealthHandler(nil, nil, files)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	kf, err := keyfunc.NewJWKSetJSON(jwksJSON(&key.PublicKey))
	if err != nil {
		t.Fatalf("ошибка создания keyfunc: %v", err)
	}
	auth := middleware.NewJWTAuthWithKeyfunc(kf, "", 0, logger)

	api := handlers.NewAPIHandler(health, users, images, binaries, thumbnails, files, 1<<20, false, logger)
	router := NewRouter(api, middleware.RequestLogger(logger), auth.Middleware())

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testApp{srv: srv, store: store, key: key}
}

func jwksJSON(pub *rsa.PublicKey) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
	return data
}

func (a *testApp) token(t *testing.T, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	tok.Header["kid"] = testKeyID
	s, err := tok.SignedString(a.key)
	if err != nil {
		t.Fatalf("ошибка подписи токена: %v", err)
	}
	return s
}

// do выполняет запрос; subject "" — анонимный запрос.
func (a *testApp) do(t *testing.T, method, path, subject, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(t, subject))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartImage(t *testing.T, filename string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func (a *testApp) upload(t *testing.T, subject, filename string) *http.Response {
	t.Helper()
	body, ct := multipartImage(t, filename, pngBytes(t))
	return a.do(t, http.MethodPost, "/api/v1/images/", subject, ct, body)
}

func (a *testApp) createBinary(t *testing.T, subject, imageID, expiration string) *http.Response {
	t.Helper()
	form := url.Values{"expiration_time": {expiration}}.Encode()
	return a.do(t, http.MethodPost, "/api/v1/images/"+imageID+"/binary-image", subject,
		"application/x-www-form-urlencoded", strings.NewReader(form))
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("ошибка декодирования ответа: %v", err)
	}
	return v
}

type imageBody struct {
	ID         string            `json:"id"`
	ImageURL   string            `json:"image_url"`
	Thumbnails map[string]string `json:"thumbnails"`
}

type binaryBody struct {
	Link    string `json:"link"`
	URL     string `json:"url"`
	Expired *bool  `json:"expired"`
}

type errorBody struct {
	Error struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: статус %d, ожидается %d, тело: %s",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func TestUploadAndList(t *testing.T) {
	app := newTestApp(t)

	resp := app.upload(t, "", "cat.png")
	expectStatus(t, resp, http.StatusForbidden)
	if eb := decodeJSON[errorBody](t, resp); eb.Error.Code != "AUTHENTICATION_FAILED" {
		t.Errorf("code = %q", eb.Error.Code)
	}

	expectStatus(t, app.upload(t, "nobody", "cat.png"), http.StatusForbidden)
	expectStatus(t, app.upload(t, "basic", "cat.gif"), http.StatusBadRequest)

	resp = app.upload(t, "basic", "cat.png")
	expectStatus(t, resp, http.StatusCreated)
	img := decodeJSON[imageBody](t, resp)
	if img.ImageURL != "" {
		t.Errorf("Basic не должен получать прямую ссылку: %q", img.ImageURL)
	}
	if len(img.Thumbnails) != 2 {
		t.Errorf("ожидалось 2 миниатюры, получено %v", img.Thumbnails)
	}

	resp = app.do(t, http.MethodGet, "/api/v1/images/", "basic", "", nil)
	expectStatus(t, resp, http.StatusOK)
	list := decodeJSON[struct {
		Count int         `json:"count"`
		Items []imageBody `json:"items"`
	}](t, resp)
	if list.Count != 1 || len(list.Items) != 1 || list.Items[0].ID != img.ID {
		t.Errorf("неожиданный список: %+v", list)
	}

	// Чужие изображения не видны
	resp = app.do(t, http.MethodGet, "/api/v1/images/", "premium", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if other := decodeJSON[struct {
		Count int `json:"count"`
	}](t, resp); other.Count != 0 {
		t.Errorf("premium видит %d чужих изображений", other.Count)
	}
	expectStatus(t, app.do(t, http.MethodGet, "/api/v1/images/"+img.ID, "premium", "", nil), http.StatusForbidden)
}

func TestInvalidToken(t *testing.T) {
	app := newTestApp(t)

	req, _ := http.NewRequest(http.MethodGet, app.srv.URL+"/api/v1/images/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestBinaryImageLifecycle(t *testing.T) {
	app := newTestApp(t)

	resp := app.upload(t, "enterprise", "photo.png")
	expectStatus(t, resp, http.StatusCreated)
	img := decodeJSON[imageBody](t, resp)
	if !strings.HasPrefix(img.ImageURL, "/media/") {
		t.Errorf("Enterprise должен получать прямую ссылку: %q", img.ImageURL)
	}

	for _, bad := range []string{"32", "34543", "error"} {
		resp := app.createBinary(t, "enterprise", img.ID, bad)
		expectStatus(t, resp, http.StatusBadRequest)
		if eb := decodeJSON[errorBody](t, resp); eb.Error.Details["expiration_time"] == "" {
			t.Errorf("expiration_time=%s: нет детали поля: %+v", bad, eb)
		}
	}

	// Другой пользователь с тем же планом не может занять слот чужого изображения
	resp = app.createBinary(t, "enterprise-2", img.ID, "345")
	expectStatus(t, resp, http.StatusForbidden)
	if eb := decodeJSON[errorBody](t, resp); eb.Error.Code != "FORBIDDEN" {
		t.Errorf("code = %q", eb.Error.Code)
	}

	resp = app.createBinary(t, "enterprise", img.ID, "345")
	expectStatus(t, resp, http.StatusOK)
	bin := decodeJSON[binaryBody](t, resp)
	if !binarylink.IsValid(bin.Link) {
		t.Fatalf("некорректная ссылка %q", bin.Link)
	}

	// Повторное создание для того же изображения — конфликт
	expectStatus(t, app.createBinary(t, "enterprise", img.ID, "345"), http.StatusConflict)

	resp = app.do(t, http.MethodGet, bin.URL, "enterprise", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if data, _ := io.ReadAll(resp.Body); len(data) == 0 {
		t.Error("пустой файл binary image")
	}

	expectStatus(t, app.do(t, http.MethodGet, bin.URL, "", "", nil), http.StatusForbidden)
	expectStatus(t, app.do(t, http.MethodGet, bin.URL, "enterprise-2", "", nil), http.StatusForbidden)
	expectStatus(t, app.do(t, http.MethodGet, bin.URL, "basic", "", nil), http.StatusForbidden)
	expectStatus(t, app.do(t, http.MethodGet, "/api/v1/binary-images/zzzz", "enterprise", "", nil), http.StatusNotFound)

	resp = app.do(t, http.MethodGet, bin.URL+"/info", "enterprise", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if info := decodeJSON[binaryBody](t, resp); info.Expired == nil || *info.Expired {
		t.Errorf("свежая ссылка помечена как истёкшая: %+v", info)
	}

	expectStatus(t, app.do(t, http.MethodDelete, bin.URL, "enterprise-2", "", nil), http.StatusForbidden)
	expectStatus(t, app.do(t, http.MethodDelete, bin.URL, "enterprise", "", nil), http.StatusNoContent)
	expectStatus(t, app.do(t, http.MethodGet, bin.URL, "enterprise", "", nil), http.StatusNotFound)
}

func TestCreateBinary_RequiresPlan(t *testing.T) {
	app := newTestApp(t)

	resp := app.upload(t, "premium", "photo.png")
	expectStatus(t, resp, http.StatusCreated)
	img := decodeJSON[imageBody](t, resp)

	// Без allow_binary_download — 403 даже при некорректном сроке
	expectStatus(t, app.createBinary(t, "premium", img.ID, "error"), http.StatusForbidden)
	expectStatus(t, app.createBinary(t, "", img.ID, "345"), http.StatusForbidden)
}

func TestExpiredLink(t *testing.T) {
	app := newTestApp(t)

	created := binarylink.Truncate(time.Now().Add(-time.Hour))
	key := "binary/" + uuid.NewString() + "/old-binary.jpeg"
	b := &model.BinaryImage{
		ID:                uuid.NewString(),
		OwnerID:           "enterprise",
		StorageKey:        key,
		Link:              binarylink.Generate(created, key),
		ExpirationSeconds: 345,
		CreatedAt:         created,
	}
	if err := app.store.BinaryImages().Create(context.Background(), b); err != nil {
		t.Fatalf("ошибка вставки binary image: %v", err)
	}

	path := "/api/v1/binary-images/" + b.Link
	resp := app.do(t, http.MethodGet, path, "enterprise", "", nil)
	expectStatus(t, resp, http.StatusForbidden)
	if eb := decodeJSON[errorBody](t, resp); eb.Error.Code != "FORBIDDEN" {
		t.Errorf("code = %q", eb.Error.Code)
	}

	resp = app.do(t, http.MethodGet, path+"/info", "enterprise", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if info := decodeJSON[binaryBody](t, resp); info.Expired == nil || !*info.Expired {
		t.Errorf("истёкшая ссылка не помечена: %+v", info)
	}
}

func TestThumbnailsAndMedia(t *testing.T) {
	app := newTestApp(t)

	resp := app.upload(t, "premium", "photo.png")
	expectStatus(t, resp, http.StatusCreated)
	img := decodeJSON[imageBody](t, resp)

	resp = app.do(t, http.MethodGet, "/api/v1/images/"+img.ID+"/thumbnails/200", "premium", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type миниатюры = %q", ct)
	}

	expectStatus(t, app.do(t, http.MethodGet, "/api/v1/images/"+img.ID+"/thumbnails/800", "premium", "", nil), http.StatusForbidden)
	expectStatus(t, app.do(t, http.MethodGet, "/api/v1/images/"+img.ID+"/thumbnails/abc", "premium", "", nil), http.StatusBadRequest)
	expectStatus(t, app.do(t, http.MethodGet, "/api/v1/images/"+img.ID+"/thumbnails/200", "basic", "", nil), http.StatusForbidden)

	expectStatus(t, app.do(t, http.MethodGet, img.ImageURL, "premium", "", nil), http.StatusOK)
	expectStatus(t, app.do(t, http.MethodGet, img.ImageURL, "", "", nil), http.StatusForbidden)
	expectStatus(t, app.do(t, http.MethodHead, img.ImageURL, "basic", "", nil), http.StatusOK)

	expectStatus(t, app.do(t, http.MethodDelete, "/api/v1/images/"+img.ID, "basic", "", nil), http.StatusForbidden)
	expectStatus(t, app.do(t, http.MethodDelete, "/api/v1/images/"+img.ID, "premium", "", nil), http.StatusNoContent)
	expectStatus(t, app.do(t, http.MethodGet, "/api/v1/images/"+img.ID, "premium", "", nil), http.StatusNotFound)
	expectStatus(t, app.do(t, http.MethodGet, img.ImageURL, "premium", "", nil), http.StatusNotFound)
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)

	expectStatus(t, app.do(t, http.MethodGet, "/health/live", "", "", nil), http.StatusOK)
	// PostgreSQL не подключён — readiness fail
	expectStatus(t, app.do(t, http.MethodGet, "/health/ready", "", "", nil), http.StatusServiceUnavailable)
	expectStatus(t, app.do(t, http.MethodGet, "/metrics", "", "", nil), http.StatusOK)
}
