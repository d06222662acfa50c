// API tests drive the full handler stack through httptest, with a real
// SQLite database and an in-memory transport behind the coordinator.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jonbarlo/s4/internal/auth"
	"github.com/jonbarlo/s4/internal/db"
	"github.com/jonbarlo/s4/internal/vault"
)

type memTransport struct {
	objects map[string][]byte
	folders map[string]bool
}

func newMemTransport() *memTransport {
	return &memTransport{objects: make(map[string][]byte), folders: make(map[string]bool)}
}

func (m *memTransport) EnsureFolder(ctx context.Context, path string) error {
	m.folders[path] = true
	return nil
}

func (m *memTransport) RemoveFolder(ctx context.Context, path string) error {
	delete(m.folders, path)
	return nil
}

func (m *memTransport) Put(ctx context.Context, remotePath string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[remotePath] = data
	return nil
}

func (m *memTransport) Get(ctx context.Context, remotePath string, w io.Writer) error {
	data, ok := m.objects[remotePath]
	if !ok {
		return fmt.Errorf("no such object: %s", remotePath)
	}
	_, err := w.Write(data)
	return err
}

func (m *memTransport) RemoveFile(ctx context.Context, remotePath string) error {
	if _, ok := m.objects[remotePath]; !ok {
		return fmt.Errorf("no such object: %s", remotePath)
	}
	delete(m.objects, remotePath)
	return nil
}

type testAPI struct {
	srv       *httptest.Server
	db        *db.DB
	tokens    *auth.Tokens
	transport *memTransport
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()
	d, err := db.Open(ctx, t.TempDir()+"/api.db")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	mt := newMemTransport()
	tokens := &auth.Tokens{Secret: []byte("test-secret"), TTL: time.Hour}
	s := &Server{
		DB:     d,
		Vault:  &vault.Coordinator{DB: d, Transport: mt, StagingDir: t.TempDir()},
		Tokens: tokens,
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, db: d, tokens: tokens, transport: mt}
}

// newUser creates a user with the given permission and returns a valid
// bearer token for it.
func (a *testAPI) newUser(t *testing.T, name string, perm db.Permission) (int64, string) {
	t.Helper()
	id, err := a.db.CreateUser(context.Background(), name, "hash", perm)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	tok, err := a.tokens.Mint(id)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return id, tok
}

func (a *testAPI) request(t *testing.T, method, path, token string, body io.Reader, contentType string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("content-type"), "application/json") {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return resp, decoded
}

func (a *testAPI) jsonRequest(t *testing.T, method, path, token string, v any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return a.request(t, method, path, token, bytes.NewReader(data), "application/json")
}

func (a *testAPI) createBucket(t *testing.T, token, name, folder string) int64 {
	t.Helper()
	resp, body := a.jsonRequest(t, http.MethodPost, "/buckets", token,
		map[string]string{"name": name, "targetFTPfolder": folder})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create bucket: status %d body %v", resp.StatusCode, body)
	}
	b := body["bucket"].(map[string]any)
	return int64(b["id"].(float64))
}

func (a *testAPI) upload(t *testing.T, token string, bucketID int64, filename, sub, payload string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(payload)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.WriteField("bucketId", strconv.FormatInt(bucketID, 10)); err != nil {
		t.Fatalf("WriteField bucketId: %v", err)
	}
	if sub != "" {
		if err := mw.WriteField("targetFTPfolder", sub); err != nil {
			t.Fatalf("WriteField targetFTPfolder: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return a.request(t, http.MethodPost, "/files", token, &buf, mw.FormDataContentType())
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	resp, body := a.request(t, http.MethodGet, "/health", "", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["status"] != "ok" || body["dbOk"] != true {
		t.Fatalf("body: %v", body)
	}
}

func TestLoginFlow(t *testing.T) {
	a := newTestAPI(t)
	hash, err := auth.HashPassword("hunter2", auth.DefaultArgon2Params())
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if _, err := a.db.CreateUser(context.Background(), "alice", hash, db.PermFullControl); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	resp, body := a.jsonRequest(t, http.MethodPost, "/auth/login", "",
		map[string]string{"username": "alice", "password": "hunter2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d body %v", resp.StatusCode, body)
	}
	tok, _ := body["token"].(string)
	if tok == "" {
		t.Fatalf("no token in response: %v", body)
	}

	resp, _ = a.request(t, http.MethodGet, "/buckets", tok, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated list: status %d", resp.StatusCode)
	}

	resp, _ = a.jsonRequest(t, http.MethodPost, "/auth/login", "",
		map[string]string{"username": "alice", "password": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: status %d", resp.StatusCode)
	}
	resp, _ = a.jsonRequest(t, http.MethodPost, "/auth/login", "",
		map[string]string{"username": "nobody", "password": "x"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown user: status %d", resp.StatusCode)
	}
}

func TestUnauthenticated(t *testing.T) {
	a := newTestAPI(t)
	for _, path := range []string{"/buckets", "/files", "/folders"} {
		resp, _ := a.request(t, http.MethodGet, path, "", nil, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s without token: status %d", path, resp.StatusCode)
		}
	}
	resp, _ := a.request(t, http.MethodGet, "/buckets", "garbage-token", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d", resp.StatusCode)
	}
}

func TestReadOnlyUserCannotWrite(t *testing.T) {
	a := newTestAPI(t)
	_, tok := a.newUser(t, "reader", db.PermRead)

	resp, _ := a.jsonRequest(t, http.MethodPost, "/buckets", tok,
		map[string]string{"name": "b1", "targetFTPfolder": "/uploads/b1"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("create bucket as reader: status %d", resp.StatusCode)
	}
	resp, _ = a.request(t, http.MethodDelete, "/buckets/1", tok, nil, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("delete bucket as reader: status %d", resp.StatusCode)
	}

	resp, _ = a.request(t, http.MethodGet, "/buckets", tok, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list as reader: status %d", resp.StatusCode)
	}
}

func TestBucketLifecycle(t *testing.T) {
	a := newTestAPI(t)
	_, tok := a.newUser(t, "alice", db.PermFullControl)

	id := a.createBucket(t, tok, "b1", "/uploads/b1")
	if !a.transport.folders["/uploads/b1"] {
		t.Fatalf("remote folder not created")
	}

	resp, body := a.request(t, http.MethodGet, "/buckets", tok, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	buckets := body["buckets"].([]any)
	if len(buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(buckets))
	}
	b := buckets[0].(map[string]any)
	if b["name"] != "b1" || b["targetFTPfolder"] != "/uploads/b1" {
		t.Fatalf("bucket shape: %v", b)
	}

	resp, _ = a.jsonRequest(t, http.MethodPost, "/buckets", tok,
		map[string]string{"name": "b1", "targetFTPfolder": "/uploads/other"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("duplicate name: status %d", resp.StatusCode)
	}

	resp, body = a.request(t, http.MethodDelete, "/buckets/"+strconv.FormatInt(id, 10), tok, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	if body["deleted"].(float64) != 0 {
		t.Fatalf("deleted count: %v", body["deleted"])
	}

	resp, _ = a.request(t, http.MethodDelete, "/buckets/"+strconv.FormatInt(id, 10), tok, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: status %d", resp.StatusCode)
	}
}

func TestFileLifecycle(t *testing.T) {
	a := newTestAPI(t)
	_, tok := a.newUser(t, "alice", db.PermFullControl)
	bucketID := a.createBucket(t, tok, "b1", "/uploads/b1")

	resp, body := a.upload(t, tok, bucketID, "doc.txt", "docs", "hello upload")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: status %d body %v", resp.StatusCode, body)
	}
	f := body["file"].(map[string]any)
	fileID := int64(f["id"].(float64))
	if f["filename"] != "doc.txt" || f["targetFTPfolder"] != "/uploads/b1/docs" {
		t.Fatalf("file shape: %v", f)
	}
	if f["size"].(float64) != float64(len("hello upload")) {
		t.Fatalf("size: %v", f["size"])
	}

	req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/files/"+strconv.FormatInt(fileID, 10)+"/download", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	dlResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := io.ReadAll(dlResp.Body)
	dlResp.Body.Close()
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if dlResp.StatusCode != http.StatusOK {
		t.Fatalf("download: status %d", dlResp.StatusCode)
	}
	if string(data) != "hello upload" {
		t.Fatalf("download bytes: %q", data)
	}
	if cd := dlResp.Header.Get("content-disposition"); !strings.Contains(cd, `filename="doc.txt"`) {
		t.Fatalf("content-disposition: %q", cd)
	}

	resp, _ = a.request(t, http.MethodDelete, "/files/"+strconv.FormatInt(fileID, 10), tok, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete file: status %d", resp.StatusCode)
	}
	resp, _ = a.request(t, http.MethodDelete, "/files/"+strconv.FormatInt(fileID, 10), tok, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: status %d", resp.StatusCode)
	}
}

// TestUploadUnownedBucket maps a foreign or absent bucket to 400 on the
// upload route rather than 404.
func TestUploadUnownedBucket(t *testing.T) {
	a := newTestAPI(t)
	_, aliceTok := a.newUser(t, "alice", db.PermFullControl)
	_, bobTok := a.newUser(t, "bob", db.PermFullControl)
	bucketID := a.createBucket(t, aliceTok, "b1", "/uploads/b1")

	resp, body := a.upload(t, bobTok, bucketID, "doc.txt", "", "data")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("upload into foreign bucket: status %d body %v", resp.StatusCode, body)
	}
	resp, _ = a.upload(t, aliceTok, 9999, "doc.txt", "", "data")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("upload into absent bucket: status %d", resp.StatusCode)
	}
}

func TestUploadPathEscape(t *testing.T) {
	a := newTestAPI(t)
	_, tok := a.newUser(t, "alice", db.PermFullControl)
	bucketID := a.createBucket(t, tok, "b1", "/uploads/b1")

	resp, _ := a.upload(t, tok, bucketID, "doc.txt", "../other", "data")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("traversal sub-path: status %d", resp.StatusCode)
	}
}

func TestOwnershipHiddenAcrossUsers(t *testing.T) {
	a := newTestAPI(t)
	_, aliceTok := a.newUser(t, "alice", db.PermFullControl)
	_, bobTok := a.newUser(t, "bob", db.PermFullControl)
	bucketID := a.createBucket(t, aliceTok, "b1", "/uploads/b1")

	resp, body := a.upload(t, aliceTok, bucketID, "doc.txt", "", "secret")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: status %d", resp.StatusCode)
	}
	fileID := int64(body["file"].(map[string]any)["id"].(float64))

	resp, _ = a.request(t, http.MethodGet, "/files/"+strconv.FormatInt(fileID, 10)+"/download", bobTok, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("bob download: status %d", resp.StatusCode)
	}
	resp, _ = a.request(t, http.MethodDelete, "/files/"+strconv.FormatInt(fileID, 10), bobTok, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("bob delete: status %d", resp.StatusCode)
	}
	resp, _ = a.request(t, http.MethodDelete, "/buckets/"+strconv.FormatInt(bucketID, 10), bobTok, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("bob bucket delete: status %d", resp.StatusCode)
	}

	resp, body = a.request(t, http.MethodGet, "/files", bobTok, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bob list: status %d", resp.StatusCode)
	}
	if files := body["files"].([]any); len(files) != 0 {
		t.Fatalf("bob sees foreign files: %v", files)
	}
}

func TestFoldersEndpoint(t *testing.T) {
	a := newTestAPI(t)
	_, tok := a.newUser(t, "alice", db.PermFullControl)

	resp, body := a.request(t, http.MethodGet, "/folders", tok, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty folders: status %d", resp.StatusCode)
	}
	if folders := body["folders"].([]any); len(folders) != 0 {
		t.Fatalf("expected empty list, got %v", folders)
	}

	bucketID := a.createBucket(t, tok, "b1", "/uploads/b1")
	if resp, _ := a.upload(t, tok, bucketID, "a.txt", "docs", "x"); resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload a: status %d", resp.StatusCode)
	}
	if resp, _ := a.upload(t, tok, bucketID, "b.txt", "", "x"); resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload b: status %d", resp.StatusCode)
	}

	resp, body = a.request(t, http.MethodGet, "/folders", tok, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("folders: status %d", resp.StatusCode)
	}
	folders := body["folders"].([]any)
	if len(folders) != 2 || folders[0] != "/uploads/b1" || folders[1] != "/uploads/b1/docs" {
		t.Fatalf("folders: %v", folders)
	}

	resp, body = a.jsonRequest(t, http.MethodDelete, "/folders", tok,
		map[string]any{"folderPath": "docs", "bucketId": bucketID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete folder: status %d body %v", resp.StatusCode, body)
	}
	if body["deleted"].(float64) != 1 || body["remote_failures"].(float64) != 0 {
		t.Fatalf("delete folder body: %v", body)
	}

	resp, _ = a.jsonRequest(t, http.MethodDelete, "/folders", tok,
		map[string]any{"folderPath": "docs", "bucketId": bucketID})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second folder delete: status %d", resp.StatusCode)
	}

	resp, _ = a.jsonRequest(t, http.MethodDelete, "/folders", tok,
		map[string]any{"folderPath": "", "bucketId": bucketID})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty folderPath: status %d", resp.StatusCode)
	}
}

func TestAPIKeys(t *testing.T) {
	a := newTestAPI(t)
	_, tok := a.newUser(t, "alice", db.PermFullControl)

	resp, body := a.request(t, http.MethodPost, "/auth/keys", tok, nil, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create key: status %d", resp.StatusCode)
	}
	key, _ := body["key"].(string)
	keyID := int64(body["id"].(float64))
	if !strings.HasPrefix(key, "s4_") {
		t.Fatalf("key format: %q", key)
	}

	// The key authenticates on its own header.
	req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/buckets", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("X-API-Key", key)
	keyResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request with key: %v", err)
	}
	keyResp.Body.Close()
	if keyResp.StatusCode != http.StatusOK {
		t.Fatalf("key auth: status %d", keyResp.StatusCode)
	}

	resp, _ = a.request(t, http.MethodDelete, "/auth/keys/"+strconv.FormatInt(keyID, 10), tok, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete key: status %d", resp.StatusCode)
	}
	resp, _ = a.request(t, http.MethodDelete, "/auth/keys/"+strconv.FormatInt(keyID, 10), tok, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second key delete: status %d", resp.StatusCode)
	}
}

func TestBucketValidationErrors(t *testing.T) {
	a := newTestAPI(t)
	_, tok := a.newUser(t, "alice", db.PermFullControl)

	resp, _ := a.jsonRequest(t, http.MethodPost, "/buckets", tok,
		map[string]string{"name": "", "targetFTPfolder": "/uploads/x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty name: status %d", resp.StatusCode)
	}
	resp, _ = a.jsonRequest(t, http.MethodPost, "/buckets", tok,
		map[string]string{"name": "ok", "targetFTPfolder": "/uploads/../etc"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("traversal folder: status %d", resp.StatusCode)
	}
	resp, _ = a.request(t, http.MethodPost, "/buckets", tok, strings.NewReader("{not json"), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid json: status %d", resp.StatusCode)
	}
}
