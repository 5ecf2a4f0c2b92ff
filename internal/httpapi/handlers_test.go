package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docqa-server/internal/answer"
	"github.com/bull/docqa-server/internal/filestore"
	"github.com/bull/docqa-server/internal/registry"
	"github.com/bull/docqa-server/internal/vectorindex"
)

type fakeIndex struct {
	healthy   bool
	deleted   []string
	deleteErr error
}

func (f *fakeIndex) Health(context.Context) error {
	if !f.healthy {
		return errors.New("down")
	}
	return nil
}

func (f *fakeIndex) DeleteCollection(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return f.deleteErr
}

type fakeAnswerer struct {
	result *answer.Result
	err    error
}

func (f *fakeAnswerer) Answer(_ context.Context, question, uid string) (*answer.Result, error) {
	if strings.TrimSpace(question) == "" || strings.TrimSpace(uid) == "" {
		return nil, answer.ErrInvalid
	}
	return f.result, f.err
}

type fakeInvalidator struct {
	uids []string
}

func (f *fakeInvalidator) Invalidate(uid string) { f.uids = append(f.uids, uid) }

type apiHarness struct {
	reg      *registry.Store
	files    *filestore.Store
	index    *fakeIndex
	cache    *fakeInvalidator
	answerer *fakeAnswerer
	handler  http.Handler
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	reg, err := registry.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	files, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	h := &apiHarness{
		reg:      reg,
		files:    files,
		index:    &fakeIndex{healthy: true},
		cache:    &fakeInvalidator{},
		answerer: &fakeAnswerer{},
	}
	h.handler = New(reg, files, h.index, h.cache, h.answerer, nil).Handler()
	return h
}

func (h *apiHarness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.index.healthy = false
	rec = h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUsersEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	_, err := h.reg.AddUser(context.Background(), "alice")
	require.NoError(t, err)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/users", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var users []registry.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Name)
}

func TestUploadHappyPath(t *testing.T) {
	h := newAPIHarness(t)

	body, contentType := multipartUpload(t, "file", "terms.pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := h.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	files, err := h.reg.List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "terms.pdf", files[0].Name)
	assert.Equal(t, registry.StatusUploaded, files[0].Status)

	data, err := h.files.Read("terms.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)
}

func TestUploadMissingFileField(t *testing.T) {
	h := newAPIHarness(t)

	body, contentType := multipartUpload(t, "wrong", "terms.pdf", []byte("%PDF"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)

	assert.Equal(t, http.StatusBadRequest, h.do(req).Code)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	h := newAPIHarness(t)

	body, contentType := multipartUpload(t, "file", "notes.txt", []byte("text"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)

	assert.Equal(t, http.StatusBadRequest, h.do(req).Code)

	files, err := h.reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files, "rejected upload creates no record")
}

func TestUploadDuplicateName(t *testing.T) {
	h := newAPIHarness(t)

	for i, want := range []int{http.StatusOK, http.StatusBadRequest} {
		body, contentType := multipartUpload(t, "file", "terms.pdf", []byte("%PDF"))
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		assert.Equal(t, want, h.do(req).Code, "upload %d", i)
	}

	files, err := h.reg.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 1, "duplicate upload creates no second record")
}

func TestFilesEmptyReturns404(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/files", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFilesListing(t *testing.T) {
	h := newAPIHarness(t)
	uid, err := h.reg.Create(context.Background(), "terms.pdf")
	require.NoError(t, err)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/files", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, uid, items[0]["uid"])
	assert.Equal(t, "terms.pdf", items[0]["name"])
	assert.Equal(t, "Uploaded", items[0]["status"])
}

func TestDeleteFile(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	uid, err := h.reg.Create(ctx, "terms.pdf")
	require.NoError(t, err)
	require.NoError(t, h.files.Write("terms.pdf", []byte("%PDF")))

	rec := h.do(httptest.NewRequest(http.MethodDelete, "/delete-file/"+uid, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err = h.reg.Get(ctx, uid)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	_, err = h.files.Read("terms.pdf")
	assert.Error(t, err, "file bytes removed")
	assert.Equal(t, []string{uid}, h.index.deleted, "vector collection deletion attempted")
	assert.Equal(t, []string{uid}, h.cache.uids, "cached retrievals invalidated")
}

func TestDeleteFileBestEffortCollectionCleanup(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	uid, err := h.reg.Create(ctx, "terms.pdf")
	require.NoError(t, err)
	h.index.deleteErr = vectorindex.ErrUnreachable

	rec := h.do(httptest.NewRequest(http.MethodDelete, "/delete-file/"+uid, nil))
	assert.Equal(t, http.StatusOK, rec.Code, "collection cleanup failure must not block deletion")

	_, err = h.reg.Get(ctx, uid)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestDeleteUnknownUID(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodDelete, "/delete-file/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, h.index.deleted, "no side effects for unknown uid")
}

func chatReq(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestChatHappyPath(t *testing.T) {
	h := newAPIHarness(t)
	h.answerer.result = &answer.Result{Answer: "30 days", Source: "terms.pdf", Page: "2"}

	rec := h.do(chatReq(`{"question":"What is the refund window?","file_uid":"uid-1"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var res answer.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "30 days", res.Answer)
	assert.Equal(t, "terms.pdf", res.Source)
	assert.Equal(t, "2", res.Page)
}

func TestChatValidation(t *testing.T) {
	h := newAPIHarness(t)

	assert.Equal(t, http.StatusBadRequest, h.do(chatReq(`not json`)).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(chatReq(`{"file_uid":"uid-1"}`)).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(chatReq(`{"question":"hi"}`)).Code)
}

func TestChatUnprocessedFileReturns404(t *testing.T) {
	h := newAPIHarness(t)
	h.answerer.err = vectorindex.ErrCollectionNotFound

	rec := h.do(chatReq(`{"question":"hi","file_uid":"uid-1"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatDownstreamFailureReturns500(t *testing.T) {
	h := newAPIHarness(t)
	h.answerer.err = answer.ErrDownstream

	rec := h.do(chatReq(`{"question":"hi","file_uid":"uid-1"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
