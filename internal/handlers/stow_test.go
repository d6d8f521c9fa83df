package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/aggregator"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/plugins"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/services"
)

func newStowHandler(t *testing.T) *StowHandler {
	t.Helper()

	agg := aggregator.New(repository.NewMemoryPayloadRepository(), aggregator.Config{DefaultTimeout: time.Hour})
	ingest, err := services.NewIngestService(services.IngestConfig{TemporaryPath: t.TempDir()},
		repository.NewMemoryMetadataRepository(), agg, plugins.NewRegistry())
	require.NoError(t, err)
	return NewStowHandler(ingest, "dicomweb")
}

func multipartBody(t *testing.T, parts ...[]byte) (string, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, data := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Type", "application/dicom")
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	contentType := "multipart/related; type=\"application/dicom\"; boundary=" + writer.Boundary()
	return contentType, &buf
}

func TestStoreRejectsNonMultipartRequests(t *testing.T) {
	h := newStowHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/dicom-web/studies", bytes.NewReader([]byte("DICM")))
	req.Header.Set("Content-Type", "application/dicom")
	rec := httptest.NewRecorder()

	h.Store(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestStoreRequiresBoundary(t *testing.T) {
	h := newStowHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/dicom-web/studies", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "multipart/related; type=\"application/dicom\"")
	rec := httptest.NewRecorder()

	h.Store(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreReportsRejectedInstances(t *testing.T) {
	h := newStowHandler(t)

	contentType, body := multipartBody(t, []byte("not a dicom instance"), []byte("also not one"))
	req := httptest.NewRequest(http.MethodPost, "/dicom-web/studies", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Store(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp stowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Accepted)
	assert.Len(t, resp.Failed, 2)
}

func TestStoreAcceptsEmptyRequest(t *testing.T) {
	h := newStowHandler(t)

	contentType, body := multipartBody(t)
	req := httptest.NewRequest(http.MethodPost, "/dicom-web/studies", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Store(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
