// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/halcyon/services/gateway/datatypes"
)

// =============================================================================
// Upload Tests
// =============================================================================

func newUploadRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	handler, err := NewUploadHandler(dir, "/uploads/")
	require.NoError(t, err)

	router := gin.New()
	router.POST("/api/uploads", handler.HandleUpload)
	return router, dir
}

func multipartBody(t *testing.T, fieldName, fileName, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		`form-data; name="`+fieldName+`"; filename="`+fileName+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

// TestHandleUpload_StoresFile verifies the happy path: file written under a
// generated key, payload returned.
func TestHandleUpload_StoresFile(t *testing.T) {
	router, dir := newUploadRouter(t)
	body, contentType := multipartBody(t, "file", "notes.txt", "text/plain", []byte("hello upload"))

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload datatypes.AttachmentPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "notes.txt", payload.FileName)
	assert.Equal(t, "text/plain", payload.MimeType)
	assert.EqualValues(t, len("hello upload"), payload.SizeBytes)
	assert.NotEmpty(t, payload.StorageKey)
	assert.Equal(t, "/uploads/"+payload.StorageKey, payload.URL)
	assert.True(t, len(payload.StorageKey) > 4 && filepath.Ext(payload.StorageKey) == ".txt")

	stored, err := os.ReadFile(filepath.Join(dir, payload.StorageKey))
	require.NoError(t, err)
	assert.Equal(t, "hello upload", string(stored))
}

// TestHandleUpload_SanitizesExtension verifies hostile file names cannot
// influence the on-disk path beyond a cleaned extension.
func TestHandleUpload_SanitizesExtension(t *testing.T) {
	router, dir := newUploadRouter(t)
	body, contentType := multipartBody(t, "file", "../../etc/passwd", "text/plain", []byte("nope"))

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload datatypes.AttachmentPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.NotContains(t, payload.StorageKey, "/")
	assert.NotContains(t, payload.StorageKey, "..")

	_, err := os.Stat(filepath.Join(dir, payload.StorageKey))
	assert.NoError(t, err)
}

// TestHandleUpload_NoFile verifies an empty form is a 400.
func TestHandleUpload_NoFile(t *testing.T) {
	router, _ := newUploadRouter(t)
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("note", "no file here"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no file")
}

// TestHandleUpload_MissingExtensionDefaults verifies extensionless names get
// the bin suffix.
func TestHandleUpload_MissingExtensionDefaults(t *testing.T) {
	router, _ := newUploadRouter(t)
	body, contentType := multipartBody(t, "file", "README", "", []byte("plain"))

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload datatypes.AttachmentPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, ".bin", filepath.Ext(payload.StorageKey))
	assert.Equal(t, "application/octet-stream", payload.MimeType)
}

// TestSanitizeFileName covers the cleaning rules directly.
func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "report-v2.pdf", sanitizeFileName("report-v2.pdf"))
	assert.Equal(t, "my-file.txt", sanitizeFileName("my file.txt"))
	assert.Equal(t, "etc-passwd", sanitizeFileName("/etc/passwd"))
	assert.Equal(t, "file", sanitizeFileName("///"))
	assert.Equal(t, "file", sanitizeFileName(""))
}
