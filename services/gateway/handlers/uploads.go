// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon/services/gateway/datatypes"
)

// maxUploadSize caps uploaded files at 20 MB.
const maxUploadSize = 20 * 1024 * 1024

// UploadHandler stores uploaded files and hands back attachment payloads
// that later chat requests reference.
type UploadHandler struct {
	uploadDir string
	baseURL   string
}

// NewUploadHandler creates an upload handler. The upload directory is
// created if missing; baseURL is the public prefix files are served from.
func NewUploadHandler(uploadDir, baseURL string) (*UploadHandler, error) {
	if err := os.MkdirAll(uploadDir, 0750); err != nil {
		return nil, fmt.Errorf("create upload directory %s: %w", uploadDir, err)
	}
	return &UploadHandler{
		uploadDir: uploadDir,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}, nil
}

// HandleUpload accepts one multipart file field and stores it under a
// generated storage key. POST /api/uploads.
//
// The original file name is kept only in the returned payload; on disk the
// file gets a UUID name with the sanitized extension, so nothing
// user-controlled lands in the filesystem path.
func (h *UploadHandler) HandleUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid multipart body"})
		return
	}

	var file *multipart.FileHeader
	for _, files := range form.File {
		if len(files) > 0 {
			file = files[0]
			break
		}
	}
	if file == nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "no file received"})
		return
	}

	if file.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "file too large (max 20 MB)"})
		return
	}

	originalName := file.Filename
	if originalName == "" {
		originalName = fmt.Sprintf("file-%s.bin", uuid.New().String())
	}
	sanitized := sanitizeFileName(originalName)
	extension := strings.TrimPrefix(filepath.Ext(sanitized), ".")
	if extension == "" {
		extension = "bin"
	}
	storageKey := fmt.Sprintf("%s.%s", uuid.New().String(), extension)

	mimeType := file.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	src, err := file.Open()
	if err != nil {
		slog.Error("failed to open uploaded file", "error", err, "fileName", originalName)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal server error"})
		return
	}
	defer src.Close()

	dstPath := filepath.Join(h.uploadDir, storageKey)
	dst, err := os.Create(dstPath)
	if err != nil {
		slog.Error("failed to create upload file", "error", err, "path", dstPath)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal server error"})
		return
	}
	defer dst.Close()

	written, err := io.Copy(dst, io.LimitReader(src, maxUploadSize+1))
	if err != nil {
		os.Remove(dstPath)
		slog.Error("failed to write upload", "error", err, "path", dstPath)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal server error"})
		return
	}
	if written > maxUploadSize {
		os.Remove(dstPath)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "file too large (max 20 MB)"})
		return
	}

	slog.Info("file uploaded", "fileName", originalName, "storageKey", storageKey, "sizeBytes", written)
	c.JSON(http.StatusOK, datatypes.AttachmentPayload{
		FileName:   originalName,
		MimeType:   mimeType,
		SizeBytes:  written,
		URL:        h.baseURL + "/" + storageKey,
		StorageKey: storageKey,
	})
}

// sanitizeFileName keeps alphanumerics, dots, dashes, and underscores,
// replacing everything else with a dash.
func sanitizeFileName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, name)
	trimmed := strings.Trim(cleaned, "-")
	if trimmed == "" {
		return "file"
	}
	return trimmed
}
