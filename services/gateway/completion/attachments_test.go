// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package completion

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/halcyon/services/gateway/datatypes"
)

// =============================================================================
// Attachment Resolution Tests
// =============================================================================

func writeUpload(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0600))
}

// TestResolve_ImageBecomesDataURL verifies stored images inline as base64
// data URLs.
func TestResolve_ImageBecomesDataURL(t *testing.T) {
	dir := t.TempDir()
	raw := []byte{0x89, 'P', 'N', 'G', 0x01, 0x02}
	writeUpload(t, dir, "pic.png", raw)
	r := NewAttachmentResolver(dir)

	content, err := r.Resolve(datatypes.AttachmentPayload{
		FileName:   "pic.png",
		MimeType:   "image/png",
		StorageKey: "pic.png",
	})

	require.NoError(t, err)
	assert.True(t, content.IsImage())
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(raw), content.ImageURL)
}

// TestResolve_TextFile verifies UTF-8 files inline as plain text.
func TestResolve_TextFile(t *testing.T) {
	dir := t.TempDir()
	writeUpload(t, dir, "notes.txt", []byte("some notes"))
	r := NewAttachmentResolver(dir)

	content, err := r.Resolve(datatypes.AttachmentPayload{
		FileName:   "notes.txt",
		MimeType:   "text/plain",
		StorageKey: "notes.txt",
	})

	require.NoError(t, err)
	assert.False(t, content.IsImage())
	assert.Equal(t, "some notes", content.Text)
}

// TestResolve_LongTextTruncated verifies oversized documents get cut with a
// truncation note.
func TestResolve_LongTextTruncated(t *testing.T) {
	dir := t.TempDir()
	long := strings.Repeat("a", maxAttachmentChars+100)
	writeUpload(t, dir, "big.txt", []byte(long))
	r := NewAttachmentResolver(dir)

	content, err := r.Resolve(datatypes.AttachmentPayload{
		FileName:   "big.txt",
		MimeType:   "text/plain",
		StorageKey: "big.txt",
	})

	require.NoError(t, err)
	assert.Contains(t, content.Text, "[Text truncated, first 50000 of 50100 characters]")
	assert.True(t, strings.HasPrefix(content.Text, strings.Repeat("a", maxAttachmentChars)))
}

// TestResolve_BinaryFallsBackToBase64 verifies non-UTF-8 non-image data is
// described as base64 text.
func TestResolve_BinaryFallsBackToBase64(t *testing.T) {
	dir := t.TempDir()
	raw := []byte{0xff, 0xfe, 0x00, 0x01}
	writeUpload(t, dir, "blob.bin", raw)
	r := NewAttachmentResolver(dir)

	content, err := r.Resolve(datatypes.AttachmentPayload{
		FileName:   "blob.bin",
		MimeType:   "application/octet-stream",
		StorageKey: "blob.bin",
	})

	require.NoError(t, err)
	assert.Contains(t, content.Text, "blob.bin")
	assert.Contains(t, content.Text, base64.StdEncoding.EncodeToString(raw))
}

// TestResolve_CorruptPDF verifies an unparseable PDF is reported as
// unavailable rather than inlined as garbage.
func TestResolve_CorruptPDF(t *testing.T) {
	dir := t.TempDir()
	writeUpload(t, dir, "doc.pdf", []byte("not really a pdf"))
	r := NewAttachmentResolver(dir)

	_, err := r.Resolve(datatypes.AttachmentPayload{
		FileName:   "doc.pdf",
		MimeType:   "application/pdf",
		StorageKey: "doc.pdf",
	})

	assert.ErrorIs(t, err, ErrAttachmentUnavailable)
}

// TestResolve_MissingFile verifies a known storage key with no backing file
// fails with ErrAttachmentUnavailable.
func TestResolve_MissingFile(t *testing.T) {
	r := NewAttachmentResolver(t.TempDir())

	_, err := r.Resolve(datatypes.AttachmentPayload{
		FileName:   "gone.txt",
		MimeType:   "text/plain",
		StorageKey: "gone.txt",
	})

	assert.ErrorIs(t, err, ErrAttachmentUnavailable)
}

// TestResolve_KeyRecoveredFromURL verifies the storage key falls back to the
// last URL path segment.
func TestResolve_KeyRecoveredFromURL(t *testing.T) {
	dir := t.TempDir()
	writeUpload(t, dir, "abc123.txt", []byte("from url"))
	r := NewAttachmentResolver(dir)

	content, err := r.Resolve(datatypes.AttachmentPayload{
		FileName: "orig.txt",
		MimeType: "text/plain",
		URL:      "/uploads/abc123.txt?sig=xyz",
	})

	require.NoError(t, err)
	assert.Equal(t, "from url", content.Text)
}

// TestResolve_RemoteImageWithoutKey verifies keyless image references pass
// the URL through untouched.
func TestResolve_RemoteImageWithoutKey(t *testing.T) {
	r := NewAttachmentResolver(t.TempDir())

	content, err := r.Resolve(datatypes.AttachmentPayload{
		FileName: "remote.jpg",
		MimeType: "image/jpeg",
		URL:      "https://example.com/remote.jpg",
	})

	require.NoError(t, err)
	assert.True(t, content.IsImage())
	assert.Equal(t, "https://example.com/remote.jpg", content.ImageURL)
}

// TestResolve_PathTraversalConfined verifies storage keys cannot escape the
// upload directory.
func TestResolve_PathTraversalConfined(t *testing.T) {
	dir := t.TempDir()
	writeUpload(t, dir, "safe.txt", []byte("confined"))
	r := NewAttachmentResolver(dir)

	content, err := r.Resolve(datatypes.AttachmentPayload{
		FileName:   "evil",
		MimeType:   "text/plain",
		StorageKey: "../../safe.txt",
	})

	require.NoError(t, err)
	assert.Equal(t, "confined", content.Text)
}
