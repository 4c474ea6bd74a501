// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package completion

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/halcyonlabs/halcyon/services/gateway/datatypes"
)

// maxAttachmentChars caps extracted text inlined into the prompt. Anything
// longer is cut with an explicit truncation note so the model knows the
// document is incomplete.
const maxAttachmentChars = 50_000

// AttachmentContent is resolved attachment data ready for prompt assembly.
// Exactly one of the two constructors applies.
type AttachmentContent struct {
	// ImageURL is a fetchable URL or base64 data URL for image parts.
	ImageURL string

	// Text is inline text for document parts.
	Text string
}

// IsImage reports whether the content is an image part.
func (c AttachmentContent) IsImage() bool {
	return c.ImageURL != ""
}

// AttachmentResolver loads uploaded files and converts them into content the
// upstream providers accept.
//
// # Description
//
// Resolution depends on the attachment's MIME type:
//
//   - image/*: base64 data URL from the stored bytes.
//   - application/pdf: extracted plain text, truncated.
//   - valid UTF-8: the text itself, truncated.
//   - anything else: a base64 text fallback naming the file.
//
// Attachments without a storage key fall back to the last segment of a local
// upload URL. Fully remote references degrade to their URL for images and a
// descriptive text stub otherwise. A missing backing file for a known storage
// key is ErrAttachmentUnavailable.
type AttachmentResolver struct {
	uploadDir string
}

// NewAttachmentResolver creates a resolver over the upload directory.
func NewAttachmentResolver(uploadDir string) *AttachmentResolver {
	return &AttachmentResolver{uploadDir: uploadDir}
}

// Resolve loads one attachment and returns its prompt content.
func (r *AttachmentResolver) Resolve(att datatypes.AttachmentPayload) (AttachmentContent, error) {
	key := att.StorageKey
	if key == "" && !strings.Contains(att.URL, "://") {
		key = storageKeyFromURL(att.URL)
	}
	if key == "" {
		if strings.HasPrefix(att.MimeType, "image/") {
			return AttachmentContent{ImageURL: att.URL}, nil
		}
		return AttachmentContent{Text: fmt.Sprintf("Attached file: %s (%s).\n%s",
			att.FileName, att.MimeType, att.URL)}, nil
	}

	data, err := os.ReadFile(filepath.Join(r.uploadDir, filepath.Base(key)))
	if err != nil {
		return AttachmentContent{}, fmt.Errorf("read %s: %w", key, ErrAttachmentUnavailable)
	}

	switch {
	case strings.HasPrefix(att.MimeType, "image/"):
		dataURL := fmt.Sprintf("data:%s;base64,%s",
			att.MimeType, base64.StdEncoding.EncodeToString(data))
		return AttachmentContent{ImageURL: dataURL}, nil

	case att.MimeType == "application/pdf":
		text, err := extractPDFText(data)
		if err != nil {
			return AttachmentContent{}, fmt.Errorf("extract pdf %s: %w", key, ErrAttachmentUnavailable)
		}
		return AttachmentContent{Text: truncateText(text)}, nil

	case utf8.Valid(data):
		return AttachmentContent{Text: truncateText(string(data))}, nil

	default:
		return AttachmentContent{Text: fmt.Sprintf("Attached file (base64 encoded) %s:\n%s",
			att.FileName, base64.StdEncoding.EncodeToString(data))}, nil
	}
}

// extractPDFText pulls plain text out of an in-memory PDF.
func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	body, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	text, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(text), nil
}

// truncateText caps text at maxAttachmentChars with a truncation note.
func truncateText(text string) string {
	if len(text) <= maxAttachmentChars {
		return text
	}
	return fmt.Sprintf("%s\n\n[Text truncated, first %d of %d characters]",
		text[:maxAttachmentChars], maxAttachmentChars, len(text))
}

// storageKeyFromURL recovers a storage key from an upload URL by taking the
// last path segment without its query string.
func storageKeyFromURL(url string) string {
	segment := url
	if idx := strings.LastIndex(segment, "/"); idx >= 0 {
		segment = segment[idx+1:]
	}
	if idx := strings.Index(segment, "?"); idx >= 0 {
		segment = segment[:idx]
	}
	return strings.TrimSpace(segment)
}
