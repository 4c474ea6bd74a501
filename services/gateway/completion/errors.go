// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package completion

import (
	"errors"
	"fmt"
)

// Sentinel errors for completion failures. Handlers map these to HTTP status
// codes on the buffered endpoints and to terminal error events on the
// streaming endpoints.
var (
	// ErrConfiguration indicates missing provider credentials.
	ErrConfiguration = errors.New("provider credentials not configured")

	// ErrUnsupportedAttachment indicates attachments were sent to a model
	// that cannot accept them.
	ErrUnsupportedAttachment = errors.New("model does not support attachments")

	// ErrAttachmentUnavailable indicates an attachment's backing file could
	// not be read.
	ErrAttachmentUnavailable = errors.New("attachment content unavailable")
)

// UpstreamError reports a provider rejection or transport failure. Status and
// Body are populated when the provider answered with a non-success HTTP
// status; Err is set for transport-level failures.
type UpstreamError struct {
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
