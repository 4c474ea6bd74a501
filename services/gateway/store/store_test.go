// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/halcyon/services/gateway/datatypes"
)

// =============================================================================
// Test Setup
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

// =============================================================================
// Session Tests
// =============================================================================

// TestCreateSession_DefaultTitle verifies nil and blank titles fall back to
// the default.
func TestCreateSession_DefaultTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fromNil, err := s.CreateSession(ctx, nil)
	require.NoError(t, err)
	fromBlank, err := s.CreateSession(ctx, strPtr("   "))
	require.NoError(t, err)

	assert.Equal(t, DefaultSessionTitle, fromNil.Title)
	assert.Equal(t, DefaultSessionTitle, fromBlank.Title)
	assert.NotEmpty(t, fromNil.ID)
	assert.NotEqual(t, fromNil.ID, fromBlank.ID)
	assert.NotNil(t, fromNil.Messages)
	assert.Empty(t, fromNil.Messages)
}

// TestCreateSession_CustomTitle verifies a provided title is trimmed and
// kept.
func TestCreateSession_CustomTitle(t *testing.T) {
	s := newTestStore(t)

	session, err := s.CreateSession(context.Background(), strPtr("  Research notes  "))

	require.NoError(t, err)
	assert.Equal(t, "Research notes", session.Title)
}

// TestGetSessionMeta_NotFound verifies the domain error for unknown IDs.
func TestGetSessionMeta_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSessionMeta(context.Background(), "nope")

	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// TestFetchSession_WithMessages verifies FetchSession includes the ordered
// history.
func TestFetchSession_WithMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, nil)
	require.NoError(t, err)

	_, err = s.InsertMessage(ctx, session.ID, datatypes.RoleUser, "hello", nil)
	require.NoError(t, err)
	_, err = s.InsertMessage(ctx, session.ID, datatypes.RoleAssistant, "hi there", nil)
	require.NoError(t, err)

	got, err := s.FetchSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.Equal(t, "hi there", got.Messages[1].Content)
}

// TestListSessions_OrderAndFiltering verifies archived sessions are hidden
// and the rest sort by recent activity.
func TestListSessions_OrderAndFiltering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older, err := s.CreateSession(ctx, strPtr("older"))
	require.NoError(t, err)
	archived, err := s.CreateSession(ctx, strPtr("archived"))
	require.NoError(t, err)
	newer, err := s.CreateSession(ctx, strPtr("newer"))
	require.NoError(t, err)

	require.NoError(t, s.ArchiveSession(ctx, archived.ID))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.TouchSession(ctx, newer.ID))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, older.ID, sessions[1].ID)
}

// TestArchiveSession verifies archiving flips the flag once and errors on
// repeats.
func TestArchiveSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, s.ArchiveSession(ctx, session.ID))

	meta, err := s.GetSessionMeta(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, meta.Archived)

	assert.ErrorIs(t, s.ArchiveSession(ctx, session.ID), ErrAlreadyArchived)
	assert.ErrorIs(t, s.ArchiveSession(ctx, "nope"), ErrSessionNotFound)
}

// TestDeleteSession_Cascades verifies deletion removes messages, indexes,
// and the sequence counter.
func TestDeleteSession_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, nil)
	require.NoError(t, err)
	msg, err := s.InsertMessage(ctx, session.ID, datatypes.RoleUser, "bye", nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, session.ID))

	_, err = s.GetSessionMeta(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.UpdateMessageContent(ctx, msg.ID, "x"), ErrMessageNotFound)
	assert.ErrorIs(t, s.DeleteSession(ctx, session.ID), ErrSessionNotFound)
}

// TestSetSessionTitle verifies the title update and its UpdatedAt bump.
func TestSetSessionTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.SetSessionTitle(ctx, session.ID, "Renamed"))

	meta, err := s.GetSessionMeta(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", meta.Title)
	assert.True(t, meta.UpdatedAt.After(session.UpdatedAt))
}

// =============================================================================
// Message Tests
// =============================================================================

// TestInsertMessage_PositionsMonotonic verifies positions count up from zero
// in insertion order.
func TestInsertMessage_PositionsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		msg, err := s.InsertMessage(ctx, session.ID, datatypes.RoleUser, "m", nil)
		require.NoError(t, err)
		assert.Equal(t, i, msg.Position)
	}

	conv, err := s.FetchConversation(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, conv, 5)
	for i, msg := range conv {
		assert.Equal(t, i, msg.Position)
	}
}

// TestInsertMessage_UnknownSession verifies inserts into missing sessions
// fail cleanly.
func TestInsertMessage_UnknownSession(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertMessage(context.Background(), "nope", datatypes.RoleUser, "m", nil)

	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// TestInsertMessage_AttachmentsStored verifies attachment payloads persist
// with the message and inherit its ID.
func TestInsertMessage_AttachmentsStored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, nil)
	require.NoError(t, err)

	atts := []datatypes.AttachmentPayload{{
		FileName:   "paper.pdf",
		MimeType:   "application/pdf",
		SizeBytes:  1234,
		URL:        "/uploads/k.pdf",
		StorageKey: "k.pdf",
	}}
	msg, err := s.InsertMessage(ctx, session.ID, datatypes.RoleUser, "see attached", atts)
	require.NoError(t, err)

	conv, err := s.FetchConversation(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, conv, 1)
	require.Len(t, conv[0].Attachments, 1)
	stored := conv[0].Attachments[0]
	assert.Equal(t, msg.ID, stored.MessageID)
	assert.Equal(t, "paper.pdf", stored.FileName)
	assert.Equal(t, "k.pdf", stored.StorageKey)
	assert.EqualValues(t, 1234, stored.SizeBytes)
}

// TestUpdateMessageContent verifies in-place content replacement through the
// message-id index.
func TestUpdateMessageContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, nil)
	require.NoError(t, err)
	msg, err := s.InsertMessage(ctx, session.ID, datatypes.RoleAssistant, "first draft", nil)
	require.NoError(t, err)

	require.NoError(t, s.UpdateMessageContent(ctx, msg.ID, "final answer"))

	conv, err := s.FetchConversation(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, "final answer", conv[0].Content)
	assert.Equal(t, msg.ID, conv[0].ID)

	assert.ErrorIs(t, s.UpdateMessageContent(ctx, "nope", "x"), ErrMessageNotFound)
}

// TestFetchConversation_Empty verifies a fresh session yields an empty,
// non-nil history.
func TestFetchConversation_Empty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, nil)
	require.NoError(t, err)

	conv, err := s.FetchConversation(ctx, session.ID)

	require.NoError(t, err)
	assert.NotNil(t, conv)
	assert.Empty(t, conv)

	_, err = s.FetchConversation(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// TestCancelledContext verifies operations respect context cancellation.
func TestCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateSession(ctx, nil)

	assert.ErrorIs(t, err, context.Canceled)
}

// TestPing verifies the health probe succeeds on an open store.
func TestPing(t *testing.T) {
	s := newTestStore(t)

	assert.NoError(t, s.Ping(context.Background()))
}
