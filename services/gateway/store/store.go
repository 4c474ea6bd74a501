// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon/services/gateway/datatypes"
)

// Domain errors surfaced to handlers.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrSessionArchived = errors.New("session is archived")
	ErrAlreadyArchived = errors.New("session is already archived")
)

// DefaultSessionTitle is used when a session is created without one.
const DefaultSessionTitle = "New chat"

// Key layout. Message keys embed a zero-padded position so a prefix scan
// yields insertion order; the message-id index supports content updates
// without knowing the position.
//
//	session/<sessionID>            -> ChatSession (metadata, no messages)
//	msg/<sessionID>/<%012d>        -> ChatMessage
//	msgidx/<messageID>             -> message key
//	seq/<sessionID>                -> next position (uint64, big endian)
const (
	sessionPrefix = "session/"
	msgPrefix     = "msg/"
	msgIdxPrefix  = "msgidx/"
	seqPrefix     = "seq/"
)

func sessionKey(id string) []byte { return []byte(sessionPrefix + id) }
func msgKey(sessionID string, position uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%012d", msgPrefix, sessionID, position))
}
func msgIdxKey(messageID string) []byte { return []byte(msgIdxPrefix + messageID) }
func seqKey(sessionID string) []byte    { return []byte(seqPrefix + sessionID) }

// Store is the gateway's persistence layer for sessions, messages, and
// their attachments.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions give each operation
// snapshot isolation. Concurrent writers to the same message follow
// last-write-wins, which matches the gateway's optimistic concurrency
// policy.
type Store struct {
	db *db
}

// New opens a store with the given configuration.
func New(cfg Config) (*Store, error) {
	d, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: d}, nil
}

// Close releases the database. Blocks until background GC stops.
func (s *Store) Close() error {
	return s.db.close()
}

// Ping verifies the database answers a read. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(sessionKey("ping"))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// =============================================================================
// Sessions
// =============================================================================

// CreateSession creates a session. A nil or blank title gets the default.
func (s *Store) CreateSession(ctx context.Context, title *string) (datatypes.ChatSession, error) {
	name := DefaultSessionTitle
	if title != nil {
		if t := strings.TrimSpace(*title); t != "" {
			name = t
		}
	}

	now := time.Now().UTC()
	session := datatypes.ChatSession{
		ID:        uuid.New().String(),
		Title:     name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.withTxn(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, sessionKey(session.ID), session)
	})
	if err != nil {
		return datatypes.ChatSession{}, fmt.Errorf("create session: %w", err)
	}
	session.Messages = []datatypes.ChatMessage{}
	return session, nil
}

// GetSessionMeta returns session metadata without messages.
func (s *Store) GetSessionMeta(ctx context.Context, sessionID string) (datatypes.ChatSession, error) {
	var session datatypes.ChatSession
	err := s.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, sessionKey(sessionID), &session)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.ChatSession{}, ErrSessionNotFound
	}
	if err != nil {
		return datatypes.ChatSession{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return session, nil
}

// FetchSession returns a session with its full message history.
func (s *Store) FetchSession(ctx context.Context, sessionID string) (datatypes.ChatSession, error) {
	var session datatypes.ChatSession
	err := s.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, sessionKey(sessionID), &session); err != nil {
			return err
		}
		messages, err := readConversation(txn, sessionID)
		if err != nil {
			return err
		}
		session.Messages = messages
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.ChatSession{}, ErrSessionNotFound
	}
	if err != nil {
		return datatypes.ChatSession{}, fmt.Errorf("fetch session %s: %w", sessionID, err)
	}
	return session, nil
}

// ListSessions returns all non-archived sessions with their messages,
// newest activity first.
func (s *Store) ListSessions(ctx context.Context) ([]datatypes.ChatSession, error) {
	sessions := []datatypes.ChatSession{}
	err := s.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var session datatypes.ChatSession
			if err := decodeItem(it.Item(), &session); err != nil {
				return err
			}
			if session.Archived {
				continue
			}
			messages, err := readConversation(txn, session.ID)
			if err != nil {
				return err
			}
			session.Messages = messages
			sessions = append(sessions, session)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// DeleteSession removes a session, its messages, and all indexes.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	err := s.db.withTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sessionID)); err != nil {
			return err
		}

		messages, err := readConversation(txn, sessionID)
		if err != nil {
			return err
		}
		for _, msg := range messages {
			if err := txn.Delete(msgIdxKey(msg.ID)); err != nil {
				return err
			}
			if err := txn.Delete(msgKey(sessionID, uint64(msg.Position))); err != nil {
				return err
			}
		}
		if err := txn.Delete(seqKey(sessionID)); err != nil {
			return err
		}
		return txn.Delete(sessionKey(sessionID))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// ArchiveSession marks a session archived. Archiving twice is an error so
// the handler can report it distinctly.
func (s *Store) ArchiveSession(ctx context.Context, sessionID string) error {
	err := s.db.withTxn(ctx, func(txn *badger.Txn) error {
		var session datatypes.ChatSession
		if err := getJSON(txn, sessionKey(sessionID), &session); err != nil {
			return err
		}
		if session.Archived {
			return ErrAlreadyArchived
		}
		session.Archived = true
		session.UpdatedAt = time.Now().UTC()
		return putJSON(txn, sessionKey(sessionID), session)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSessionNotFound
	}
	if err != nil && !errors.Is(err, ErrAlreadyArchived) {
		return fmt.Errorf("archive session %s: %w", sessionID, err)
	}
	return err
}

// TouchSession bumps the session's UpdatedAt.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	err := s.db.withTxn(ctx, func(txn *badger.Txn) error {
		var session datatypes.ChatSession
		if err := getJSON(txn, sessionKey(sessionID), &session); err != nil {
			return err
		}
		session.UpdatedAt = time.Now().UTC()
		return putJSON(txn, sessionKey(sessionID), session)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return nil
}

// SetSessionTitle updates the title and bumps UpdatedAt.
func (s *Store) SetSessionTitle(ctx context.Context, sessionID, title string) error {
	err := s.db.withTxn(ctx, func(txn *badger.Txn) error {
		var session datatypes.ChatSession
		if err := getJSON(txn, sessionKey(sessionID), &session); err != nil {
			return err
		}
		session.Title = title
		session.UpdatedAt = time.Now().UTC()
		return putJSON(txn, sessionKey(sessionID), session)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("set title for session %s: %w", sessionID, err)
	}
	return nil
}

// =============================================================================
// Messages
// =============================================================================

// InsertMessage appends a message to a session and returns the stored
// record. Attachment records inherit the new message's ID.
func (s *Store) InsertMessage(ctx context.Context, sessionID, role, content string,
	attachments []datatypes.AttachmentPayload) (datatypes.ChatMessage, error) {
	now := time.Now().UTC()
	msg := datatypes.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	for _, att := range attachments {
		msg.Attachments = append(msg.Attachments, datatypes.Attachment{
			ID:         uuid.New().String(),
			MessageID:  msg.ID,
			FileName:   att.FileName,
			MimeType:   att.MimeType,
			SizeBytes:  att.SizeBytes,
			URL:        att.URL,
			StorageKey: att.StorageKey,
			CreatedAt:  now,
		})
	}

	err := s.db.withTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sessionID)); err != nil {
			return err
		}

		position, err := nextPosition(txn, sessionID)
		if err != nil {
			return err
		}
		msg.Position = int(position)

		key := msgKey(sessionID, position)
		if err := putJSON(txn, key, msg); err != nil {
			return err
		}
		return txn.Set(msgIdxKey(msg.ID), key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.ChatMessage{}, ErrSessionNotFound
	}
	if err != nil {
		return datatypes.ChatMessage{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// UpdateMessageContent replaces a message's content in place.
//
// Last write wins under concurrent updates to the same message; callers
// that need stronger ordering must serialize above the store.
func (s *Store) UpdateMessageContent(ctx context.Context, messageID, content string) error {
	err := s.db.withTxn(ctx, func(txn *badger.Txn) error {
		idxItem, err := txn.Get(msgIdxKey(messageID))
		if err != nil {
			return err
		}
		key, err := idxItem.ValueCopy(nil)
		if err != nil {
			return err
		}

		var msg datatypes.ChatMessage
		if err := getJSON(txn, key, &msg); err != nil {
			return err
		}
		msg.Content = content
		return putJSON(txn, key, msg)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("update message %s: %w", messageID, err)
	}
	return nil
}

// FetchConversation returns a session's messages in insertion order.
func (s *Store) FetchConversation(ctx context.Context, sessionID string) ([]datatypes.ChatMessage, error) {
	var messages []datatypes.ChatMessage
	err := s.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sessionID)); err != nil {
			return err
		}
		var readErr error
		messages, readErr = readConversation(txn, sessionID)
		return readErr
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch conversation %s: %w", sessionID, err)
	}
	return messages, nil
}

// =============================================================================
// Internals
// =============================================================================

// readConversation scans the message prefix in key order, which is
// insertion order thanks to zero-padded positions.
func readConversation(txn *badger.Txn, sessionID string) ([]datatypes.ChatMessage, error) {
	prefix := []byte(msgPrefix + sessionID + "/")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	messages := []datatypes.ChatMessage{}
	for it.Rewind(); it.Valid(); it.Next() {
		var msg datatypes.ChatMessage
		if err := decodeItem(it.Item(), &msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// nextPosition allocates the next message position for a session.
func nextPosition(txn *badger.Txn, sessionID string) (uint64, error) {
	var position uint64
	item, err := txn.Get(seqKey(sessionID))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		position = 0
	case err != nil:
		return 0, err
	default:
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return 0, err
		}
		if len(raw) != 8 {
			return 0, fmt.Errorf("corrupt sequence for session %s", sessionID)
		}
		position = binary.BigEndian.Uint64(raw)
	}

	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, position+1)
	if err := txn.Set(seqKey(sessionID), next); err != nil {
		return 0, err
	}
	return position, nil
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func decodeItem(item *badger.Item, v any) error {
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}
