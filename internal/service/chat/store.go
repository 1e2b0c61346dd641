package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"findash/internal/logger"
	"findash/internal/models"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrFileNotFound     = errors.New("file not found")
	ErrInvalidPath      = errors.New("invalid path")
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

const (
	textPrefix    = "message_"
	imagePrefix   = "image_"
	textExt       = ".txt"
	pendingPrefix = ".pending-"

	// TimestampLayout formats message descriptor timestamps, server local time.
	TimestampLayout = "2006-01-02_15:04:05"

	sniffBytes = 3072
)

var imageTypes = map[string][]string{
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".png":  {"image/png"},
}

// Store keeps chat sessions as directories and messages as files under root:
// {root}/{username}/{session_id}/{message|image}_{uuid}.{ext}
type Store struct {
	root  string
	locks Locker
	log   *logger.Logger
	now   func() time.Time
}

// NewStore creates root if needed. A nil locker falls back to an in-process one.
func NewStore(root string, locks Locker, log *logger.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("chat root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create chat root: %w", err)
	}
	if locks == nil {
		locks = NewLocalLocker()
	}
	s := &Store{root: root, locks: locks, log: log.With("service", "ChatStore"), now: time.Now}
	s.log.Info("Chat history base path", "root", root)
	return s, nil
}

// Root returns the directory the store owns.
func (s *Store) Root() string {
	return s.root
}

// CreateSession makes a fresh session directory for username.
func (s *Store) CreateSession(ctx context.Context, username string) (*models.Session, error) {
	if err := validSegment(username); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Join(s.root, username, id), 0o755); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("Created new session", "username", username, "session_id", id)
	return &models.Session{ID: id, Username: username}, nil
}

// ListSessions returns the sessions of username in lexical order. A user without
// a directory has no sessions.
func (s *Store) ListSessions(ctx context.Context, username string) ([]models.Session, error) {
	if err := validSegment(username); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, username))
	if err != nil {
		if isMissingDir(err) {
			return []models.Session{}, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]models.Session, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		messages, err := s.readMessages(filepath.Join(s.root, username, entry.Name()), false)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, models.Session{
			ID:           entry.Name(),
			Username:     username,
			MessageCount: len(messages),
		})
	}
	s.log.Info("Found sessions", "username", username, "count", len(sessions))
	return sessions, nil
}

// DeleteSession removes the session directory and everything in it.
func (s *Store) DeleteSession(ctx context.Context, username, sessionID string) error {
	dir, err := s.sessionDir(username, sessionID)
	if err != nil {
		return err
	}
	unlock, err := s.locks.Lock(ctx, lockKey(username, sessionID))
	if err != nil {
		return err
	}
	defer unlock()

	if err := requireDir(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.log.Info("Deleted session", "username", username, "session_id", sessionID)
	return nil
}

// SaveTextMessage writes content verbatim to message_<uuid>.txt.
func (s *Store) SaveTextMessage(ctx context.Context, username, sessionID, content string) (*models.MessageDescriptor, error) {
	return s.save(ctx, username, sessionID, models.MessageText, textExt, strings.NewReader(content))
}

// SaveImageMessage stores a JPEG or PNG upload as image_<uuid><ext>. The upload is
// rejected before anything is written when its name or content is not an accepted image.
func (s *Store) SaveImageMessage(ctx context.Context, username, sessionID string, r io.Reader, filename string) (*models.MessageDescriptor, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	allowed, ok := imageTypes[ext]
	if !ok {
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupportedMedia, ext)
	}

	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	detected := mimetype.Detect(head)
	if !detected.Is(allowed[0]) {
		return nil, fmt.Errorf("%w: content is %s", ErrUnsupportedMedia, detected.String())
	}

	return s.save(ctx, username, sessionID, models.MessageImage, ext, io.MultiReader(bytes.NewReader(head), r))
}

func (s *Store) save(ctx context.Context, username, sessionID string, kind models.MessageType, ext string, body io.Reader) (*models.MessageDescriptor, error) {
	dir, err := s.sessionDir(username, sessionID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.locks.Lock(ctx, lockKey(username, sessionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := requireDir(dir); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	prefix := textPrefix
	if kind == models.MessageImage {
		prefix = imagePrefix
	}
	path := filepath.Join(dir, prefix+id+ext)
	if err := writeAtomic(dir, path, body); err != nil {
		return nil, fmt.Errorf("save %s message: %w", kind, err)
	}

	s.log.Info("Saved message", "type", kind, "username", username, "session_id", sessionID)
	return &models.MessageDescriptor{
		MessageID:   id,
		Username:    username,
		SessionID:   sessionID,
		FilePath:    path,
		Timestamp:   s.now().Format(TimestampLayout),
		MessageType: kind,
	}, nil
}

// History returns the session summary and its messages in filename order.
func (s *Store) History(ctx context.Context, username, sessionID string) (*models.History, error) {
	dir, err := s.sessionDir(username, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.readMessages(dir, true)
	if err != nil {
		return nil, err
	}
	s.log.Info("Retrieved messages", "username", username, "session_id", sessionID, "count", len(messages))
	return &models.History{
		Session: models.Session{
			ID:           sessionID,
			Username:     username,
			MessageCount: len(messages),
		},
		Messages: messages,
	}, nil
}

func (s *Store) readMessages(dir string, withContent bool) ([]models.HistoryMessage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if isMissingDir(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	messages := make([]models.HistoryMessage, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		kind, ok := classify(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		msg := models.HistoryMessage{Type: kind, File: entry.Name(), Timestamp: info.ModTime()}
		path := filepath.Join(dir, entry.Name())
		switch kind {
		case models.MessageText:
			if withContent {
				data, err := os.ReadFile(path)
				if err != nil {
					if errors.Is(err, fs.ErrNotExist) {
						continue
					}
					return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
				}
				content := string(data)
				msg.Content = &content
			}
		case models.MessageImage:
			msg.Path = path
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ResolveFile maps a stored file name to its path, refusing anything outside the
// session directory.
func (s *Store) ResolveFile(ctx context.Context, username, sessionID, filename string) (string, error) {
	dir, err := s.sessionDir(username, sessionID)
	if err != nil {
		return "", err
	}
	if err := validSegment(filename); err != nil || filepath.IsAbs(filename) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, filename)
	}
	path := filepath.Join(dir, filename)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, filename)
	}
	if strings.HasPrefix(filename, pendingPrefix) {
		return "", ErrFileNotFound
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrFileNotFound
		}
		return "", fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", ErrFileNotFound
	}
	return path, nil
}

func (s *Store) sessionDir(username, sessionID string) (string, error) {
	if err := validSegment(username); err != nil {
		return "", err
	}
	if err := validSegment(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, username, sessionID), nil
}

// validSegment accepts a single path element: no separators, no dot names, no NUL.
func validSegment(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return nil
}

func requireDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("stat session: %w", err)
	}
	if !info.IsDir() {
		return ErrSessionNotFound
	}
	return nil
}

// isMissingDir reports whether err means the directory is absent, including a
// regular file sitting where the directory should be.
func isMissingDir(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func classify(name string) (models.MessageType, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case strings.HasPrefix(name, textPrefix) && ext == textExt:
		return models.MessageText, true
	case strings.HasPrefix(name, imagePrefix):
		if _, ok := imageTypes[ext]; ok {
			return models.MessageImage, true
		}
	}
	return "", false
}

// writeAtomic streams body into a pending file in dir and renames it onto path.
func writeAtomic(dir, path string, body io.Reader) (err error) {
	tmp, err := os.CreateTemp(dir, pendingPrefix+"*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, body); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func lockKey(username, sessionID string) string {
	return username + "/" + sessionID
}
