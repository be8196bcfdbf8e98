// Package transcript writes conversation events as NDJSON, one file per
// user and conversation.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/aexy-app/aexy/internal/conversation"
)

// Config controls transcript logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Entry is one NDJSON line.
type Entry struct {
	Timestamp      string         `json:"ts"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	EventType      string         `json:"event_type"`
	Role           string         `json:"role,omitempty"`
	MessageID      *int64         `json:"message_id,omitempty"`
	ContentRaw     string         `json:"content_raw,omitempty"`
	Content        string         `json:"content,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`

	// release closes the conversation's file instead of writing a line.
	release bool
}

// Logger records transcript entries.
type Logger interface {
	Log(Entry)
	// Release closes the conversation's file once queued entries are written.
	// A later entry for the same conversation reopens it in append mode.
	Release(userID, conversationID string)
	Close() error
}

type noopLogger struct{}

func (noopLogger) Log(Entry)              {}
func (noopLogger) Release(string, string) {}
func (noopLogger) Close() error           { return nil }

// maxOpenFiles bounds the per-conversation files held open at once.
const maxOpenFiles = 256

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

type fileLogger struct {
	dir    string
	global *os.File
	queue  chan Entry
	logger *slog.Logger
	files  map[string]*os.File
	open   atomic.Int64
	wg     sync.WaitGroup
	once   sync.Once

	mu     sync.RWMutex
	closed bool
}

// New creates a Logger. A disabled config yields a no-op logger.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return noopLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	l := &fileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Entry, cfg.QueueSize),
		logger: logger,
		files:  make(map[string]*os.File),
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global transcript dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open global transcript: %w", err)
		}
		l.global = f
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log queues e. Entries are dropped when the queue is full.
func (l *fileLogger) Log(e Entry) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if e.Content == "" && e.ContentRaw != "" {
		e.Content = cleanForReadability(e.ContentRaw)
	}
	l.enqueue(e)
}

// Release implements Logger. The marker goes through the queue so the worker
// stays the only owner of the file map.
func (l *fileLogger) Release(userID, conversationID string) {
	l.enqueue(Entry{UserID: userID, ConversationID: conversationID, release: true})
}

func (l *fileLogger) enqueue(e Entry) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("Transcript queue full, dropping entry",
			"conversation_id", e.ConversationID,
			"event_type", e.EventType,
			"release", e.release,
		)
	}
}

func (l *fileLogger) run() {
	defer l.wg.Done()
	for e := range l.queue {
		if e.release {
			l.closeFile(l.pathFor(e.UserID, e.ConversationID))
			continue
		}

		line, err := json.Marshal(e)
		if err != nil {
			l.logger.Warn("Failed to encode transcript entry", "error", err)
			continue
		}
		line = append(line, '\n')

		if f, err := l.fileFor(e.UserID, e.ConversationID); err != nil {
			l.logger.Warn("Failed to open transcript file", "error", err, "conversation_id", e.ConversationID)
		} else if _, err := f.Write(line); err != nil {
			l.logger.Warn("Failed to write transcript entry", "error", err, "conversation_id", e.ConversationID)
		}

		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("Failed to write global transcript entry", "error", err)
			}
		}
	}
}

func (l *fileLogger) pathFor(userID, conversationID string) string {
	return filepath.Join(l.dir, safeName(userID), safeName(conversationID)+".ndjson")
}

func (l *fileLogger) fileFor(userID, conversationID string) (*os.File, error) {
	path := l.pathFor(userID, conversationID)
	if f, ok := l.files[path]; ok {
		return f, nil
	}
	if len(l.files) >= maxOpenFiles {
		// Conversations that were never released (crash, lost marker) are
		// closed in bulk; files reopen in append mode on the next entry.
		l.logger.Warn("Transcript file limit reached, closing open files", "open", len(l.files))
		for p := range l.files {
			l.closeFile(p)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l.files[path] = f
	l.open.Add(1)
	return f, nil
}

func (l *fileLogger) closeFile(path string) {
	f, ok := l.files[path]
	if !ok {
		return
	}
	delete(l.files, path)
	l.open.Add(-1)
	if err := f.Close(); err != nil {
		l.logger.Warn("Failed to close transcript file", "error", err, "path", path)
	}
}

// Close flushes queued entries and closes every file.
func (l *fileLogger) Close() error {
	var firstErr error
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
		l.wg.Wait()
		for p, f := range l.files {
			delete(l.files, p)
			l.open.Add(-1)
			if err := f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if l.global != nil {
			if err := l.global.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

func safeName(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}

// cleanForReadability drops control characters and collapses whitespace
// runs left by speech transcription.
func cleanForReadability(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Observer returns a conversation.Observer writing session events to l.
func Observer(l Logger) conversation.Observer {
	return conversation.ObserverFunc(func(e conversation.Event) {
		entry := Entry{
			Timestamp:      e.At.UTC().Format(time.RFC3339Nano),
			UserID:         e.UserID,
			ConversationID: e.ConversationID,
			EventType:      string(e.Type),
		}
		switch e.Type {
		case conversation.EventMessageAppended:
			if e.Message == nil {
				return
			}
			id := e.Message.ID
			entry.MessageID = &id
			entry.Role = string(e.Message.Role)
			entry.ContentRaw = e.Message.Content
			if fb := e.Message.Feedback; fb != nil {
				entry.Meta = map[string]any{"feedback": fb}
			}
		case conversation.EventMessageReverted:
			id := e.MessageID
			entry.MessageID = &id
		case conversation.EventSessionStarted:
			entry.Meta = map[string]any{"scenario_id": e.ScenarioID}
		case conversation.EventSessionEnded:
			entry.Meta = map[string]any{"summary": e.Summary}
			l.Log(entry)
			l.Release(e.UserID, e.ConversationID)
			return
		case conversation.EventSessionDisposed:
			l.Release(e.UserID, e.ConversationID)
			return
		case conversation.EventNotification:
			entry.Content = e.Notice
		case conversation.EventPersistenceError:
			entry.Meta = map[string]any{"op": e.Op, "error": e.Error}
		default:
			// Loading changes are not part of the transcript.
			return
		}
		l.Log(entry)
	})
}
