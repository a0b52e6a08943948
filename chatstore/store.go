// Package chatstore persists chat transcripts as one file per chat under a
// directory, encoded as JSON or CBOR.
package chatstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/machinefabric/agentinterop-go/protocol"
)

// Version is written into every record.
const Version = 1

var (
	ErrNotFound  = errors.New("chat not found")
	ErrInvalidID = errors.New("invalid chat id")
)

// Chat is one persisted transcript. For CLI sessions ProviderID holds the
// agent id.
type Chat struct {
	Version    int                    `json:"version" cbor:"version"`
	ChatID     string                 `json:"chatId" cbor:"chatId"`
	ProviderID string                 `json:"providerId" cbor:"providerId"`
	Skill      string                 `json:"skill,omitempty" cbor:"skill,omitempty"`
	History    []protocol.ChatMessage `json:"history" cbor:"history"`
}

// Ref locates a stored chat without reading it.
type Ref struct {
	ChatID  string
	Path    string
	ModTime time.Time
}

// Format selects the on-disk encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatCBOR
)

// String returns "json" or "cbor".
func (f Format) String() string {
	if f == FormatCBOR {
		return "cbor"
	}
	return "json"
}

// Set parses "json" or "cbor", so a *Format can back a command-line flag.
func (f *Format) Set(v string) error {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "json":
		*f = FormatJSON
	case "cbor":
		*f = FormatCBOR
	default:
		return fmt.Errorf("unknown store format %q (want json or cbor)", v)
	}
	return nil
}

// Type names the flag value type in usage output.
func (f *Format) Type() string { return "format" }

func (f Format) ext() string {
	if f == FormatCBOR {
		return ".cbor"
	}
	return ".json"
}

// ChatsDir is where interactive chats live relative to cwd.
func ChatsDir(cwd string) string {
	return filepath.Join(cwd, ".cache", "agnet", "chats")
}

// SessionsDir is where CLI session records live relative to cwd.
func SessionsDir(cwd string) string {
	return filepath.Join(cwd, ".cache", "agentinterop", "sessions")
}

// Option configures a Store.
type Option func(*Store)

// WithFormat sets the encoding of written files and the extension listed.
func WithFormat(f Format) Option {
	return func(s *Store) { s.format = f }
}

// Store reads and writes chats in one directory. The directory is created
// on first write.
type Store struct {
	dir    string
	format Format
}

// New creates a store rooted at dir.
func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file that holds chatID.
func (s *Store) Path(chatID string) string {
	return filepath.Join(s.dir, chatID+s.format.ext())
}

// Write stores chat, replacing any previous version atomically.
func (s *Store) Write(chat Chat) error {
	if err := validateID(chat.ChatID); err != nil {
		return err
	}
	if chat.Version == 0 {
		chat.Version = Version
	}
	if chat.History == nil {
		chat.History = []protocol.ChatMessage{}
	}

	data, err := s.encode(chat)
	if err != nil {
		return fmt.Errorf("encode chat %s: %w", chat.ChatID, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.dir, err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+chat.ChatID+".*.tmp")
	if err != nil {
		return fmt.Errorf("write chat %s: %w", chat.ChatID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write chat %s: %w", chat.ChatID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write chat %s: %w", chat.ChatID, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(chat.ChatID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write chat %s: %w", chat.ChatID, err)
	}
	return nil
}

// Read loads chatID. A missing or unreadable file yields ErrNotFound.
func (s *Store) Read(chatID string) (Chat, error) {
	if err := validateID(chatID); err != nil {
		return Chat{}, err
	}
	data, err := os.ReadFile(s.Path(chatID))
	if err != nil {
		return Chat{}, fmt.Errorf("%w: %s", ErrNotFound, chatID)
	}

	var chat Chat
	if err := s.decode(data, &chat); err != nil {
		return Chat{}, fmt.Errorf("%w: %s: %v", ErrNotFound, chatID, err)
	}
	if chat.ChatID == "" {
		chat.ChatID = chatID
	}
	return chat, nil
}

// List returns the stored chats, most recently modified first. A missing
// directory is an empty list.
func (s *Store) List() ([]Ref, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}

	ext := s.format.ext()
	var refs []Ref
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// deleted between ReadDir and Info
			continue
		}
		refs = append(refs, Ref{
			ChatID:  strings.TrimSuffix(name, ext),
			Path:    filepath.Join(s.dir, name),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].ModTime.Equal(refs[j].ModTime) {
			return refs[i].ChatID < refs[j].ChatID
		}
		return refs[i].ModTime.After(refs[j].ModTime)
	})
	return refs, nil
}

// Delete removes chatID. Deleting a missing chat is not an error.
func (s *Store) Delete(chatID string) error {
	if err := validateID(chatID); err != nil {
		return err
	}
	if err := os.Remove(s.Path(chatID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	return nil
}

func (s *Store) encode(chat Chat) ([]byte, error) {
	if s.format == FormatCBOR {
		return cbor.Marshal(chat)
	}
	data, err := json.MarshalIndent(chat, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (s *Store) decode(data []byte, chat *Chat) error {
	if s.format == FormatCBOR {
		return cbor.Unmarshal(data, chat)
	}
	return json.Unmarshal(data, chat)
}

// validateID keeps ids to a single path element.
func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
