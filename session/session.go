package session

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/m4xw311/conductor/errors"
)

const (
	historyFile = "history.json"
	contextFile = "context.json"
)

// Session is the persisted form of a conversation: the display transcript
// shown to the user and the compact context sent to the provider.
type Session struct {
	Name    string
	History []Message
	Context []Message
	dir     string
}

// New creates a new session under baseDir/sessions/<name>.
func New(baseDir, name string) (*Session, error) {
	dir, err := sessionDir(baseDir, name)
	if err != nil {
		return nil, err
	}
	return &Session{Name: name, dir: dir}, nil
}

// Load reads an existing session. A missing history file is an error; a
// missing context file falls back to the history with display-only entries
// removed.
func Load(baseDir, name string) (*Session, error) {
	dir, err := sessionDir(baseDir, name)
	if err != nil {
		return nil, err
	}
	s := &Session{Name: name, dir: dir}
	if s.History, err = readMessages(filepath.Join(dir, historyFile)); err != nil {
		return nil, err
	}
	s.Context, err = readMessages(filepath.Join(dir, contextFile))
	if errors.Is(err, fs.ErrNotExist) {
		s.Context = FilterValid(s.History)
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Save rewrites both files: the history pretty-printed, the context compact.
func (s *Session) Save() error {
	if err := writeMessages(filepath.Join(s.dir, historyFile), s.History, true); err != nil {
		return err
	}
	return writeMessages(filepath.Join(s.dir, contextFile), s.Context, false)
}

// Dir is the directory holding the session files.
func (s *Session) Dir() string { return s.dir }

func readMessages(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, errors.Wrapf(err, "could not parse session file %s", path)
	}
	return msgs, nil
}

func writeMessages(path string, msgs []Message, pretty bool) error {
	if msgs == nil {
		msgs = []Message{}
	}
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(msgs, "", "  ")
	} else {
		data, err = json.Marshal(msgs)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "failed to write %s", path)
}

func sessionDir(baseDir, name string) (string, error) {
	dir := filepath.Join(baseDir, "sessions", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "could not create session directory")
	}
	return dir, nil
}
