package trials

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Log is an append-only trial store, written once per trial.
type Log interface {
	Append(Trial) error
	Close() error
}

// Reader re-reads a log as an ordered trial sequence.
type Reader interface {
	ReadAll() ([]Trial, error)
}

// JSONLLog appends one JSON object per line to a file. Each line carries
// the session id, so sessions appending to one file stay separable.
type JSONLLog struct {
	mu      sync.Mutex
	path    string
	session string
	f       *os.File
	w       *bufio.Writer
}

// jsonlRecord is one line of a JSONL trial log.
type jsonlRecord struct {
	Session string `json:"session,omitempty"`
	Trial
}

// OpenJSONL opens path for appending, creating it and its directory.
// Trials are tagged with session.
func OpenJSONL(path, session string) (*JSONLLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create trial log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open trial log: %w", err)
	}
	return &JSONLLog{path: path, session: session, f: f, w: bufio.NewWriter(f)}, nil
}

// Path returns the file the log writes to.
func (l *JSONLLog) Path() string { return l.path }

// Append writes trial and flushes it to the file.
func (l *JSONLLog) Append(trial Trial) error {
	line, err := json.Marshal(jsonlRecord{Session: l.session, Trial: trial})
	if err != nil {
		return fmt.Errorf("encode trial %d: %w", trial.Index, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errors.New("trial log is closed")
	}
	if _, err := l.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write trial %d: %w", trial.Index, err)
	}
	return l.w.Flush()
}

// ReadAll reads back the trials of this log's session.
func (l *JSONLLog) ReadAll() ([]Trial, error) {
	return ReadJSONLFile(l.path, l.session)
}

// Close flushes and closes the file.
func (l *JSONLLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.w.Flush()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// ReadJSONL decodes trials written by JSONLLog. A non-empty session keeps
// only that session's trials. A truncated final line, as left by a killed
// process, is ignored.
func ReadJSONL(r io.Reader, session string) ([]Trial, error) {
	var out []Trial
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var pending error
	for line := 1; scanner.Scan(); line++ {
		if pending != nil {
			return nil, pending
		}
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			pending = fmt.Errorf("trial log line %d: %w", line, err)
			continue
		}
		if session != "" && rec.Session != session {
			continue
		}
		out = append(out, rec.Trial)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadJSONLFile reads the trial log at path, filtered as ReadJSONL.
func ReadJSONLFile(path, session string) ([]Trial, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSONL(f, session)
}
