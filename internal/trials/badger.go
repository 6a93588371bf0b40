package trials

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerConfig configures a BadgerLog.
type BadgerConfig struct {
	// Path is the database directory; ignored when InMemory is set.
	Path     string
	InMemory bool
	// Session namespaces the keys, so sessions can share a database.
	Session    string
	SyncWrites bool
	Logger     *zap.Logger
}

// BadgerLog stores trials under trial/<session>/<big-endian index>, so a
// prefix scan returns them in recording order.
type BadgerLog struct {
	db      *badger.DB
	session string
	mu      sync.Mutex
	closed  bool
}

type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// OpenBadger opens or creates a trial database.
func OpenBadger(cfg BadgerConfig) (*BadgerLog, error) {
	if cfg.Session == "" {
		return nil, fmt.Errorf("badger trial log: session is required")
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger trial log: path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create trial database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open trial database: %w", err)
	}
	return &BadgerLog{db: db, session: cfg.Session}, nil
}

func (l *BadgerLog) prefix() []byte {
	return []byte("trial/" + l.session + "/")
}

func (l *BadgerLog) key(index int) []byte {
	k := l.prefix()
	return binary.BigEndian.AppendUint64(k, uint64(index))
}

// Append stores trial under its index.
func (l *BadgerLog) Append(trial Trial) error {
	data, err := json.Marshal(trial)
	if err != nil {
		return fmt.Errorf("encode trial %d: %w", trial.Index, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("trial log is closed")
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(l.key(trial.Index), data)
	})
}

// ReadAll returns the session's trials in index order.
func (l *BadgerLog) ReadAll() ([]Trial, error) {
	var out []Trial
	prefix := l.prefix()
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var t Trial
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			})
			if err != nil {
				return fmt.Errorf("decode trial %x: %w", it.Item().Key(), err)
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database.
func (l *BadgerLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}
