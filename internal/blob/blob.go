// Package blob stores uploaded file attachments.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/pliu/securedm/internal/apperr"
	"go.uber.org/zap"
)

// LocatorPrefix is prepended to object ids to form the URL stored in file
// messages.
const LocatorPrefix = "/files/"

type Object struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

type Store interface {
	// Put stores obj and returns its locator.
	Put(ctx context.Context, obj *Object) (string, error)
	Get(ctx context.Context, id string) (*Object, error)
	Close() error
}

// IDFromLocator extracts the object id from a locator returned by Put.
func IDFromLocator(locator string) (string, bool) {
	id, ok := strings.CutPrefix(locator, LocatorPrefix)
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

// chunkSize keeps every badger value well under the 1 MiB limit badger
// enforces in in-memory mode.
const chunkSize = 512 << 10

type BadgerStore struct {
	db  *badger.DB
	log *zap.Logger
}

// NewBadgerStore opens a store under dir, or an in-memory one when dir is
// empty.
func NewBadgerStore(dir string, log *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if log == nil {
		log = zap.NewNop()
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(badgerLogger{log.Sugar().Named("badger")})
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db, log: log}, nil
}

// meta is what is stored under the object's meta key. It is written last,
// so an object is only visible once all its chunks are.
type meta struct {
	Object
	Size   int `json:"size"`
	Chunks int `json:"chunks"`
}

func chunkKey(id string, n int) []byte { return []byte(fmt.Sprintf("blob:d:%s:%d", id, n)) }
func metaKey(id string) []byte         { return []byte("blob:m:" + id) }

// Put splits obj.Data into chunks. Badger errors can quote the value being
// written, so they never leave this method.
func (s *BadgerStore) Put(_ context.Context, obj *Object) (string, error) {
	id := uuid.NewString()
	m := meta{Object: *obj, Size: len(obj.Data), Chunks: (len(obj.Data) + chunkSize - 1) / chunkSize}
	encoded, err := json.Marshal(m)
	if err != nil {
		return "", err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for n := 0; n < m.Chunks; n++ {
		end := min((n+1)*chunkSize, len(obj.Data))
		if err := wb.Set(chunkKey(id, n), obj.Data[n*chunkSize:end]); err != nil {
			return "", s.writeFailed(m.Size)
		}
	}
	if err := wb.Set(metaKey(id), encoded); err != nil {
		return "", s.writeFailed(m.Size)
	}
	if err := wb.Flush(); err != nil {
		return "", s.writeFailed(m.Size)
	}
	return LocatorPrefix + id, nil
}

func (s *BadgerStore) writeFailed(size int) error {
	s.log.Error("blob write failed", zap.Int("size", size))
	return apperr.E(apperr.KindStorageFailure, "blob write failed", nil)
}

func (s *BadgerStore) Get(_ context.Context, id string) (*Object, error) {
	var m meta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		data := make([]byte, 0, m.Size)
		for n := 0; n < m.Chunks; n++ {
			item, err := txn.Get(chunkKey(id, n))
			if err != nil {
				return err
			}
			err = item.Value(func(v []byte) error {
				data = append(data, v...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		m.Data = data
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperr.NotFound("file not found")
	}
	if err != nil {
		return nil, apperr.Storage(err)
	}
	obj := m.Object
	return &obj, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
