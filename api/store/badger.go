package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"hearth/api/model"
)

// OpenBadger opens an embedded store under dir, for single-node installs
// that do not run Postgres.
func OpenBadger(dir string) (*Store, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{
		Nodes:     &badgerCollection[model.Node]{db: db, prefix: "nodes/"},
		Servers:   &badgerCollection[model.Server]{db: db, prefix: "servers/"},
		Users:     &badgerCollection[model.User]{db: db, prefix: "users/"},
		Eggs:      &badgerCollection[model.Egg]{db: db, prefix: "eggs/"},
		Backups:   &badgerCollection[model.Backup]{db: db, prefix: "backups/"},
		Schedules: &badgerCollection[model.Schedule]{db: db, prefix: "schedules/"},
		healthy: func(context.Context) error {
			if db.IsClosed() {
				return errors.New("badger: closed")
			}
			return nil
		},
		close: db.Close,
	}, nil
}

// envelope keeps the insertion sequence next to the document so List can
// return records in the order they were created.
type envelope struct {
	Seq int64           `json:"seq"`
	Doc json.RawMessage `json:"doc"`
}

var lastSeq atomic.Int64

// nextSeq is the wall clock in nanoseconds, bumped when needed so that it
// strictly increases within the process.
func nextSeq() int64 {
	for {
		last := lastSeq.Load()
		seq := max(time.Now().UnixNano(), last+1)
		if lastSeq.CompareAndSwap(last, seq) {
			return seq
		}
	}
}

type badgerCollection[T Record] struct {
	db     *badger.DB
	prefix string
}

func (c *badgerCollection[T]) key(id string) []byte {
	return []byte(c.prefix + id)
}

func (c *badgerCollection[T]) read(txn *badger.Txn, id string) (*envelope, error) {
	item, err := txn.Get(c.key(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	var env envelope
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &env)
	})
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *badgerCollection[T]) Get(_ context.Context, id string) (*T, error) {
	var out T
	err := c.db.View(func(txn *badger.Txn) error {
		env, err := c.read(txn, id)
		if err != nil {
			return err
		}
		return json.Unmarshal(env.Doc, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *badgerCollection[T]) List(_ context.Context) ([]T, error) {
	var envs []envelope
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(c.prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var env envelope
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &env)
			}); err != nil {
				return err
			}
			envs = append(envs, env)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(envs, func(i, j int) bool { return envs[i].Seq < envs[j].Seq })

	out := make([]T, 0, len(envs))
	for _, env := range envs {
		var v T
		if err := json.Unmarshal(env.Doc, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *badgerCollection[T]) Insert(_ context.Context, v *T) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	id := (*v).RecordID()
	return c.db.Update(func(txn *badger.Txn) error {
		if _, err := c.read(txn, id); err == nil {
			return ErrDuplicate
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		data, err := json.Marshal(envelope{Seq: nextSeq(), Doc: doc})
		if err != nil {
			return err
		}
		return txn.Set(c.key(id), data)
	})
}

func (c *badgerCollection[T]) Update(_ context.Context, v *T) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	id := (*v).RecordID()
	return c.db.Update(func(txn *badger.Txn) error {
		env, err := c.read(txn, id)
		if err != nil {
			return err
		}
		env.Doc = doc
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return txn.Set(c.key(id), data)
	})
}

func (c *badgerCollection[T]) Delete(_ context.Context, id string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.key(id))
	})
}
