package cache

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var entryPrefix = []byte("e:")

// LevelStore persists entries incrementally, one LevelDB key per entry.
type LevelStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

// OpenLevelStore opens (or creates) the LevelDB directory at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

// Load implements Store. Undecodable records are skipped.
func (s *LevelStore) Load() (map[string]Entry, error) {
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	defer it.Release()

	out := map[string]Entry{}
	for it.Next() {
		key := string(bytes.TrimPrefix(it.Key(), entryPrefix))
		var e Entry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("extraction cache: skip undecodable record")
			continue
		}
		out[key] = e
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Sync implements Store. Only the named keys are written.
func (s *LevelStore) Sync(keys []string, v View) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	for _, k := range keys {
		dbKey := append(append([]byte{}, entryPrefix...), k...)
		e, ok := v.Lookup(k)
		if !ok {
			batch.Delete(dbKey)
			continue
		}
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		batch.Put(dbKey, b)
	}
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

// Close implements Store.
func (s *LevelStore) Close() error { return s.db.Close() }
