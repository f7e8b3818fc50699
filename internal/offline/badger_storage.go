package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const keySeparator = "\x00"

var (
	generationPrefix = []byte("gen" + keySeparator)
	entryPrefix      = []byte("entry" + keySeparator)
)

// BadgerStorage keeps cache generations in an embedded Badger database.
type BadgerStorage struct {
	db    *badger.DB
	clock func() time.Time
}

type badgerEntry struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt int64       `json:"stored_at_s"`
}

// OpenBadgerStorage opens (or creates) a Badger database at path. An empty
// path opens an in-memory database, which rejects encoded entries above 1 MiB.
func OpenBadgerStorage(path string, clock func() time.Time) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.SyncWrites = true
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &BadgerStorage{db: db, clock: clock}, nil
}

// Close releases the underlying database.
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

func generationKey(generation string) []byte {
	return append(append([]byte{}, generationPrefix...), generation...)
}

func generationEntriesPrefix(generation string) []byte {
	key := append([]byte{}, entryPrefix...)
	key = append(key, generation...)
	return append(key, keySeparator...)
}

func entryKey(generation, requestKey string) []byte {
	return append(generationEntriesPrefix(generation), requestKey...)
}

// Generations implements Storage.
func (s *BadgerStorage) Generations(_ context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = generationPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			names = append(names, string(key[len(generationPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("offline: list generations: %w", err)
	}
	return names, nil
}

// Delete implements Storage. Entries are removed before the generation
// marker, so entries orphaned by an interrupted PutAll are also cleared.
func (s *BadgerStorage) Delete(_ context.Context, generation string) error {
	var (
		keys  [][]byte
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(generationKey(generation))
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = generationEntriesPrefix(generation)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("offline: lookup generation %s: %w", generation, err)
	}
	if !found && len(keys) == 0 {
		return ErrGenerationNotFound
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return fmt.Errorf("offline: delete entries of %s: %w", generation, err)
		}
	}
	if found {
		if err := batch.Delete(generationKey(generation)); err != nil {
			return fmt.Errorf("offline: delete generation %s: %w", generation, err)
		}
	}
	if err := batch.Flush(); err != nil {
		return fmt.Errorf("offline: delete generation %s: %w", generation, err)
	}
	if !found {
		return ErrGenerationNotFound
	}
	return nil
}

// PutAll implements Storage. Entries go through a WriteBatch, which splits
// into as many transactions as their size requires, and the generation
// marker is written last. A generation without its marker is invisible to
// Generations and Match.
func (s *BadgerStorage) PutAll(_ context.Context, generation string, entries []Entry) error {
	if err := validateGeneration(generation); err != nil {
		return err
	}
	now := s.clock().UTC()

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, entry := range entries {
		storedAt := entry.StoredAt
		if storedAt.IsZero() {
			storedAt = now
		}
		payload, err := json.Marshal(badgerEntry{
			URL:      entry.URL,
			Status:   entry.Status,
			Header:   entry.Header,
			Body:     entry.Body,
			StoredAt: storedAt.Unix(),
		})
		if err != nil {
			return fmt.Errorf("offline: encode %s: %w", entry.Key, err)
		}
		if err := batch.Set(entryKey(generation, entry.Key), payload); err != nil {
			return fmt.Errorf("offline: store %s: %w", entry.Key, err)
		}
	}
	if err := batch.Flush(); err != nil {
		return fmt.Errorf("offline: store entries of %s: %w", generation, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(generationKey(generation))
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		created := []byte(strconv.FormatInt(now.Unix(), 10))
		return txn.Set(generationKey(generation), created)
	})
}

// Put implements Storage.
func (s *BadgerStorage) Put(ctx context.Context, generation string, entry Entry) error {
	return s.PutAll(ctx, generation, []Entry{entry})
}

// Match implements Storage.
func (s *BadgerStorage) Match(_ context.Context, generation, key string) (Entry, bool, error) {
	var stored badgerEntry
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(generationKey(generation)); err != nil {
			return err
		}
		item, err := txn.Get(entryKey(generation, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("offline: match %s: %w", key, err)
	}
	return Entry{
		Key:      key,
		URL:      stored.URL,
		Status:   stored.Status,
		Header:   stored.Header,
		Body:     stored.Body,
		StoredAt: time.Unix(stored.StoredAt, 0).UTC(),
	}, true, nil
}
