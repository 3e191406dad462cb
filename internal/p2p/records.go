package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/xchain/internal/storage"
)

// recordTable stores JSON records of type T under a key prefix.
type recordTable[T any] struct {
	db     storage.DB
	prefix string
	name   string
}

func (t recordTable[T]) key(id string) []byte {
	return []byte(t.prefix + id)
}

func (t recordTable[T]) get(id string) (*T, error) {
	data, err := t.db.Get(t.key(id))
	if err != nil {
		return nil, fmt.Errorf("get %s record: %w", t.name, err)
	}
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal %s record: %w", t.name, err)
	}
	return &rec, nil
}

func (t recordTable[T]) put(id string, rec *T) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", t.name, err)
	}
	return t.db.Put(t.key(id), data)
}

func (t recordTable[T]) has(id string) (bool, error) {
	return t.db.Has(t.key(id))
}

func (t recordTable[T]) delete(id string) error {
	return t.db.Delete(t.key(id))
}

// forEach visits every decodable record; corrupt ones are skipped.
func (t recordTable[T]) forEach(fn func(*T) error) error {
	return t.db.ForEach([]byte(t.prefix), func(_, value []byte) error {
		var rec T
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		return fn(&rec)
	})
}

// prune deletes the records for which drop returns true, and corrupt ones.
func (t recordTable[T]) prune(drop func(*T) bool) (int, error) {
	var doomed [][]byte
	err := t.db.ForEach([]byte(t.prefix), func(key, value []byte) error {
		var rec T
		if err := json.Unmarshal(value, &rec); err != nil || drop(&rec) {
			doomed = append(doomed, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate %s records: %w", t.name, err)
	}

	batch := storage.NewBatch(t.db)
	for _, k := range doomed {
		if err := batch.Delete(k); err != nil {
			return 0, fmt.Errorf("delete %s record: %w", t.name, err)
		}
	}
	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("prune %s records: %w", t.name, err)
	}
	return len(doomed), nil
}

func (t recordTable[T]) count() (int, error) {
	n := 0
	err := t.db.ForEach([]byte(t.prefix), func(_, _ []byte) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s records: %w", t.name, err)
	}
	return n, nil
}
