package storage

// PrefixDB namespaces a shared DB: every key is stored under a fixed prefix
// and callers only ever see their logical keys.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB wraps inner with prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: clone(prefix)}
}

func (p *PrefixDB) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	out = append(out, p.prefix...)
	return append(out, k...)
}

func (p *PrefixDB) Get(key []byte) ([]byte, error) { return p.inner.Get(p.key(key)) }
func (p *PrefixDB) Put(key, value []byte) error    { return p.inner.Put(p.key(key), value) }
func (p *PrefixDB) Delete(key []byte) error        { return p.inner.Delete(p.key(key)) }
func (p *PrefixDB) Has(key []byte) (bool, error)   { return p.inner.Has(p.key(key)) }

// ForEach visits logical keys with prefix.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return p.Seek(prefix, prefix, false, fn)
}

// Seek visits logical keys with prefix from start.
func (p *PrefixDB) Seek(prefix, start []byte, reverse bool, fn func(key, value []byte) error) error {
	return p.inner.Seek(p.key(prefix), p.key(start), reverse, func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// Close is a no-op; the inner DB owns its lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}

// NewBatch returns a batch writing under the prefix, atomic when the inner
// DB supports it.
func (p *PrefixDB) NewBatch() Batch {
	return &prefixBatch{inner: NewBatch(p.inner), p: p}
}

type prefixBatch struct {
	inner Batch
	p     *PrefixDB
}

func (pb *prefixBatch) Put(key, value []byte) error { return pb.inner.Put(pb.p.key(key), value) }
func (pb *prefixBatch) Delete(key []byte) error     { return pb.inner.Delete(pb.p.key(key)) }
func (pb *prefixBatch) Commit() error               { return pb.inner.Commit() }
