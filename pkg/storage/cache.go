package storage

import lru "github.com/hashicorp/golang-lru/v2"

// decodeCache holds recently-decoded record vectors keyed by the byte
// offset of the record within the file. Unlike the teacher's content-hash
// keyed cache, an offset is not derived from the id, so this can never
// serve as a key->vector index: the data model forbids looking a vector up
// by id, and this cache simply cannot do that.
type decodeCache struct {
	cache *lru.Cache[int64, []float32]
}

// newDecodeCache builds a cache with the given capacity. A non-positive
// capacity disables caching; Get always misses and Put is a no-op.
func newDecodeCache(capacity int) *decodeCache {
	if capacity <= 0 {
		return &decodeCache{}
	}
	c, err := lru.New[int64, []float32](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, already excluded above.
		return &decodeCache{}
	}
	return &decodeCache{cache: c}
}

func (d *decodeCache) Get(offset int64) ([]float32, bool) {
	if d.cache == nil {
		return nil, false
	}
	vec, ok := d.cache.Get(offset)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

func (d *decodeCache) Put(offset int64, vec []float32) {
	if d.cache == nil {
		return
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	d.cache.Add(offset, cp)
}

// Invalidate drops a cached entry, used after Cursor.Update overwrites the
// bytes at an offset so a stale decode can never be served again.
func (d *decodeCache) Invalidate(offset int64) {
	if d.cache == nil {
		return
	}
	d.cache.Remove(offset)
}

func (d *decodeCache) Len() int {
	if d.cache == nil {
		return 0
	}
	return d.cache.Len()
}

func (d *decodeCache) Purge() {
	if d.cache != nil {
		d.cache.Purge()
	}
}
