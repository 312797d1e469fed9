package storage

import (
	"container/heap"
	"math"
	"runtime"
	"sort"

	"github.com/viterin/vek/vek32"
	"golang.org/x/sync/errgroup"
)

// SearchResult is one ranked match: an owned copy of the record's id and its
// similarity score.
type SearchResult struct {
	ID    []byte
	Score float64
}

// chunkSize is the number of records handed to one worker goroutine before
// Search bothers to fan out at all. Below this, the scan runs inline.
const chunkSize = 512

// Search scores every persisted record against a raw little-endian float32
// query and returns the best topk matches with score >= threshold, in
// descending score order (ties broken by insertion order).
func (db *Database) Search(query []byte, topk int, threshold float64, norm bool) ([]SearchResult, error) {
	if int64(len(query)) != 4*int64(db.dim) {
		return nil, ErrVecLen
	}
	return db.search(decodeVector(query), topk, threshold, norm)
}

// SearchVector is Search for a native float32 query vector.
func (db *Database) SearchVector(query []float32, topk int, threshold float64, norm bool) ([]SearchResult, error) {
	if uint32(len(query)) != db.dim {
		return nil, ErrVecLen
	}
	return db.search(query, topk, threshold, norm)
}

func (db *Database) search(query []float32, topk int, threshold float64, norm bool) ([]SearchResult, error) {
	db.mu.Lock()
	if db.file == nil && db.mem == nil {
		db.mu.Unlock()
		return nil, ErrClosed
	}
	window := db.byteWindow(HeaderSize + db.dataLen)
	n := db.dataLen / db.rec
	dim := db.dim
	rec := db.rec
	cache := db.cache
	db.mu.Unlock()

	if topk <= 0 || n == 0 {
		return []SearchResult{}, nil
	}

	q := query
	var queryNorm float64
	if norm {
		q = make([]float32, len(query))
		copy(q, query)
		queryNorm = math.Sqrt(float64(vek32.Dot(q, q)))
	}

	scorer := func(off int64, vec []float32) float64 {
		if norm {
			if queryNorm == 0 {
				return 0
			}
			vn := math.Sqrt(float64(vek32.Dot(vec, vec)))
			if vn == 0 {
				return 0
			}
			return float64(vek32.Dot(q, vec)) / (queryNorm * vn)
		}
		return float64(vek32.Dot(q, vec))
	}

	if n <= chunkSize {
		cands := scanRange(window, 0, n, rec, dim, cache, scorer, topk, threshold)
		return toResults(cands), nil
	}

	numChunks := int((n + chunkSize - 1) / chunkSize)
	workers := runtime.GOMAXPROCS(0)
	if workers > numChunks {
		workers = numChunks
	}

	partial := make([][]scored, numChunks)
	var g errgroup.Group
	g.SetLimit(workers)
	for c := 0; c < numChunks; c++ {
		c := c
		start := int64(c) * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		g.Go(func() error {
			partial[c] = scanRange(window, start, end, rec, dim, cache, scorer, topk, threshold)
			return nil
		})
	}
	_ = g.Wait() // scanRange never returns an error

	var merged []scored
	for _, p := range partial {
		merged = append(merged, p...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].seq < merged[j].seq })
	return toResults(selectTopK(merged, topk, threshold)), nil
}

// scored is one candidate surviving threshold filtering, before final
// ranking.
type scored struct {
	seq   int64
	id    []byte
	score float64
}

// scanRange scores records [start, end) within a database's record region
// and returns the chunk-local top-k candidates, already filtered and bounded
// so a parallel caller never merges more than topk entries per chunk.
func scanRange(window []byte, start, end int64, rec int64, dim uint32, cache *decodeCache, scorer func(int64, []float32) float64, topk int, threshold float64) []scored {
	cands := make([]scored, 0, end-start)
	vecBuf := make([]float32, dim)
	for i := start; i < end; i++ {
		off := i * rec
		if off+rec > int64(len(window)) {
			break
		}
		recBytes := window[off : off+rec]
		id := recBytes[:IDLen]

		// The cache is keyed by absolute file offset, the same key
		// Cursor.Update invalidates.
		key := HeaderSize + off
		var vec []float32
		if cached, ok := cache.Get(key); ok {
			vec = cached
		} else {
			decodeVectorInto(recBytes[IDLen:], vecBuf)
			vec = vecBuf
			cache.Put(key, vec)
		}

		score := scorer(i, vec)
		if score < threshold {
			continue
		}
		cands = append(cands, scored{seq: i, id: append([]byte(nil), id...), score: score})
	}
	return selectTopK(cands, topk, threshold)
}

// selectTopK runs the bounded min-heap selection spec.md §4.4 describes over
// candidates already in ascending seq order, then returns them sorted
// descending by score with ties broken by ascending seq (insertion order).
func selectTopK(cands []scored, topk int, threshold float64) []scored {
	if topk <= 0 {
		return nil
	}
	h := make(scoredHeap, 0, topk)
	for _, c := range cands {
		if c.score < threshold {
			continue
		}
		if len(h) < topk {
			heap.Push(&h, c)
		} else if c.score > h[0].score {
			heap.Pop(&h)
			heap.Push(&h, c)
		}
		// Equal score: the entry already in the heap was inserted earlier
		// (ascending seq order) and keeps its place, per the tie-break rule.
	}
	out := make([]scored, len(h))
	copy(out, h)
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func toResults(cands []scored) []SearchResult {
	out := make([]SearchResult, len(cands))
	for i, c := range cands {
		out[i] = SearchResult{ID: c.id, Score: c.score}
	}
	return out
}

// scoredHeap is a min-heap over scored, ordered by ascending score; among
// equal scores the later-inserted (higher seq) entry sits nearer the root,
// so it is the one evicted first.
type scoredHeap []scored

func (h scoredHeap) Len() int { return len(h) }
func (h scoredHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].seq > h[j].seq
}
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
