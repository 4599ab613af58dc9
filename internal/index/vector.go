package index

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// vectorStore is the per-partition HNSW graph. Fragment IDs are mapped to
// monotonically increasing uint64 keys; deletions are lazy (the mapping is
// dropped, the node stays) because coder/hnsw misbehaves when the last node
// is removed.
type vectorStore struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

type vectorMatch struct {
	ID    string
	Score float64
}

type vectorMeta struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

func newVectorStore(dimensions, m, efSearch int) *vectorStore {
	if m <= 0 {
		m = 16
	}
	if efSearch <= 0 {
		efSearch = 20
	}
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = m
	graph.Ml = 0.25
	graph.EfSearch = efSearch

	return &vectorStore{
		graph:      graph,
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}
}

func (v *vectorStore) add(id string, vec []float32) error {
	if len(vec) != v.dimensions {
		return fmt.Errorf("vector dimension mismatch: want %d, got %d", v.dimensions, len(vec))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if oldKey, exists := v.idMap[id]; exists {
		delete(v.keyMap, oldKey)
		delete(v.idMap, id)
	}

	key := v.nextKey
	v.nextKey++

	norm := make([]float32, len(vec))
	copy(norm, vec)
	normalizeInPlace(norm)

	v.graph.Add(hnsw.MakeNode(key, norm))
	v.idMap[id] = key
	v.keyMap[key] = id
	return nil
}

func (v *vectorStore) remove(ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		if key, exists := v.idMap[id]; exists {
			delete(v.keyMap, key)
			delete(v.idMap, id)
		}
	}
}

// search returns up to k live matches with cosine similarity scores in
// [0, 1]. Orphaned graph nodes are filtered out, so k is padded to keep
// recall up after heavy deletion.
func (v *vectorStore) search(query []float32, k int) ([]vectorMatch, error) {
	if len(query) != v.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: want %d, got %d", v.dimensions, len(query))
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph.Len() == 0 {
		return nil, nil
	}

	norm := make([]float32, len(query))
	copy(norm, query)
	normalizeInPlace(norm)

	orphans := v.graph.Len() - len(v.idMap)
	nodes := v.graph.Search(norm, k+orphans)

	matches := make([]vectorMatch, 0, k)
	for _, node := range nodes {
		id, live := v.keyMap[node.Key]
		if !live {
			continue
		}
		distance := v.graph.Distance(norm, node.Value)
		matches = append(matches, vectorMatch{
			ID:    id,
			Score: 1.0 - float64(distance)/2.0,
		})
		if len(matches) == k {
			break
		}
	}
	return matches, nil
}

func (v *vectorStore) count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// save writes the graph and ID mappings atomically next to path.
func (v *vectorStore) save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating vector directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating vector file: %w", err)
	}
	if err := v.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("exporting graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing vector file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing vector file: %w", err)
	}

	metaTmp := path + ".meta.tmp"
	mf, err := os.Create(metaTmp)
	if err != nil {
		return fmt.Errorf("creating vector metadata: %w", err)
	}
	meta := vectorMeta{IDMap: v.idMap, NextKey: v.nextKey, Dimensions: v.dimensions}
	if err := gob.NewEncoder(mf).Encode(meta); err != nil {
		mf.Close()
		os.Remove(metaTmp)
		return fmt.Errorf("encoding vector metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		os.Remove(metaTmp)
		return fmt.Errorf("closing vector metadata: %w", err)
	}
	return os.Rename(metaTmp, path+".meta")
}

// load restores a previously saved graph. A missing file is a fresh start.
func (v *vectorStore) load(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	mf, err := os.Open(path + ".meta")
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening vector metadata: %w", err)
	}
	var meta vectorMeta
	decodeErr := gob.NewDecoder(mf).Decode(&meta)
	mf.Close()
	if decodeErr != nil {
		return fmt.Errorf("decoding vector metadata: %w", decodeErr)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening vector file: %w", err)
	}
	defer f.Close()

	// Import needs an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("importing graph: %w", err)
	}

	v.idMap = meta.IDMap
	v.nextKey = meta.NextKey
	v.dimensions = meta.Dimensions
	v.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		v.keyMap[key] = id
	}
	return nil
}

func normalizeInPlace(vec []float32) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
