package hnsw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// Snapshot format, little-endian throughout:
//
//	magic "HNSW\0" (5 bytes)
//	u32 format version
//	u32 dimension, u32 metric, u32 M, u32 Mmax0, u32 ef_construction,
//	u32 ef_search, f32 ml
//	u32 max_level, i64 entry_point (-1 when empty)
//	u64 node_count, then per node:
//	  u64 internal_index, u32 level, u8 tombstone flag,
//	  length-prefixed id, u32 metadata count + length-prefixed key/value
//	  pairs, dimension * f32 values
//	per node, per layer 0..level: u32 neighbor_count + neighbor_count * u64
//	u32 CRC-32 of every preceding byte
//
// Saves compact the graph: tombstoned slots are omitted and internal indices
// rewritten densely, so the tombstone flag is written as zero and exists for
// forward compatibility. Writers replace the target atomically via a temp
// file and rename.

var snapshotMagic = [5]byte{'H', 'N', 'S', 'W', 0}

const snapshotVersion = 1

// Save writes a compacted snapshot of the index to path.
func (idx *Index) Save(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	bufw := bufio.NewWriterSize(tmp, 1<<20)
	h := crc32.NewIEEE()
	w := &snapshotWriter{w: io.MultiWriter(bufw, h)}

	idx.writeSnapshotLocked(w)
	if w.err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", w.err)
	}

	// The checksum trails the payload and is not part of its own input.
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], h.Sum32())
	if _, err := bufw.Write(crcBuf[:]); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot checksum: %w", err)
	}

	if err := bufw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

func (idx *Index) writeSnapshotLocked(w *snapshotWriter) {
	// Dense remap of live slots, ascending internal order.
	remap := make(map[int]uint64, len(idx.idToInternal))
	live := make([]int, 0, len(idx.idToInternal))
	for i := range idx.nodes {
		if _, dead := idx.tombstones[i]; dead {
			continue
		}
		remap[i] = uint64(len(live))
		live = append(live, i)
	}

	entry := int64(-1)
	maxLvl := uint32(0)
	if idx.entryPoint >= 0 {
		entry = int64(remap[idx.entryPoint])
		maxLvl = uint32(idx.topLevel)
	}

	w.bytes(snapshotMagic[:])
	w.u32(snapshotVersion)
	w.u32(uint32(idx.dim))
	w.u32(uint32(idx.cfg.Metric))
	w.u32(uint32(idx.cfg.M))
	w.u32(uint32(idx.cfg.Mmax0))
	w.u32(uint32(idx.cfg.EfConstruction))
	w.u32(uint32(idx.cfg.EfSearch))
	w.f32(float32(idx.cfg.ML))
	w.u32(maxLvl)
	w.i64(entry)

	w.u64(uint64(len(live)))
	for dense, internal := range live {
		n := idx.nodes[internal]
		w.u64(uint64(dense))
		w.u32(uint32(n.level))
		w.u8(0) // tombstones are compacted away
		w.str(n.id)
		w.u32(uint32(len(n.meta)))
		for _, k := range sortedKeys(n.meta) {
			w.str(k)
			w.str(n.meta[k])
		}
		for _, v := range n.values {
			w.f32(v)
		}
	}

	for _, internal := range live {
		n := idx.nodes[internal]
		for l := 0; l <= n.level; l++ {
			kept := make([]uint64, 0, len(n.neighbors[l]))
			for _, nb := range n.neighbors[l] {
				if dense, ok := remap[nb]; ok {
					kept = append(kept, dense)
				}
			}
			w.u32(uint32(len(kept)))
			for _, nb := range kept {
				w.u64(nb)
			}
		}
	}
}

// Load replaces the index contents with the snapshot at path. The snapshot's
// dimension and metric must match the index configuration.
func (idx *Index) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(data) < len(snapshotMagic)+8 {
		return fmt.Errorf("%w: file truncated", ErrCorruptSnapshot)
	}

	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	r := &snapshotReader{buf: body}

	var magic [5]byte
	r.bytes(magic[:])
	if magic != snapshotMagic {
		return fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	if v := r.u32(); v != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, v)
	}

	dim := int(r.u32())
	metric := Metric(r.u32())
	m := int(r.u32())
	mmax0 := int(r.u32())
	efC := int(r.u32())
	efS := int(r.u32())
	ml := float64(r.f32())
	maxLvl := int(r.u32())
	entry := r.i64()

	if r.err != nil {
		return fmt.Errorf("%w: truncated header", ErrCorruptSnapshot)
	}
	if dim != idx.dim {
		return fmt.Errorf("%w: dimension %d does not match index dimension %d",
			ErrCorruptSnapshot, dim, idx.dim)
	}
	if metric != idx.cfg.Metric {
		return fmt.Errorf("%w: metric %s does not match index metric %s",
			ErrCorruptSnapshot, metric, idx.cfg.Metric)
	}
	if metric > MetricDotProduct || maxLvl > levelCap {
		return fmt.Errorf("%w: header out of range", ErrCorruptSnapshot)
	}

	nodeCount := r.u64()
	if r.err != nil || nodeCount > uint64(len(body)) {
		return fmt.Errorf("%w: implausible node count", ErrCorruptSnapshot)
	}
	if entry < -1 || entry >= int64(nodeCount) {
		return fmt.Errorf("%w: entry point out of range", ErrCorruptSnapshot)
	}

	nodes := make([]*node, nodeCount)
	order := make([]int, 0, nodeCount)
	idToInternal := make(map[string]int, nodeCount)
	tombstones := make(map[int]struct{})

	for i := uint64(0); i < nodeCount; i++ {
		internal := r.u64()
		level := int(r.u32())
		tomb := r.u8()
		id := r.str()
		metaCount := r.u32()
		var meta map[string]string
		if metaCount > 0 {
			meta = make(map[string]string, metaCount)
			for j := uint32(0); j < metaCount; j++ {
				k := r.str()
				meta[k] = r.str()
			}
		}
		values := make([]float32, dim)
		for j := range values {
			values[j] = r.f32()
		}
		if r.err != nil {
			return fmt.Errorf("%w: truncated node stream", ErrCorruptSnapshot)
		}
		if internal >= nodeCount || nodes[internal] != nil {
			return fmt.Errorf("%w: bad internal index %d", ErrCorruptSnapshot, internal)
		}
		if level < 0 || level > levelCap {
			return fmt.Errorf("%w: node level out of range", ErrCorruptSnapshot)
		}

		n := &node{
			id:        id,
			values:    values,
			meta:      meta,
			level:     level,
			neighbors: make([][]int, level+1),
		}
		nodes[internal] = n
		order = append(order, int(internal))

		if tomb != 0 {
			tombstones[int(internal)] = struct{}{}
			continue
		}
		if _, dup := idToInternal[id]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrCorruptSnapshot, id)
		}
		idToInternal[id] = int(internal)
	}

	for _, internal := range order {
		n := nodes[internal]
		for l := 0; l <= n.level; l++ {
			count := r.u32()
			if r.err != nil || uint64(count) > nodeCount {
				return fmt.Errorf("%w: truncated neighbor stream", ErrCorruptSnapshot)
			}
			layer := make([]int, 0, count)
			for j := uint32(0); j < count; j++ {
				nb := r.u64()
				if nb >= nodeCount {
					return fmt.Errorf("%w: neighbor index out of range", ErrCorruptSnapshot)
				}
				layer = append(layer, int(nb))
			}
			n.neighbors[l] = layer
		}
	}
	if r.err != nil {
		return fmt.Errorf("%w: truncated neighbor stream", ErrCorruptSnapshot)
	}
	if r.off != len(body) {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptSnapshot, len(body)-r.off)
	}

	entryPoint := int(entry)
	if entryPoint >= 0 {
		if _, dead := tombstones[entryPoint]; dead {
			return fmt.Errorf("%w: tombstoned entry point", ErrCorruptSnapshot)
		}
	}

	idx.cfg.M = m
	idx.cfg.Mmax0 = mmax0
	idx.cfg.EfConstruction = efC
	idx.cfg.EfSearch = efS
	idx.cfg.ML = ml
	idx.cfg = idx.cfg.withDefaults()
	idx.nodes = nodes
	idx.idToInternal = idToInternal
	idx.tombstones = tombstones
	idx.entryPoint = entryPoint
	idx.topLevel = maxLvl
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// snapshotWriter accumulates the first write error so call sites stay flat.
type snapshotWriter struct {
	w   io.Writer
	err error
}

func (s *snapshotWriter) bytes(b []byte) {
	if s.err != nil {
		return
	}
	_, s.err = s.w.Write(b)
}

func (s *snapshotWriter) u8(v uint8) { s.bytes([]byte{v}) }

func (s *snapshotWriter) u32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	s.bytes(buf[:])
}

func (s *snapshotWriter) u64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	s.bytes(buf[:])
}

func (s *snapshotWriter) i64(v int64) { s.u64(uint64(v)) }

func (s *snapshotWriter) f32(v float32) { s.u32(math.Float32bits(v)) }

func (s *snapshotWriter) str(v string) {
	s.u32(uint32(len(v)))
	s.bytes([]byte(v))
}

// snapshotReader walks the decoded payload, latching the first error.
type snapshotReader struct {
	buf []byte
	off int
	err error
}

func (s *snapshotReader) bytes(dst []byte) {
	if s.err != nil {
		return
	}
	if s.off+len(dst) > len(s.buf) {
		s.err = io.ErrUnexpectedEOF
		return
	}
	copy(dst, s.buf[s.off:])
	s.off += len(dst)
}

func (s *snapshotReader) u8() uint8 {
	var buf [1]byte
	s.bytes(buf[:])
	return buf[0]
}

func (s *snapshotReader) u32() uint32 {
	var buf [4]byte
	s.bytes(buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

func (s *snapshotReader) u64() uint64 {
	var buf [8]byte
	s.bytes(buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

func (s *snapshotReader) i64() int64 { return int64(s.u64()) }

func (s *snapshotReader) f32() float32 { return math.Float32frombits(s.u32()) }

func (s *snapshotReader) str() string {
	n := s.u32()
	if s.err != nil {
		return ""
	}
	if int(n) > len(s.buf)-s.off {
		s.err = io.ErrUnexpectedEOF
		return ""
	}
	v := string(s.buf[s.off : s.off+int(n)])
	s.off += int(n)
	return v
}
