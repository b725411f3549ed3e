package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring"
	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/vexsearch/vexroute/internal/vector"
	"github.com/vexsearch/vexroute/internal/version"
)

const (
	// SnapshotMagic opens every snapshot file ("VXRI").
	SnapshotMagic = "VXRI"

	// SnapshotVersion is the snapshot layout version written by EncodeSnapshot.
	SnapshotVersion = version.SnapshotFormatVersionCurrent

	// SnapshotExtension is the object key suffix of a snapshot.
	SnapshotExtension = ".vxri.zst"

	snapshotHeaderSize = 16
	checksumSize       = 8
)

var (
	// ErrInvalidSnapshot is returned for snapshots that are truncated, fail
	// their checksum, or describe an inconsistent layout.
	ErrInvalidSnapshot = errors.New("invalid index snapshot")

	// ErrUnsupportedVersion is returned for snapshots whose layout version is
	// outside the readable range.
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrInvalidSnapshot)
)

// Snapshot layout, after the 4 magic bytes, zstd-compressed and little endian:
//
//	version u32 | dims u32 | n u32 | n_clusters u32
//	centroids     f32[n_clusters*dims]
//	offsets       u32[n_clusters+1]
//	sorted_order  u32[n]
//	sorted_vecs   f32[n*dims]
//	xxhash64 of everything above, u64

// EncodeSnapshot serializes idx into the compressed snapshot format.
func EncodeSnapshot(idx *PartitionedIndex) ([]byte, error) {
	payload := idx.marshalPayload()

	var buf bytes.Buffer
	buf.WriteString(SnapshotMagic)
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(payload); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteSnapshot writes the encoded snapshot of idx to w.
func WriteSnapshot(w io.Writer, idx *PartitionedIndex) error {
	data, err := EncodeSnapshot(idx)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadSnapshot reads and validates a snapshot from r.
func ReadSnapshot(r io.Reader) (*PartitionedIndex, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}

// DecodeSnapshot parses and validates a snapshot produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*PartitionedIndex, error) {
	if len(data) < len(SnapshotMagic) || string(data[:len(SnapshotMagic)]) != SnapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidSnapshot)
	}

	dec, err := zstd.NewReader(bytes.NewReader(data[len(SnapshotMagic):]), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	defer dec.Close()
	payload, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return unmarshalPayload(payload)
}

func (idx *PartitionedIndex) marshalPayload() []byte {
	dims, n, k := idx.Dims(), idx.Len(), idx.NumClusters()
	size := snapshotHeaderSize + 4*(k*dims+(k+1)+n+n*dims) + checksumSize
	out := make([]byte, size)

	le := binary.LittleEndian
	le.PutUint32(out[0:], SnapshotVersion)
	le.PutUint32(out[4:], uint32(dims))
	le.PutUint32(out[8:], uint32(n))
	le.PutUint32(out[12:], uint32(k))
	off := snapshotHeaderSize

	vector.PutFloat32s(out[off:], idx.centroids.Data)
	off += 4 * len(idx.centroids.Data)
	for _, o := range idx.offsets {
		le.PutUint32(out[off:], uint32(o))
		off += 4
	}
	for _, ord := range idx.sortedOrder {
		le.PutUint32(out[off:], uint32(ord))
		off += 4
	}
	vector.PutFloat32s(out[off:], idx.sortedVectors.Data)
	off += 4 * len(idx.sortedVectors.Data)

	le.PutUint64(out[off:], xxhash.Sum64(out[:off]))
	return out
}

func unmarshalPayload(p []byte) (*PartitionedIndex, error) {
	if len(p) < snapshotHeaderSize+checksumSize {
		return nil, fmt.Errorf("%w: truncated header", ErrInvalidSnapshot)
	}
	le := binary.LittleEndian
	body := p[:len(p)-checksumSize]
	if want, got := le.Uint64(p[len(body):]), xxhash.Sum64(body); want != got {
		return nil, fmt.Errorf("%w: checksum mismatch: stored %x, computed %x", ErrInvalidSnapshot, want, got)
	}

	if err := version.CheckSnapshotVersion(int(le.Uint32(p[0:]))); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedVersion, err)
	}
	dims := int(le.Uint32(p[4:]))
	n := int(le.Uint32(p[8:]))
	k := int(le.Uint32(p[12:]))
	if dims <= 0 || k <= 0 {
		return nil, fmt.Errorf("%w: dims=%d n_clusters=%d", ErrInvalidSnapshot, dims, k)
	}
	want := uint64(snapshotHeaderSize) + 4*(uint64(k)*uint64(dims)+uint64(k)+1+uint64(n)+uint64(n)*uint64(dims))
	if uint64(len(body)) != want {
		return nil, fmt.Errorf("%w: payload is %d bytes, header describes %d", ErrInvalidSnapshot, len(body), want)
	}

	off := snapshotHeaderSize
	centroids := vector.Zeros(k, dims)
	vector.Float32s(centroids.Data, body[off:])
	off += 4 * k * dims

	offsets := make([]int, k+1)
	for i := range offsets {
		offsets[i] = int(le.Uint32(body[off:]))
		off += 4
	}
	sortedOrder := make([]int32, n)
	for i := range sortedOrder {
		sortedOrder[i] = int32(le.Uint32(body[off:]))
		off += 4
	}
	sorted := vector.Zeros(n, dims)
	vector.Float32s(sorted.Data, body[off:])

	if err := validateLayout(offsets, sortedOrder, n); err != nil {
		return nil, err
	}
	if err := centroids.Validate(); err != nil {
		return nil, fmt.Errorf("%w: centroids: %v", ErrInvalidSnapshot, err)
	}
	if err := sorted.Validate(); err != nil {
		return nil, fmt.Errorf("%w: vectors: %v", ErrInvalidSnapshot, err)
	}

	positions := make([]int32, n)
	for pos, ord := range sortedOrder {
		positions[ord] = int32(pos)
	}
	return &PartitionedIndex{
		centroids:     centroids,
		sortedOrder:   sortedOrder,
		sortedVectors: sorted,
		offsets:       offsets,
		positions:     positions,
	}, nil
}

// validateLayout checks that offsets partition [0, n) and that sortedOrder
// is a permutation of [0, n) ascending within each cluster.
func validateLayout(offsets []int, sortedOrder []int32, n int) error {
	k := len(offsets) - 1
	if offsets[0] != 0 || offsets[k] != n {
		return fmt.Errorf("%w: offsets span [%d, %d), want [0, %d)", ErrInvalidSnapshot, offsets[0], offsets[k], n)
	}
	for c := 0; c < k; c++ {
		if offsets[c] > offsets[c+1] {
			return fmt.Errorf("%w: offsets decrease at cluster %d", ErrInvalidSnapshot, c)
		}
	}

	seen := roaring.New()
	for c := 0; c < k; c++ {
		for pos := offsets[c]; pos < offsets[c+1]; pos++ {
			ord := sortedOrder[pos]
			if ord < 0 || int(ord) >= n {
				return fmt.Errorf("%w: ordinal %d at position %d out of range", ErrInvalidSnapshot, ord, pos)
			}
			if !seen.CheckedAdd(uint32(ord)) {
				return fmt.Errorf("%w: ordinal %d stored twice", ErrInvalidSnapshot, ord)
			}
			if pos > offsets[c] && sortedOrder[pos-1] >= ord {
				return fmt.Errorf("%w: cluster %d is not in ordinal order", ErrInvalidSnapshot, c)
			}
		}
	}
	return nil
}
