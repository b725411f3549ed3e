package dataset

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/vexsearch/vexroute/internal/index"
	"github.com/vexsearch/vexroute/internal/vector"
)

// Metadata describes an exported partition.
type Metadata struct {
	NumVectors  int `json:"num_vectors"`
	NumClusters int `json:"num_clusters"`
	Dim         int `json:"dim"`
	PrecBits    int `json:"prec_bits,omitempty"`
}

// MetadataFor describes idx.
func MetadataFor(idx *index.PartitionedIndex) Metadata {
	return Metadata{
		NumVectors:  idx.Len(),
		NumClusters: idx.NumClusters(),
		Dim:         idx.Dims(),
	}
}

// ReadMetadata decodes a metadata document.
func ReadMetadata(r io.Reader) (Metadata, error) {
	var md Metadata
	if err := json.NewDecoder(r).Decode(&md); err != nil {
		return md, fmt.Errorf("%w: metadata: %v", vector.ErrInvalidInput, err)
	}
	if md.NumVectors < 0 || md.NumClusters < 0 || md.Dim <= 0 {
		return md, fmt.Errorf("%w: metadata shape %d vectors, %d clusters, dim %d", vector.ErrInvalidInput, md.NumVectors, md.NumClusters, md.Dim)
	}
	return md, nil
}

// WriteMetadata encodes md as indented JSON.
func WriteMetadata(w io.Writer, md Metadata) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(md)
}
