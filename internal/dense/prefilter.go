package dense

import (
	"context"

	"github.com/coder/hnsw"
)

// Prefilter modes. Auto keeps small corpora on exact scoring and switches
// to ANN narrowing once the corpus crosses MinChunks.
const (
	PrefilterAuto = "auto"
	PrefilterOn   = "on"
	PrefilterOff  = "off"
)

// HNSW parameters, coder/hnsw defaults.
const (
	annM        = 16
	annEfSearch = 20
	annMl       = 0.25
)

// Prefilter controls the ANN candidate-narrowing stage.
type Prefilter struct {
	Mode                string
	MinChunks           int
	CandidateMultiplier int
}

// DefaultPrefilter matches the shipped configuration defaults.
func DefaultPrefilter() Prefilter {
	return Prefilter{
		Mode:                PrefilterAuto,
		MinChunks:           5000,
		CandidateMultiplier: 4,
	}
}

// normalized fills zero values with defaults and maps unknown modes to auto.
func (p Prefilter) normalized() Prefilter {
	def := DefaultPrefilter()
	switch p.Mode {
	case PrefilterAuto, PrefilterOn, PrefilterOff:
	default:
		p.Mode = def.Mode
	}
	if p.MinChunks <= 0 {
		p.MinChunks = def.MinChunks
	}
	if p.CandidateMultiplier < 1 {
		p.CandidateMultiplier = def.CandidateMultiplier
	}
	return p
}

// enabledFor reports whether an ANN index should be built for a corpus of
// the given size.
func (p Prefilter) enabledFor(chunkCount int) bool {
	switch p.Mode {
	case PrefilterOn:
		return chunkCount > 0
	case PrefilterOff:
		return false
	default:
		return chunkCount >= p.MinChunks
	}
}

// annIndex wraps an HNSW graph over pooled chunk vectors, keyed by snapshot
// position. It is built once at commit and read-only afterwards, so no lock
// guards it.
type annIndex struct {
	graph *hnsw.Graph[uint64]
}

// buildANN indexes the pooled vector of each token matrix. Positions follow
// the snapshot's sorted chunk order.
func buildANN(ctx context.Context, mats [][][]float32) (*annIndex, error) {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = annM
	graph.EfSearch = annEfSearch
	graph.Ml = annMl

	for i, mat := range mats {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		graph.Add(hnsw.MakeNode(uint64(i), pooledVector(mat)))
	}
	return &annIndex{graph: graph}, nil
}

// search returns up to k snapshot positions near the pooled query vector.
func (a *annIndex) search(pooled []float32, k int) []int {
	nodes := a.graph.Search(pooled, k)
	idxs := make([]int, 0, len(nodes))
	for _, node := range nodes {
		idxs = append(idxs, int(node.Key))
	}
	return idxs
}

// pooledVector is the normalized mean of a set of unit vectors. It stands in
// for the whole matrix during ANN narrowing; exact MaxSim still decides the
// final ranking.
func pooledVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return []float32{}
	}
	pooled := make([]float32, len(vectors[0]))
	for _, vec := range vectors {
		for i, v := range vec {
			pooled[i] += v
		}
	}
	n := float32(len(vectors))
	for i := range pooled {
		pooled[i] /= n
	}
	return normalizeCopy(pooled)
}
