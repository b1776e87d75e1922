package lexical

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trirank/trirank/internal/errors"
	"github.com/trirank/trirank/internal/store"
)

// newTestIndex creates an index with default params over the given languages.
func newTestIndex(t *testing.T, languages ...string) *Index {
	t.Helper()
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	analyzers, err := NewAnalyzerSet(languages)
	require.NoError(t, err)
	return NewIndex(DefaultParams(), analyzers)
}

// chunk builds a test chunk.
func chunk(id, language, text string) *store.Chunk {
	return &store.Chunk{ID: id, Language: language, Text: text}
}

// TS01: Basic Indexing and Search
func TestIndex_RebuildAndSearch_Basic(t *testing.T) {
	// Given: an index over three chunks
	idx := newTestIndex(t)
	chunks := []*store.Chunk{
		chunk("c1", "en", "solar panels convert sunlight"),
		chunk("c2", "en", "solar water heaters store heat"),
		chunk("c3", "en", "wind turbines generate power"),
	}
	report, err := idx.Rebuild(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Indexed)
	assert.Empty(t, report.Skipped)

	// When: searching for a term present in two chunks
	results, err := idx.Search(context.Background(), []string{"solar"}, 10)
	require.NoError(t, err)

	// Then: both matching chunks come back, scored
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Greater(t, r.Score, 0.0)
		assert.Contains(t, r.MatchedTerms, "solar")
	}
}

// TS02: Exact BM25 Arithmetic
func TestIndex_Search_ScoresExactBM25(t *testing.T) {
	// Given: three 10-token chunks; "quantum" appears only in A, twice
	idx := newTestIndex(t)
	chunks := []*store.Chunk{
		chunk("chunk-a", "en", "quantum sensors detect quantum fields near polar regions winter season"),
		chunk("chunk-b", "en", "solar panels convert bright sunlight directly toward usable electric current"),
		chunk("chunk-c", "en", "wind turbines spin huge blades generating steady offshore power supply"),
	}
	_, err := idx.Rebuild(context.Background(), chunks)
	require.NoError(t, err)

	// Sanity: every chunk analyzed to 10 tokens
	stats := idx.Stats()
	assert.Equal(t, 3, stats.DocumentCount)
	assert.InDelta(t, 10.0, stats.AvgDocLength, 1e-9)

	// When: searching for the rare doubled term
	// N=3, df=1, f=2, |D|=10, avgdl=10, k1=1.5, b=0.75:
	// IDF = ln((3-1+0.5)/(1+0.5)+1) ~= 0.981
	// TF  = (2*2.5)/(2+1.5*(1-0.75+0.75*1)) = 5/3.5 ~= 1.429
	results, err := idx.Search(context.Background(), []string{"quantum"}, 10)
	require.NoError(t, err)

	// Then: only chunk A matches, at the worked score
	require.Len(t, results, 1)
	assert.Equal(t, "chunk-a", results[0].ChunkID)
	assert.InDelta(t, 1.402, results[0].Score, 1e-3)
}

func TestIndex_Search_RepeatedQueryTermContributesTwice(t *testing.T) {
	// Given: an indexed corpus
	idx := newTestIndex(t)
	_, err := idx.Rebuild(context.Background(), []*store.Chunk{
		chunk("c1", "en", "solar panels convert sunlight"),
		chunk("c2", "en", "wind turbines generate power"),
	})
	require.NoError(t, err)

	// When: the same term appears once vs twice in the query tokens
	once, err := idx.Search(context.Background(), []string{"solar"}, 10)
	require.NoError(t, err)
	twice, err := idx.Search(context.Background(), []string{"solar", "solar"}, 10)
	require.NoError(t, err)

	// Then: the doubled query doubles the score
	require.Len(t, once, 1)
	require.Len(t, twice, 1)
	assert.InDelta(t, 2*once[0].Score, twice[0].Score, 1e-12)
}

// TS03: Ordering
func TestIndex_Search_TiesBreakByChunkIDAscending(t *testing.T) {
	// Given: two chunks with identical text, ids out of order
	idx := newTestIndex(t)
	_, err := idx.Rebuild(context.Background(), []*store.Chunk{
		chunk("chunk-b", "en", "solar energy storage"),
		chunk("chunk-a", "en", "solar energy storage"),
	})
	require.NoError(t, err)

	// When: searching a term both contain equally
	results, err := idx.Search(context.Background(), []string{"solar"}, 10)
	require.NoError(t, err)

	// Then: equal scores order by chunk id ascending
	require.Len(t, results, 2)
	assert.Equal(t, results[0].Score, results[1].Score)
	assert.Equal(t, "chunk-a", results[0].ChunkID)
	assert.Equal(t, "chunk-b", results[1].ChunkID)
}

func TestIndex_Search_MultiTermRanking(t *testing.T) {
	// Given: chunks with different term combinations
	idx := newTestIndex(t)
	_, err := idx.Rebuild(context.Background(), []*store.Chunk{
		chunk("c1", "en", "solar inverter sizing guide"),
		chunk("c2", "en", "solar battery placement"),
		chunk("c3", "en", "inverter cooling requirements"),
	})
	require.NoError(t, err)

	// When: searching with two terms
	results, err := idx.Search(context.Background(), []string{"solar", "inverter"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// Then: the chunk containing both ranks first
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestIndex_Search_TopKLimitsResults(t *testing.T) {
	idx := newTestIndex(t)
	chunks := make([]*store.Chunk, 5)
	for i := range chunks {
		chunks[i] = chunk(fmt.Sprintf("c%d", i), "en", "shared keyword appears here")
	}
	_, err := idx.Rebuild(context.Background(), chunks)
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []string{"keyword"}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

// TS04: Error and Edge Behavior
func TestIndex_SearchBeforeRebuild_FailsNotIndexed(t *testing.T) {
	// Given: an index that was never built
	idx := newTestIndex(t)

	// When: searching
	_, err := idx.Search(context.Background(), []string{"solar"}, 10)

	// Then: the NotIndexed error comes back
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotIndexed, errors.GetCode(err))
}

func TestIndex_Search_EmptyQueryTokens_ReturnsEmptyNotError(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Rebuild(context.Background(), []*store.Chunk{
		chunk("c1", "en", "solar panels"),
	})
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), nil, 10)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestIndex_Search_NoMatches_ReturnsEmpty(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Rebuild(context.Background(), []*store.Chunk{
		chunk("c1", "en", "solar panels"),
	})
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []string{"nonexistent"}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_Rebuild_EmptyCorpus(t *testing.T) {
	idx := newTestIndex(t)
	report, err := idx.Rebuild(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Indexed)

	results, err := idx.Search(context.Background(), []string{"anything"}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_Rebuild_CancelledContext_ReturnsError(t *testing.T) {
	idx := newTestIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Rebuild(ctx, []*store.Chunk{chunk("c1", "en", "solar")})
	require.Error(t, err)
}

// TS05: Skip-and-Report
func TestIndex_Rebuild_SkipsUnknownLanguageChunks(t *testing.T) {
	// Given: a corpus with one chunk in an unconfigured language
	idx := newTestIndex(t, "en")
	report, err := idx.Rebuild(context.Background(), []*store.Chunk{
		chunk("c1", "en", "solar panels"),
		chunk("c2", "fr", "panneaux solaires"),
		chunk("c3", "en", "wind turbines"),
	})

	// Then: the build succeeds, the odd chunk is reported
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "c2", report.Skipped[0].ChunkID)
	assert.Contains(t, report.Skipped[0].Reason, "no analyzer")

	// And: the skipped chunk is not searchable
	assert.Equal(t, []string{"c1", "c3"}, idx.AllIDs())
}

func TestIndex_Rebuild_SkipsDuplicateChunkIDs(t *testing.T) {
	idx := newTestIndex(t)
	report, err := idx.Rebuild(context.Background(), []*store.Chunk{
		chunk("c1", "en", "first version"),
		chunk("c1", "en", "second version"),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "duplicate chunk id", report.Skipped[0].Reason)
}

// TS06: Rebuild Semantics
func TestIndex_Rebuild_IsIdempotent(t *testing.T) {
	// Given: the same corpus indexed twice
	idx := newTestIndex(t)
	chunks := []*store.Chunk{
		chunk("c1", "en", "solar panels convert sunlight"),
		chunk("c2", "en", "solar water heaters store heat"),
		chunk("c3", "en", "wind turbines generate power"),
	}
	_, err := idx.Rebuild(context.Background(), chunks)
	require.NoError(t, err)
	first, err := idx.Search(context.Background(), []string{"solar", "power"}, 10)
	require.NoError(t, err)

	_, err = idx.Rebuild(context.Background(), chunks)
	require.NoError(t, err)
	second, err := idx.Search(context.Background(), []string{"solar", "power"}, 10)
	require.NoError(t, err)

	// Then: results are identical, scores included
	assert.Equal(t, first, second)
}

func TestIndex_Rebuild_ReplacesPriorSnapshot(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Rebuild(context.Background(), []*store.Chunk{
		chunk("old-1", "en", "solar panels"),
		chunk("old-2", "en", "solar heaters"),
	})
	require.NoError(t, err)

	_, err = idx.Rebuild(context.Background(), []*store.Chunk{
		chunk("new-1", "en", "solar farms"),
	})
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []string{"solar"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new-1", results[0].ChunkID)
	assert.Equal(t, []string{"new-1"}, idx.AllIDs())
}

func TestIndex_ConcurrentSearchDuringRebuild_SeesOneSnapshot(t *testing.T) {
	// Given: two corpora distinguishable by id prefix
	idx := newTestIndex(t)
	corpusA := []*store.Chunk{
		chunk("a-1", "en", "solar panels rooftop"),
		chunk("a-2", "en", "solar heaters rooftop"),
	}
	corpusB := []*store.Chunk{
		chunk("b-1", "en", "solar farms desert"),
		chunk("b-2", "en", "solar towers desert"),
		chunk("b-3", "en", "solar ponds desert"),
	}
	_, err := idx.Rebuild(context.Background(), corpusA)
	require.NoError(t, err)

	// When: searches run while rebuilds alternate between corpora
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				results, err := idx.Search(context.Background(), []string{"solar"}, 10)
				assert.NoError(t, err)
				if len(results) == 0 {
					continue
				}
				// Then: every result set comes from a single snapshot
				prefix := results[0].ChunkID[:1]
				for _, r := range results {
					assert.Equal(t, prefix, r.ChunkID[:1],
						"mixed snapshots observed: %v", results)
				}
			}
		}()
	}

	for i := 0; i < 25; i++ {
		corpus := corpusA
		if i%2 == 0 {
			corpus = corpusB
		}
		_, err := idx.Rebuild(context.Background(), corpus)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

// TS07: Query Analysis
func TestIndex_AnalyzeQuery_UsesRequestedLanguage(t *testing.T) {
	idx := newTestIndex(t, "en", "es")

	tokens := idx.AnalyzeQuery("es", "los paneles solares")
	assert.Equal(t, []string{"paneles", "solares"}, tokens)
}

func TestIndex_AnalyzeQuery_FallsBackForUnknownLanguage(t *testing.T) {
	idx := newTestIndex(t, "en")

	// "the" is an English stopword; the fallback chain removes it
	tokens := idx.AnalyzeQuery("xx", "the solar panels")
	assert.Equal(t, []string{"solar", "panels"}, tokens)
}

func TestIndex_ArabicQueryMatchesNormalizedChunk(t *testing.T) {
	// Given: an Arabic chunk indexed with diacritized text
	idx := newTestIndex(t, "ar")
	_, err := idx.Rebuild(context.Background(), []*store.Chunk{
		chunk("ar-1", "ar", "الطاقة الشَّمْسِيَّة المتجددة"),
	})
	require.NoError(t, err)

	// When: querying with the bare spelling
	tokens := idx.AnalyzeQuery("ar", "الشمسية")
	results, err := idx.Search(context.Background(), tokens, 10)

	// Then: normalization lines the two spellings up
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ar-1", results[0].ChunkID)
}

// TS08: Introspection
func TestIndex_Indexed(t *testing.T) {
	idx := newTestIndex(t)
	assert.False(t, idx.Indexed())

	_, err := idx.Rebuild(context.Background(), []*store.Chunk{chunk("c1", "en", "solar")})
	require.NoError(t, err)
	assert.True(t, idx.Indexed())
}

func TestIndex_Stats_EmptyBeforeBuild(t *testing.T) {
	idx := newTestIndex(t)
	stats := idx.Stats()
	assert.Equal(t, 0, stats.DocumentCount)
	assert.Equal(t, 0, stats.TermCount)
}

func TestIndex_AllIDs_SortedAscending(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Rebuild(context.Background(), []*store.Chunk{
		chunk("c3", "en", "three"),
		chunk("c1", "en", "one"),
		chunk("c2", "en", "two"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "c2", "c3"}, idx.AllIDs())
}
