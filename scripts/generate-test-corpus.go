//go:build ignore

// Package main generates a synthetic JSONL corpus for benchmarking.
// Usage: go run scripts/generate-test-corpus.go -docs 500 -output testdata/bench
//
// The output indexes directly: trirank index --corpus testdata/bench
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

var (
	numDocs     = flag.Int("docs", 500, "Number of documents to generate")
	chunksPer   = flag.Int("chunks", 6, "Chunks per document")
	numEntities = flag.Int("entities", 200, "Number of entities in the knowledge graph")
	numFiles    = flag.Int("files", 4, "Number of .jsonl files to spread documents across")
	outputDir   = flag.String("output", "testdata/bench", "Output directory")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
	embedDims   = flag.Int("embed-dims", 0, "Emit precomputed embedding records with this dimension (0 = none)")
)

// record is the wire shape of one corpus line, the union of all types.
type record struct {
	Type string `json:"type"`

	ID         string  `json:"id,omitempty"`
	Path       string  `json:"path,omitempty"`
	Title      string  `json:"title,omitempty"`
	DocumentID string  `json:"document_id,omitempty"`
	Text       string  `json:"text,omitempty"`
	Position   int     `json:"position,omitempty"`
	Language   string  `json:"language,omitempty"`
	Name       string  `json:"name,omitempty"`
	EntityType string  `json:"entity_type,omitempty"`
	SourceID   string  `json:"source_id,omitempty"`
	TargetID   string  `json:"target_id,omitempty"`
	RelType    string  `json:"rel_type,omitempty"`
	ChunkID    string  `json:"chunk_id,omitempty"`
	EntityID   string  `json:"entity_id,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	Model   string      `json:"model,omitempty"`
	Vectors [][]float32 `json:"vectors,omitempty"`
}

// Word pools for plausible energy-domain text with overlapping term
// distributions, so lexical and dense scores stay non-trivial.
var subjects = []string{
	"the inverter", "the solar array", "the battery bank", "the charge controller",
	"the smart meter", "the grid connection", "the monitoring system", "the heat pump",
	"the transformer", "the distribution panel", "the backup generator", "the load balancer",
}

var verbs = []string{
	"regulates", "converts", "stores", "exports", "measures", "absorbs",
	"distributes", "throttles", "stabilizes", "monitors", "buffers", "isolates",
}

var objects = []string{
	"direct current", "alternating current", "surplus energy", "peak demand",
	"reactive power", "grid frequency", "the feed-in tariff", "battery charge",
	"voltage fluctuations", "seasonal output", "household consumption", "export limits",
}

var modifiers = []string{
	"during the evening peak", "under cloud cover", "at rated capacity",
	"within tolerance", "across all phases", "when irradiance drops",
	"for off-grid operation", "throughout the billing cycle",
	"according to the commissioning report", "despite panel degradation",
}

var topics = []string{
	"commissioning", "maintenance", "sizing", "monitoring", "compliance",
	"troubleshooting", "warranty", "installation", "upgrade", "inspection",
}

var entityNouns = []string{
	"Panel", "Inverter", "Battery", "Meter", "Controller", "Array",
	"Transformer", "Regulator", "Sensor", "Gateway", "Relay", "Breaker",
}

var entityQualifiers = []string{
	"Rooftop", "Hybrid", "String", "Micro", "Smart", "Backup",
	"Three-Phase", "Lithium", "Grid-Tie", "Off-Grid", "Modular", "Industrial",
}

var entityTypes = []string{"PRODUCT", "SYSTEM", "COMPONENT", "PROCESS", "STANDARD"}

var relTypes = []string{"FEEDS", "PART_OF", "CONNECTS_TO", "REGULATES", "MONITORS", "SUPPLIES"}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generating %d documents across %d files in %s...\n", *numDocs, *numFiles, *outputDir)

	entities := generateEntities(rng, *numEntities)
	relationships := generateRelationships(rng, entities)
	if err := writeGraphFile(entities, relationships); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing graph file: %v\n", err)
		os.Exit(1)
	}

	var chunks, mentions, embeddings int
	perFile := (*numDocs + *numFiles - 1) / *numFiles
	docIndex := 0
	for f := 0; f < *numFiles && docIndex < *numDocs; f++ {
		count := perFile
		if docIndex+count > *numDocs {
			count = *numDocs - docIndex
		}
		c, m, e, err := writeCorpusFile(rng, f, docIndex, count, entities)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing corpus file %d: %v\n", f, err)
			os.Exit(1)
		}
		chunks += c
		mentions += m
		embeddings += e
		docIndex += count
	}

	fmt.Printf("Generated %d documents, %d chunks, %d entities, %d relationships, %d mentions",
		*numDocs, chunks, len(entities), len(relationships), mentions)
	if embeddings > 0 {
		fmt.Printf(", %d embeddings", embeddings)
	}
	fmt.Println(".")
}

// generateEntities produces uniquely named graph entities.
func generateEntities(rng *rand.Rand, n int) []record {
	entities := make([]record, 0, n)
	seen := make(map[string]bool)
	for i := 0; len(entities) < n; i++ {
		name := fmt.Sprintf("%s %s", randomWord(rng, entityQualifiers), randomWord(rng, entityNouns))
		if seen[name] {
			name = fmt.Sprintf("%s %d", name, i)
		}
		seen[name] = true
		entities = append(entities, record{
			Type:       "entity",
			ID:         fmt.Sprintf("ent-%d", len(entities)),
			Name:       name,
			EntityType: randomWord(rng, entityTypes),
			Language:   "en",
			Confidence: 0.7 + rng.Float64()*0.3,
		})
	}
	return entities
}

// generateRelationships links random entity pairs, roughly two edges per
// entity, skipping self-loops.
func generateRelationships(rng *rand.Rand, entities []record) []record {
	relationships := make([]record, 0, len(entities)*2)
	for i := 0; i < len(entities)*2; i++ {
		source := entities[rng.Intn(len(entities))]
		target := entities[rng.Intn(len(entities))]
		if source.ID == target.ID {
			continue
		}
		relationships = append(relationships, record{
			Type:       "relationship",
			SourceID:   source.ID,
			TargetID:   target.ID,
			RelType:    randomWord(rng, relTypes),
			Confidence: 0.6 + rng.Float64()*0.4,
		})
	}
	return relationships
}

// writeGraphFile puts all entities and relationships in one file so graph
// records load before the mentions that reference them.
func writeGraphFile(entities, relationships []record) error {
	path := filepath.Join(*outputDir, "00-graph.jsonl")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, e := range entities {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	for _, r := range relationships {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return w.Flush()
}

// writeCorpusFile emits count documents with their chunks and mentions.
func writeCorpusFile(rng *rand.Rand, fileIndex, firstDoc, count int, entities []record) (chunks, mentions, embeddings int, err error) {
	path := filepath.Join(*outputDir, fmt.Sprintf("corpus-%02d.jsonl", fileIndex+1))
	file, err := os.Create(path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)

	for d := firstDoc; d < firstDoc+count; d++ {
		topic := randomWord(rng, topics)
		docID := fmt.Sprintf("doc-%d", d)
		doc := record{
			Type:     "document",
			ID:       docID,
			Path:     fmt.Sprintf("guides/%s-%d.md", topic, d),
			Title:    fmt.Sprintf("%s guide %d", topic, d),
			Language: "en",
		}
		if err := enc.Encode(doc); err != nil {
			return chunks, mentions, embeddings, err
		}

		for p := 0; p < *chunksPer; p++ {
			chunkID := fmt.Sprintf("%s-c%d", docID, p)
			text, entityIDs := generateChunkText(rng, entities)
			chunk := record{
				Type:       "chunk",
				ID:         chunkID,
				DocumentID: docID,
				Text:       text,
				Language:   "en",
				Position:   p,
			}
			if err := enc.Encode(chunk); err != nil {
				return chunks, mentions, embeddings, err
			}
			chunks++

			for _, entityID := range entityIDs {
				mention := record{
					Type:       "mention",
					ChunkID:    chunkID,
					EntityID:   entityID,
					Confidence: 0.6 + rng.Float64()*0.4,
				}
				if err := enc.Encode(mention); err != nil {
					return chunks, mentions, embeddings, err
				}
				mentions++
			}

			if *embedDims > 0 {
				if err := enc.Encode(generateEmbedding(rng, chunkID)); err != nil {
					return chunks, mentions, embeddings, err
				}
				embeddings++
			}
		}
	}
	return chunks, mentions, embeddings, w.Flush()
}

// generateChunkText builds three to five template sentences and weaves in
// up to two entity names, returning the referenced entity IDs for mentions.
func generateChunkText(rng *rand.Rand, entities []record) (string, []string) {
	sentences := 3 + rng.Intn(3)
	text := ""
	for s := 0; s < sentences; s++ {
		if s > 0 {
			text += " "
		}
		text += fmt.Sprintf("%s %s %s %s.",
			capitalize(randomWord(rng, subjects)),
			randomWord(rng, verbs),
			randomWord(rng, objects),
			randomWord(rng, modifiers))
	}

	var entityIDs []string
	for _, e := range pickEntities(rng, entities, rng.Intn(3)) {
		text += fmt.Sprintf(" The %s %s %s %s.",
			e.Name,
			randomWord(rng, verbs),
			randomWord(rng, objects),
			randomWord(rng, modifiers))
		entityIDs = append(entityIDs, e.ID)
	}
	return text, entityIDs
}

// generateEmbedding emits a fake per-token matrix sized to the text shape
// benchmarks expect.
func generateEmbedding(rng *rand.Rand, chunkID string) record {
	tokens := 8 + rng.Intn(8)
	vectors := make([][]float32, tokens)
	for t := range vectors {
		vec := make([]float32, *embedDims)
		for i := range vec {
			vec[i] = rng.Float32()*2 - 1
		}
		vectors[t] = vec
	}
	return record{
		Type:    "embedding",
		ChunkID: chunkID,
		Model:   "bench-random",
		Vectors: vectors,
	}
}

func pickEntities(rng *rand.Rand, entities []record, n int) []record {
	if n == 0 || len(entities) == 0 {
		return nil
	}
	picked := make([]record, 0, n)
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		e := entities[rng.Intn(len(entities))]
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		picked = append(picked, e)
	}
	return picked
}

func randomWord(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
