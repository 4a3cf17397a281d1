package rag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys stored with every Qdrant point.
const (
	payloadDocumentID = "document_id"
	payloadSequence   = "sequence_index"
	payloadText       = "text"
	payloadCharStart  = "char_start"
	payloadCharEnd    = "char_end"
	payloadSeq        = "seq"
)

// tieSlack is how many hits beyond k a search fetches, so points tied with
// the k-th score can be ranked by insertion order before truncating.
const tieSlack = 16

// pointNamespace scopes the deterministic point UUIDs of this application.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("github.com/54b3r/handbook-rag/chunk"))

// QdrantConfig holds connection parameters for a Qdrant-backed index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name (default: handbook-chunks).
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex is an approximate (HNSW) VectorIndex backed by a Qdrant
// collection. It is a drop-in alternative to FlatIndex for corpora that do
// not fit comfortably in process memory.
//
// The collection is (re)created on the first Insert with the dimensionality
// of that batch, so every QdrantIndex starts from an empty collection.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// collection is the target collection name.
	collection string

	// mu serialises inserts and guards dim and count.
	mu sync.Mutex

	// dim is the dimensionality fixed by the first insert. Zero until then.
	dim int

	// count is the number of points inserted through this index.
	count int
}

// NewQdrantIndex connects to Qdrant and returns an empty index. No
// collection is touched until the first Insert.
func NewQdrantIndex(cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg == nil {
		cfg = &QdrantConfig{}
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "handbook-chunks"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantIndex{client: client, collection: collection}, nil
}

// Client exposes the underlying gRPC client for health probes.
func (q *QdrantIndex) Client() *qdrant.Client {
	return q.client
}

// resetCollection drops any existing collection with the configured name and
// creates it anew with the given dimensionality.
func (q *QdrantIndex) resetCollection(ctx context.Context, dim int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %v: %w", err, ErrProviderUnavailable)
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %v: %w", q.collection, err, ErrProviderUnavailable)
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim), //nolint:gosec // dim is a positive vector length
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %v: %w", q.collection, err, ErrProviderUnavailable)
	}
	return nil
}

// Insert validates the batch dimensionality and upserts every entry as one
// point. The first call creates the collection.
func (q *QdrantIndex) Insert(ctx context.Context, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	dim := q.dim
	if dim == 0 {
		dim = len(entries[0].Vector)
		if dim == 0 {
			return fmt.Errorf("qdrant: zero-length vector: %w", ErrDimensionMismatch)
		}
	}
	for i, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("qdrant: entry %d has dimension %d, want %d: %w",
				i, len(e.Vector), dim, ErrDimensionMismatch)
		}
	}

	if q.dim == 0 {
		if err := q.resetCollection(ctx, dim); err != nil {
			return err
		}
		q.dim = dim
	}

	points := make([]*qdrant.PointStruct, 0, len(entries))
	for i, e := range entries {
		seq := q.count + i
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(e.Chunk, seq).String()),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocumentID: e.Chunk.DocumentID,
				payloadSequence:   int64(e.Chunk.SequenceIndex),
				payloadText:       e.Chunk.Text,
				payloadCharStart:  int64(e.Chunk.CharStart),
				payloadCharEnd:    int64(e.Chunk.CharEnd),
				payloadSeq:        int64(seq),
			}),
		})
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %v: %w", err, ErrProviderUnavailable)
	}

	q.count += len(entries)
	return nil
}

// Search queries the collection for up to k+tieSlack hits and returns the
// best k ranked by score, ties broken by insertion order.
func (q *QdrantIndex) Search(ctx context.Context, query Vector, k int) (RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("qdrant: k must be positive, got %d: %w", k, ErrInvalidInput)
	}

	q.mu.Lock()
	dim, count := q.dim, q.count
	q.mu.Unlock()

	if count == 0 {
		return nil, fmt.Errorf("qdrant: %w", ErrEmptyIndex)
	}
	if len(query) != dim {
		return nil, fmt.Errorf("qdrant: query has dimension %d, want %d: %w", len(query), dim, ErrDimensionMismatch)
	}

	limit := uint64(min(k+tieSlack, count)) //nolint:gosec // both positive
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %v: %w", err, ErrProviderUnavailable)
	}
	return rankHits(points, k), nil
}

// rankHits orders hits by score descending, then by insertion sequence, and
// keeps the first k.
func rankHits(points []*qdrant.ScoredPoint, k int) RetrievalResult {
	type ranked struct {
		hit ScoredChunk
		seq int64
	}
	rows := make([]ranked, 0, len(points))
	for _, p := range points {
		c, seq := chunkFromPayload(p.GetPayload())
		rows = append(rows, ranked{hit: ScoredChunk{Chunk: c, Score: p.GetScore()}, seq: seq})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].hit.Score != rows[j].hit.Score {
			return rows[i].hit.Score > rows[j].hit.Score
		}
		return rows[i].seq < rows[j].seq
	})
	if len(rows) > k {
		rows = rows[:k]
	}

	out := make(RetrievalResult, len(rows))
	for i, r := range rows {
		out[i] = r.hit
	}
	return out
}

// Len reports the number of points inserted through this index.
func (q *QdrantIndex) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// PointID returns the deterministic point UUID for c inserted as the seq-th
// entry of its index. seq keeps chunks of documents that share an ID from
// overwriting each other.
func PointID(c Chunk, seq int) uuid.UUID {
	name := c.DocumentID + "#" + strconv.Itoa(c.SequenceIndex) + "@" + strconv.Itoa(seq)
	return uuid.NewSHA1(pointNamespace, []byte(name))
}

// chunkFromPayload rebuilds a Chunk and its insertion sequence number from a
// point payload.
func chunkFromPayload(p map[string]*qdrant.Value) (Chunk, int64) {
	var c Chunk
	if p == nil {
		return c, 0
	}
	c.DocumentID = p[payloadDocumentID].GetStringValue()
	c.Text = p[payloadText].GetStringValue()
	c.SequenceIndex = int(p[payloadSequence].GetIntegerValue())
	c.CharStart = int(p[payloadCharStart].GetIntegerValue())
	c.CharEnd = int(p[payloadCharEnd].GetIntegerValue())
	return c, p[payloadSeq].GetIntegerValue()
}
