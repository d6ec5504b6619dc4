package milvus

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/vector"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
)

const (
	maxTextLength = 8192
	maxIDLength   = 128
)

// Client implements vector.Index on Milvus. The SDK has no native
// upsert for varchar primary keys, so Upsert reads the stored hashes
// first and only rewrites entries whose content actually changed.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		return m.client.LoadCollection(ctx, m.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Patent document chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": fmt.Sprintf("%d", maxIDLength)},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:       "document_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": fmt.Sprintf("%d", maxIDLength)},
			},
			{
				Name:       "section_type",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "32"},
			},
			{
				Name:     "ordinal",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "page_start",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "page_end",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": fmt.Sprintf("%d", maxTextLength)},
			},
			{
				Name:       "content_hash",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     "version",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, _ := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))
	return nil
}

type storedEntry struct {
	contentHash string
	version     int64
}

// Upsert writes chunks so a re-run over identical content is a no-op.
// Entries whose hash differs from the stored one are replaced with a
// bumped version; the mismatch is logged because it means a chunk id
// was reused for different content.
func (m *Client) Upsert(ctx context.Context, chunks []vector.Chunk) (vector.UpsertStats, error) {
	var stats vector.UpsertStats
	if len(chunks) == 0 {
		return stats, nil
	}

	existing, err := m.fetchExisting(ctx, chunks)
	if err != nil {
		return stats, err
	}

	toInsert := make([]vector.Chunk, 0, len(chunks))
	versions := make([]int64, 0, len(chunks))
	replacedIDs := make([]string, 0)

	for _, chunk := range chunks {
		entry, ok := existing[chunk.ID]
		if !ok {
			toInsert = append(toInsert, chunk)
			versions = append(versions, 1)
			stats.Inserted++
			continue
		}
		if entry.contentHash == chunk.ContentHash {
			stats.Unchanged++
			continue
		}
		logger.Warn("Chunk content changed under existing id, replacing",
			zap.String("chunk_id", chunk.ID),
			zap.Int64("old_version", entry.version),
		)
		replacedIDs = append(replacedIDs, chunk.ID)
		toInsert = append(toInsert, chunk)
		versions = append(versions, entry.version+1)
		stats.Replaced++
	}

	if len(replacedIDs) > 0 {
		if err := m.deleteByIDs(ctx, replacedIDs); err != nil {
			return stats, err
		}
	}

	if len(toInsert) == 0 {
		return stats, nil
	}

	chunkIDs := make([]string, len(toInsert))
	embeddings := make([][]float32, len(toInsert))
	documentIDs := make([]string, len(toInsert))
	sectionTypes := make([]string, len(toInsert))
	ordinals := make([]int64, len(toInsert))
	pageStarts := make([]int64, len(toInsert))
	pageEnds := make([]int64, len(toInsert))
	texts := make([]string, len(toInsert))
	hashes := make([]string, len(toInsert))

	for i, chunk := range toInsert {
		chunkIDs[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		documentIDs[i] = chunk.DocumentID
		sectionTypes[i] = chunk.SectionType
		ordinals[i] = int64(chunk.Ordinal)
		pageStarts[i] = int64(chunk.PageStart)
		pageEnds[i] = int64(chunk.PageEnd)
		// The stored text is a bounded search-time copy; the chunk store
		// keeps the authoritative text and the query path reloads it.
		texts[i] = truncate(chunk.Text, maxTextLength)
		hashes[i] = chunk.ContentHash
	}

	_, err = m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnVarChar("section_type", sectionTypes),
		entity.NewColumnInt64("ordinal", ordinals),
		entity.NewColumnInt64("page_start", pageStarts),
		entity.NewColumnInt64("page_end", pageEnds),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("content_hash", hashes),
		entity.NewColumnInt64("version", versions),
	)
	if err != nil {
		return stats, fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return stats, fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks upserted",
		zap.Int("inserted", stats.Inserted),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("replaced", stats.Replaced),
	)
	return stats, nil
}

func (m *Client) fetchExisting(ctx context.Context, chunks []vector.Chunk) (map[string]storedEntry, error) {
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = fmt.Sprintf("%q", chunk.ID)
	}
	expr := fmt.Sprintf("chunk_id in [%s]", strings.Join(ids, ", "))

	rs, err := m.client.Query(ctx, m.collectionName, nil, expr,
		[]string{"chunk_id", "content_hash", "version"})
	if err != nil {
		return nil, fmt.Errorf("failed to query existing chunks: %w", err)
	}

	existing := make(map[string]storedEntry)
	idCol := rs.GetColumn("chunk_id")
	hashCol := rs.GetColumn("content_hash")
	versionCol := rs.GetColumn("version")
	if idCol == nil {
		return existing, nil
	}

	for i := 0; i < idCol.Len(); i++ {
		id, err := idCol.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("read chunk_id: %w", err)
		}
		hash, err := hashCol.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("read content_hash: %w", err)
		}
		version, err := versionCol.GetAsInt64(i)
		if err != nil {
			return nil, fmt.Errorf("read version: %w", err)
		}
		existing[id] = storedEntry{contentHash: hash, version: version}
	}
	return existing, nil
}

// DeleteChunks removes specific entries, used to clear stale ordinals
// after a document shrank on re-index.
func (m *Client) DeleteChunks(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	return m.deleteByIDs(ctx, chunkIDs)
}

func (m *Client) deleteByIDs(ctx context.Context, ids []string) error {
	if err := m.client.DeleteByPks(ctx, m.collectionName, "",
		entity.NewColumnVarChar("chunk_id", ids)); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Search returns the topK nearest chunks ordered by descending score,
// ties broken by ascending chunk id so identical inputs always produce
// identical output.
func (m *Client) Search(ctx context.Context, embedding []float32, topK int) ([]vector.Hit, error) {
	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		[]string{"chunk_id", "document_id", "section_type", "page_start", "page_end", "text", "content_hash", "version"},
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]vector.Hit, 0, topK)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("chunk_id")
		docCol := sr.Fields.GetColumn("document_id")
		sectionCol := sr.Fields.GetColumn("section_type")
		pageStartCol := sr.Fields.GetColumn("page_start")
		pageEndCol := sr.Fields.GetColumn("page_end")
		textCol := sr.Fields.GetColumn("text")
		hashCol := sr.Fields.GetColumn("content_hash")
		versionCol := sr.Fields.GetColumn("version")

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := idCol.GetAsString(i)
			documentID, _ := docCol.GetAsString(i)
			sectionType, _ := sectionCol.GetAsString(i)
			pageStart, _ := pageStartCol.GetAsInt64(i)
			pageEnd, _ := pageEndCol.GetAsInt64(i)
			text, _ := textCol.GetAsString(i)
			hash, _ := hashCol.GetAsString(i)
			version, _ := versionCol.GetAsInt64(i)

			hits = append(hits, vector.Hit{
				ChunkID:     chunkID,
				DocumentID:  documentID,
				SectionType: sectionType,
				PageStart:   int(pageStart),
				PageEnd:     int(pageEnd),
				Text:        text,
				ContentHash: hash,
				Version:     version,
				Score:       float64(sr.Scores[i]),
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	return hits, nil
}

func (m *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf("document_id == %q", documentID)

	rs, err := m.client.Query(ctx, m.collectionName, nil, expr, []string{"chunk_id"})
	if err != nil {
		return fmt.Errorf("failed to query document chunks: %w", err)
	}

	idCol := rs.GetColumn("chunk_id")
	if idCol == nil || idCol.Len() == 0 {
		return nil
	}

	ids := make([]string, 0, idCol.Len())
	for i := 0; i < idCol.Len(); i++ {
		id, err := idCol.GetAsString(i)
		if err != nil {
			return fmt.Errorf("read chunk_id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := m.deleteByIDs(ctx, ids); err != nil {
		return err
	}

	logger.Info("Document chunks deleted from vector index",
		zap.String("document_id", documentID),
		zap.Int("count", len(ids)),
	)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && s[max]&0xC0 == 0x80 {
		max--
	}
	return s[:max]
}
