package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"go.uber.org/zap"
)

// ChromaIndex stores chunks in a Chroma collection. Scores are 1 - distance.
type ChromaIndex struct {
	collection chromago.Collection
	logger     *zap.Logger
}

func NewChromaIndex(collection chromago.Collection, logger *zap.Logger) *ChromaIndex {
	return &ChromaIndex{collection: collection, logger: logger.Named("chroma")}
}

// OpenChromaCollection connects to the Chroma server and gets or creates the named collection.
func OpenChromaCollection(ctx context.Context, baseURL, name string) (chromago.Client, chromago.Collection, error) {
	client, err := chromago.NewHTTPClient(chromago.WithBaseURL(baseURL))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chroma client: %w", err)
	}
	collection, err := client.GetOrCreateCollection(
		ctx,
		name,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("description", "Pointer memory"),
				chromago.NewStringAttribute("created_by", "pointer"),
			),
		),
	)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to get or create collection %q: %w", name, err)
	}
	return client, collection, nil
}

func (c *ChromaIndex) Upsert(ctx context.Context, chunks []TextChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ids := make([]chromago.DocumentID, len(chunks))
	texts := make([]string, len(chunks))
	embs := make([]embeddings.Embedding, len(chunks))
	metas := make([]chromago.DocumentMetadata, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chromago.DocumentID(chunk.ID)
		texts[i] = chunk.Text
		embs[i] = embeddings.NewEmbeddingFromFloat32(chunk.Embedding)
		metas[i] = toChromaMetadata(chunk.Metadata)
	}

	err := c.collection.Add(ctx,
		chromago.WithIDs(ids...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(embs...),
		chromago.WithMetadatas(metas...),
	)
	if err != nil {
		return fmt.Errorf("failed to add records to chromadb: %w", err)
	}
	return nil
}

func (c *ChromaIndex) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	// Older Chroma servers reject n_results above the collection size.
	count, err := c.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 || topK <= 0 {
		return []Match{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := c.collection.Query(
		ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(topK),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chromadb: %w", err)
	}

	idGroups := results.GetIDGroups()
	documentGroups := results.GetDocumentsGroups()
	metadataGroups := results.GetMetadatasGroups()
	distanceGroups := results.GetDistancesGroups()
	if len(idGroups) == 0 {
		return []Match{}, nil
	}

	matches := make([]Match, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		m := Match{ID: string(id), Metadata: map[string]interface{}{}}
		if len(documentGroups) > 0 && i < len(documentGroups[0]) && documentGroups[0][i] != nil {
			m.Text = documentGroups[0][i].ContentString()
		}
		if len(metadataGroups) > 0 && i < len(metadataGroups[0]) && metadataGroups[0][i] != nil {
			m.Metadata = c.fromChromaMetadata(string(id), metadataGroups[0][i])
		}
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			m.Score = 1 - float64(distanceGroups[0][i])
		}
		matches = append(matches, m)
	}
	return rankMatches(matches, topK), nil
}

// Clear deletes every chunk the memory pipeline wrote; they all carry source=memory.
func (c *ChromaIndex) Clear(ctx context.Context) error {
	where := chromago.EqString(MetaSource, SourceMemory)
	if err := c.collection.Delete(ctx, chromago.WithWhereDelete(where)); err != nil {
		return fmt.Errorf("failed to clear chromadb collection: %w", err)
	}
	return nil
}

func (c *ChromaIndex) Count(ctx context.Context) (int, error) {
	count, err := c.collection.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count items in collection: %w", err)
	}
	return int(count), nil
}

// toChromaMetadata maps free-form values onto Chroma's typed attributes. Chroma metadata is flat,
// so only nested values (maps, slices) are stored as their JSON text.
func toChromaMetadata(meta map[string]interface{}) chromago.DocumentMetadata {
	attrs := make([]*chromago.MetaAttribute, 0, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, chromago.NewStringAttribute(k, val))
		case bool:
			attrs = append(attrs, chromago.NewBoolAttribute(k, val))
		case int:
			attrs = append(attrs, chromago.NewIntAttribute(k, int64(val)))
		case int64:
			attrs = append(attrs, chromago.NewIntAttribute(k, val))
		case float32:
			attrs = append(attrs, numberAttribute(k, float64(val)))
		case float64:
			attrs = append(attrs, numberAttribute(k, val))
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			attrs = append(attrs, chromago.NewStringAttribute(k, string(b)))
		}
	}
	return chromago.NewDocumentMetadata(attrs...)
}

// numberAttribute keeps whole JSON numbers as ints so chunk indexes stay filterable.
func numberAttribute(key string, val float64) *chromago.MetaAttribute {
	if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
		return chromago.NewIntAttribute(key, int64(val))
	}
	return chromago.NewFloatAttribute(key, val)
}

// DocumentMetadata has no public accessor for its values, so it goes through JSON.
func (c *ChromaIndex) fromChromaMetadata(id string, meta chromago.DocumentMetadata) map[string]interface{} {
	metadataMap := map[string]interface{}{}
	jsonBytes, err := json.Marshal(meta)
	if err != nil {
		c.logger.Warn("could not marshal metadata", zap.String("id", id), zap.Error(err))
		return metadataMap
	}
	if err := json.Unmarshal(jsonBytes, &metadataMap); err != nil {
		c.logger.Warn("could not unmarshal metadata", zap.String("id", id), zap.Error(err))
		return map[string]interface{}{}
	}
	return metadataMap
}
