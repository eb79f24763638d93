package processor

import (
	"context"
	"sort"
	"sync"
	"time"

	"ai-report-go/internal/config"
	"ai-report-go/internal/logger"
	"ai-report-go/internal/storage"
	"ai-report-go/internal/tracing"
	"ai-report-go/internal/types"
	"ai-report-go/pkg/utils"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 检索器缺省参数
const (
	defaultVectorWeight       = 0.7
	defaultLexicalWeight      = 0.3
	defaultRetrieveLimit      = 10
	defaultSparseFloor        = 0.15
	defaultDenseFloor         = 0.30
	defaultSparseCorpusChunks = 50
	defaultQueryTimeout       = 5 * time.Second
	defaultEmbedTimeout       = 10 * time.Second

	// 候选集放大倍数：两路各取limit的数倍再合并打分，
	// 避免单路截断把另一路的高分块挤掉
	candidateMultiplier = 3
)

// 检索结果为空时的原因说明，写入RetrievalResult.Reason
const (
	ReasonCorpusEmpty = "案件语料中没有可检索的分块"
	ReasonBelowFloor  = "没有分块达到相似度下限(阈值已放宽一次)"
)

// HybridRetriever 向量与词法混合检索器。
// 组合得分 = VectorWeight·归一化向量分 + LexicalWeight·归一化词法分；
// 未向量化的分块只参与词法一路，向量库不可用时整体退化为纯词法检索
type HybridRetriever struct {
	lexical  LexicalSearcher
	vectors  VectorSearcher
	embedder TextEmbedder
	cache    QueryVectorCache
	cfg      config.RetrieverConfig

	queryTimeout time.Duration
	embedTimeout time.Duration
}

// NewHybridRetriever 创建混合检索器。vectors、embedder、cache允许为nil，
// 此时对应能力缺失，检索自动退化为纯词法
func NewHybridRetriever(lexical LexicalSearcher, vectors VectorSearcher, embedder TextEmbedder, cache QueryVectorCache, cfg config.RetrieverConfig) *HybridRetriever {
	if cfg.VectorWeight <= 0 {
		cfg.VectorWeight = defaultVectorWeight
	}
	if cfg.LexicalWeight <= 0 {
		cfg.LexicalWeight = defaultLexicalWeight
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultRetrieveLimit
	}
	if cfg.SparseFloor <= 0 {
		cfg.SparseFloor = defaultSparseFloor
	}
	if cfg.DenseFloor <= 0 {
		cfg.DenseFloor = defaultDenseFloor
	}
	if cfg.SparseCorpusChunks <= 0 {
		cfg.SparseCorpusChunks = defaultSparseCorpusChunks
	}

	return &HybridRetriever{
		lexical:      lexical,
		vectors:      vectors,
		embedder:     embedder,
		cache:        cache,
		cfg:          cfg,
		queryTimeout: config.GetDuration(cfg.QueryTimeout, defaultQueryTimeout),
		embedTimeout: config.GetDuration(cfg.EmbedTimeout, defaultEmbedTimeout),
	}
}

// candidate 合并打分前的候选分块
type candidate struct {
	chunkDBID    uint64
	documentUUID string
	chunkIndex   int
	content      string
	vectorScore  float64
	lexicalScore float64
	hasEmbedding bool
	contentFull  bool // 词法路返回全文，向量路payload截断过
}

// Retrieve 对案件语料做混合检索。
// 没有达标结果不是错误：返回Empty=true并附带原因；
// 只有词法与向量两路同时不可用才返回ExternalStoreUnavailable
func (r *HybridRetriever) Retrieve(ctx context.Context, caseUUID, query string, limit int) (*types.RetrievalResult, error) {
	ctx, span := tracer.Start(ctx, "HybridRetriever.Retrieve",
		trace.WithAttributes(
			attribute.String("case_uuid", caseUUID),
			attribute.String("query", tracing.SafePrompt(query)),
			attribute.Int("limit", limit),
		))
	defer span.End()

	log := logger.FromContext(ctx)

	if r.lexical == nil {
		return nil, ErrStorageNotInit
	}
	if limit <= 0 {
		limit = r.cfg.DefaultLimit
	}

	result := &types.RetrievalResult{
		Query:    query,
		CaseUUID: caseUUID,
	}

	// 1. 按语料规模选择相似度下限：稀疏语料放宽标准，
	// 材料少的案件里次优的块也值得进入上下文
	floor := r.cfg.DenseFloor
	corpusSize, err := r.lexical.CountCurrentChunksByCase(ctx, caseUUID)
	if err != nil {
		log.Warn().Err(err).Msg("统计案件分块数失败，按稠密语料下限处理")
	} else if corpusSize < int64(r.cfg.SparseCorpusChunks) {
		floor = r.cfg.SparseFloor
	}
	span.SetAttributes(
		attribute.Int64("corpus_chunks", corpusSize),
		attribute.Float64("floor", floor),
	)

	// 2. 两路并发检索。向量一路(查询向量化+近邻检索)任何失败都只降级不阻断
	var (
		vectorHits []storage.SearchResult
		vectorOK   bool
		wg         sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		vectorHits, vectorOK = r.searchVector(ctx, caseUUID, query, limit*candidateMultiplier)
	}()

	lexicalHits, lexErr := r.lexical.SearchChunksLexical(ctx, caseUUID, query, limit*candidateMultiplier)
	wg.Wait()
	if lexErr != nil {
		if !vectorOK {
			span.RecordError(lexErr)
			span.SetStatus(codes.Error, "词法与向量检索均不可用")
			return nil, NewExternalStoreError("retrieve", lexErr.Error())
		}
		log.Warn().Err(lexErr).Msg("词法检索失败，仅使用向量检索结果")
	}

	// 3. 合并候选
	candidates := r.mergeCandidates(vectorHits, lexicalHits)
	span.SetAttributes(
		attribute.Int("vector_hits", len(vectorHits)),
		attribute.Int("lexical_hits", len(lexicalHits)),
		attribute.Int("candidates", len(candidates)),
		attribute.Bool("vector_degraded", !vectorOK),
	)

	if len(candidates) == 0 {
		result.Empty = true
		result.Reason = ReasonCorpusEmpty
		result.FloorUsed = floor
		result.Chunks = []types.ScoredChunk{}
		span.AddEvent("retrieval_empty", trace.WithAttributes(attribute.String("reason", result.Reason)))
		span.SetStatus(codes.Ok, "")
		return result, nil
	}

	// 4. 两路得分各自按最大值归一化后加权合成
	scored := r.scoreCandidates(candidates)

	// 5. 下限过滤，一次性放宽(减半)后仍为空则明确返回空结果
	kept := filterByFloor(scored, floor)
	if len(kept) == 0 {
		floor = floor / 2
		result.FloorRelaxed = true
		kept = filterByFloor(scored, floor)
		span.AddEvent("floor_relaxed", trace.WithAttributes(attribute.Float64("floor", floor)))
	}
	result.FloorUsed = floor

	if len(kept) == 0 {
		result.Empty = true
		result.Reason = ReasonBelowFloor
		result.Chunks = []types.ScoredChunk{}
		span.AddEvent("retrieval_empty", trace.WithAttributes(attribute.String("reason", result.Reason)))
		span.SetStatus(codes.Ok, "")
		return result, nil
	}

	// 6. 组合得分降序，平分时向量得分高者优先，再平则按主键保证确定性
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].CombinedScore != kept[j].CombinedScore {
			return kept[i].CombinedScore > kept[j].CombinedScore
		}
		if kept[i].VectorScore != kept[j].VectorScore {
			return kept[i].VectorScore > kept[j].VectorScore
		}
		return kept[i].ChunkID < kept[j].ChunkID
	})

	if len(kept) > limit {
		kept = kept[:limit]
	}

	// 7. 仅向量路命中的块payload内容被截断过，回表取全文
	r.refillTruncatedContent(ctx, kept, candidates)

	result.Chunks = kept
	span.SetAttributes(attribute.Int("returned_chunks", len(kept)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// searchVector 执行向量一路检索，返回命中结果与该路是否可用
func (r *HybridRetriever) searchVector(ctx context.Context, caseUUID, query string, limit int) ([]storage.SearchResult, bool) {
	log := logger.FromContext(ctx)

	if r.vectors == nil || r.embedder == nil {
		return nil, false
	}

	queryVector, err := r.resolveQueryVector(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("查询向量化失败，退化为纯词法检索")
		return nil, false
	}

	qctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()
	hits, err := r.vectors.SearchSimilarChunks(qctx, queryVector, limit, storage.BuildCaseFilter(caseUUID))
	if err != nil {
		log.Warn().Err(err).Msg("向量检索失败，退化为纯词法检索")
		return nil, false
	}
	return hits, true
}

// resolveQueryVector 取查询向量：优先读缓存，模型版本不一致时重新计算
func (r *HybridRetriever) resolveQueryVector(ctx context.Context, query string) ([]float64, error) {
	queryHash := utils.CalculateMD5([]byte(query))
	modelVersion := r.embedder.ModelVersion()

	if r.cache != nil {
		vec, cachedVersion, err := r.cache.GetQueryVector(ctx, queryHash)
		if err == nil && len(vec) > 0 && cachedVersion == modelVersion {
			return vec, nil
		}
	}

	ectx, cancel := context.WithTimeout(ctx, r.embedTimeout)
	defer cancel()
	vectors, err := r.embedder.EmbedStrings(ectx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, ErrEmbedderNotInit
	}

	if r.cache != nil {
		if err := r.cache.SetQueryVector(ctx, queryHash, vectors[0], modelVersion); err != nil {
			logger.FromContext(ctx).Warn().Err(err).Msg("写入查询向量缓存失败")
		}
	}
	return vectors[0], nil
}

// mergeCandidates 合并两路命中，按分块主键去重。
// 词法路带全文与向量化状态；向量路命中的必然已向量化
func (r *HybridRetriever) mergeCandidates(vectorHits []storage.SearchResult, lexicalHits []storage.ChunkLexicalHit) map[uint64]*candidate {
	candidates := make(map[uint64]*candidate, len(vectorHits)+len(lexicalHits))

	for _, hit := range lexicalHits {
		candidates[hit.ChunkDBID] = &candidate{
			chunkDBID:    hit.ChunkDBID,
			documentUUID: hit.DocumentUUID,
			chunkIndex:   hit.ChunkIndex,
			content:      hit.Content,
			lexicalScore: hit.Score,
			hasEmbedding: hit.EmbeddingStatus == string(types.EmbeddingStatusEmbedded),
			contentFull:  true,
		}
	}

	for _, hit := range vectorHits {
		chunkDBID, ok := payloadUint64(hit.Payload, "chunk_db_id")
		if !ok {
			continue
		}
		if existing, found := candidates[chunkDBID]; found {
			existing.vectorScore = float64(hit.Score)
			existing.hasEmbedding = true
			continue
		}
		c := &candidate{
			chunkDBID:    chunkDBID,
			vectorScore:  float64(hit.Score),
			hasEmbedding: true,
		}
		if v, ok := hit.Payload["document_uuid"].(string); ok {
			c.documentUUID = v
		}
		if idx, ok := payloadUint64(hit.Payload, "chunk_index"); ok {
			c.chunkIndex = int(idx)
		}
		if v, ok := hit.Payload["content_text"].(string); ok {
			c.content = v
		}
		candidates[chunkDBID] = c
	}

	return candidates
}

// scoreCandidates 把两路原始得分各自按最大值归一化到[0,1]再加权合成
func (r *HybridRetriever) scoreCandidates(candidates map[uint64]*candidate) []types.ScoredChunk {
	var maxVector, maxLexical float64
	for _, c := range candidates {
		if c.vectorScore > maxVector {
			maxVector = c.vectorScore
		}
		if c.lexicalScore > maxLexical {
			maxLexical = c.lexicalScore
		}
	}

	scored := make([]types.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		var normVector, normLexical float64
		if maxVector > 0 {
			normVector = c.vectorScore / maxVector
		}
		if maxLexical > 0 {
			normLexical = c.lexicalScore / maxLexical
		}
		scored = append(scored, types.ScoredChunk{
			ChunkID:       c.chunkDBID,
			DocumentUUID:  c.documentUUID,
			ChunkIndex:    c.chunkIndex,
			Content:       c.content,
			VectorScore:   normVector,
			LexicalScore:  normLexical,
			CombinedScore: r.cfg.VectorWeight*normVector + r.cfg.LexicalWeight*normLexical,
			HasEmbedding:  c.hasEmbedding,
		})
	}
	return scored
}

// refillTruncatedContent 为仅向量路命中的块回表补全内容。
// 回表失败不致命，保留payload里的截断文本
func (r *HybridRetriever) refillTruncatedContent(ctx context.Context, kept []types.ScoredChunk, candidates map[uint64]*candidate) {
	var missing []uint64
	for _, sc := range kept {
		if c, ok := candidates[sc.ChunkID]; ok && !c.contentFull {
			missing = append(missing, sc.ChunkID)
		}
	}
	if len(missing) == 0 {
		return
	}

	chunks, err := r.lexical.GetChunksByDBIDs(ctx, missing)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Ints64("chunk_db_ids", toInt64s(missing)).Msg("回表补全分块内容失败")
		return
	}

	contents := make(map[uint64]string, len(chunks))
	for _, chunk := range chunks {
		contents[chunk.ChunkDBID] = chunk.Content
	}
	for i := range kept {
		if full, ok := contents[kept[i].ChunkID]; ok {
			kept[i].Content = full
		}
	}
}

// filterByFloor 保留组合得分达到下限的块
func filterByFloor(scored []types.ScoredChunk, floor float64) []types.ScoredChunk {
	kept := make([]types.ScoredChunk, 0, len(scored))
	for _, sc := range scored {
		if sc.CombinedScore >= floor {
			kept = append(kept, sc)
		}
	}
	return kept
}

// payloadUint64 从Qdrant payload中取数值字段，JSON解码后数值是float64
func payloadUint64(payload map[string]interface{}, key string) (uint64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return uint64(v), true
	case int:
		return uint64(v), true
	case int64:
		return uint64(v), true
	case uint64:
		return v, true
	}
	return 0, false
}

func toInt64s(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
