package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"research-companion-go/internal/config"
	"research-companion-go/internal/model"
	"research-companion-go/internal/repository"
	"research-companion-go/pkg/llm"
	"research-companion-go/pkg/log"

	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// defaultQALimit 是问答检索默认召回的文章数。
const defaultQALimit = 3

// defaultRules 是未配置 llm.prompt.rules 时使用的系统提示。
const defaultRules = "You are a helpful assistant that answers questions based on the user's saved articles. " +
	"Use only the provided article excerpts to answer. If the excerpts do not contain the answer, say so honestly."

// defaultNoResultText 在检索不到相关文章时直接作为回答返回。
const defaultNoResultText = "I couldn't find anything relevant in your saved articles to answer that question."

// llmApologyText 在生成模型调用失败时作为回答返回，检索结果仍然可用。
const llmApologyText = "I apologize, but I'm having trouble generating an answer right now. Please try again later."

// QAService 定义了基于文章收藏的问答操作。
type QAService interface {
	// Answer 对问题执行检索-组装-生成全流程并返回完整结果。
	Answer(ctx context.Context, question string, user *model.User, limit int) (*model.QAResult, error)
	// StreamAnswer 与 Answer 流程相同，但通过 websocket 流式下发生成内容。
	StreamAnswer(ctx context.Context, question string, user *model.User, ws *websocket.Conn, shouldStop func() bool) error
	// History 返回用户当前会话的问答记录。
	History(ctx context.Context, userID uint) ([]model.QAMessage, error)
}

type qaService struct {
	searchService SearchService
	llmClient     llm.Client
	articleRepo   repository.ArticleRepository
	historyRepo   repository.QAHistoryRepository
	retrievalCfg  config.RetrievalConfig
	llmCfg        config.LLMConfig
}

// NewQAService 创建一个新的 QAService 实例。
func NewQAService(
	searchService SearchService,
	llmClient llm.Client,
	articleRepo repository.ArticleRepository,
	historyRepo repository.QAHistoryRepository,
	retrievalCfg config.RetrievalConfig,
	llmCfg config.LLMConfig,
) QAService {
	return &qaService{
		searchService: searchService,
		llmClient:     llmClient,
		articleRepo:   articleRepo,
		historyRepo:   historyRepo,
		retrievalCfg:  retrievalCfg,
		llmCfg:        llmCfg,
	}
}

// Answer 协调完整的问答流程。
func (s *qaService) Answer(ctx context.Context, question string, user *model.User, limit int) (*model.QAResult, error) {
	log.Infof("[QAService] 开始问答, question: '%s', user: %d", question, user.ID)

	// 1. 检索并组装上下文
	contextText, sources, err := s.assembleContext(ctx, question, user, limit)
	if err != nil {
		return nil, err
	}
	if contextText == "" {
		noResult := s.llmCfg.Prompt.NoResultText
		if noResult == "" {
			noResult = defaultNoResultText
		}
		return &model.QAResult{Answer: noResult, ContextUsed: 0}, nil
	}

	// 2. 调用 LLM 生成回答。生成失败不是错误：来源仍然有参考价值
	messages := s.composeMessages(contextText, question)
	answer, err := s.llmClient.Chat(ctx, messages, s.buildGenerationParams())
	if err != nil {
		log.Errorf("[QAService] LLM 生成失败: %v", err)
		answer = llmApologyText
	}

	// 3. 保存问答历史。使用后台上下文，请求取消不影响已生成的答案入库
	s.saveHistory(context.Background(), user.ID, question, answer)

	return &model.QAResult{
		Answer:      answer,
		Sources:     sources,
		ContextUsed: len(sources),
	}, nil
}

// StreamAnswer 以流式方式执行问答。
func (s *qaService) StreamAnswer(ctx context.Context, question string, user *model.User, ws *websocket.Conn, shouldStop func() bool) error {
	contextText, _, err := s.assembleContext(ctx, question, user, defaultQALimit)
	if err != nil {
		return err
	}
	if contextText == "" {
		noResult := s.llmCfg.Prompt.NoResultText
		if noResult == "" {
			noResult = defaultNoResultText
		}
		payload, _ := json.Marshal(map[string]string{"chunk": noResult})
		_ = ws.WriteMessage(websocket.TextMessage, payload)
		sendCompletion(ws)
		return nil
	}

	messages := s.composeMessages(contextText, question)

	// 拦截 websocket writer 以捕获完整答案，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}
	if err := s.llmClient.StreamChatMessages(ctx, messages, s.buildGenerationParams(), interceptor); err != nil {
		return err
	}

	sendCompletion(ws)
	if fullAnswer := answerBuilder.String(); len(fullAnswer) > 0 {
		s.saveHistory(context.Background(), user.ID, question, fullAnswer)
	}
	return nil
}

// History 返回用户当前会话的全部问答消息。
func (s *qaService) History(ctx context.Context, userID uint) ([]model.QAMessage, error) {
	sessionID, err := s.historyRepo.GetOrCreateSessionID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.historyRepo.GetHistory(ctx, sessionID)
}

// assembleContext 检索相关文章并拼装引用上下文。
// 返回空串表示没有通过相关性门槛的文章。
func (s *qaService) assembleContext(ctx context.Context, question string, user *model.User, limit int) (string, []model.SourceRef, error) {
	if limit <= 0 {
		limit = defaultQALimit
	}
	hits, err := s.searchService.Retrieve(ctx, question, user, limit)
	if err != nil {
		return "", nil, fmt.Errorf("failed to retrieve context: %w", err)
	}
	if len(hits) == 0 {
		log.Infof("[QAService] 未检索到任何分块, user: %d", user.ID)
		return "", nil, nil
	}

	// 结果按相似度降序，首条即本轮最高相似度
	threshold := s.searchService.AdaptiveThreshold(hits[0].Similarity)
	log.Infof("[QAService] 相关性门槛: %.4f (maxSim=%.4f)", threshold, hits[0].Similarity)

	var parts []string
	var sources []model.SourceRef
	for _, hit := range hits {
		// 严格大于：恰好等于门槛的命中视为噪声
		if hit.Similarity <= threshold {
			continue
		}
		article, err := s.articleRepo.FindByID(hit.ArticleID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Warnf("[QAService] 查询文章失败, ArticleID: %d, Error: %v", hit.ArticleID, err)
			}
			continue
		}
		articleContext := s.searchService.ArticleContext(ctx, hit.ArticleID, question, s.retrievalCfg.MaxContextChunks)
		if articleContext == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("From '%s': %s", article.Title, articleContext))
		sources = append(sources, model.SourceRef{
			Title:           article.Title,
			URL:             article.URL,
			SimilarityScore: hit.Similarity,
		})
	}
	if len(parts) == 0 {
		log.Infof("[QAService] 没有命中通过相关性门槛, user: %d", user.ID)
		return "", nil, nil
	}
	return strings.Join(parts, "\n\n"), sources, nil
}

func (s *qaService) composeMessages(contextText, question string) []llm.Message {
	rules := s.llmCfg.Prompt.Rules
	if rules == "" {
		rules = defaultRules
	}
	systemMsg := rules + "\n\nArticle excerpts:\n" + contextText
	return []llm.Message{
		{Role: "system", Content: systemMsg},
		{Role: "user", Content: question},
	}
}

// saveHistory 把一轮问答追加到 Redis 会话。失败只记录日志。
func (s *qaService) saveHistory(ctx context.Context, userID uint, question, answer string) {
	sessionID, err := s.historyRepo.GetOrCreateSessionID(ctx, userID)
	if err != nil {
		log.Errorf("[QAService] 获取问答会话失败: %v", err)
		return
	}
	history, err := s.historyRepo.GetHistory(ctx, sessionID)
	if err != nil {
		log.Errorf("[QAService] 读取问答历史失败: %v", err)
		return
	}
	now := time.Now()
	history = append(history,
		model.QAMessage{Role: "user", Content: question, Timestamp: now},
		model.QAMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	if err := s.historyRepo.UpdateHistory(ctx, sessionID, history); err != nil {
		log.Errorf("[QAService] 保存问答历史失败: %v", err)
	}
}

func (s *qaService) buildGenerationParams() *llm.GenerationParams {
	var gp llm.GenerationParams
	if s.llmCfg.Generation.Temperature != 0 {
		t := s.llmCfg.Generation.Temperature
		gp.Temperature = &t
	}
	if s.llmCfg.Generation.TopP != 0 {
		p := s.llmCfg.Generation.TopP
		gp.TopP = &p
	}
	if s.llmCfg.Generation.MaxTokens != 0 {
		m := s.llmCfg.Generation.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn       *websocket.Conn
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
