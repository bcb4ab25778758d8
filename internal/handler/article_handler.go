package handler

import (
	"errors"
	"net/http"
	"strconv"

	"research-companion-go/internal/model"
	"research-companion-go/internal/service"
	"research-companion-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ArticleHandler 负责处理文章收藏相关的 API 请求。
type ArticleHandler struct {
	articleService service.ArticleService
}

// NewArticleHandler 创建一个新的 ArticleHandler 实例。
func NewArticleHandler(articleService service.ArticleService) *ArticleHandler {
	return &ArticleHandler{articleService: articleService}
}

// CreateArticleRequest 定义了收藏文章 API 的请求体结构。
type CreateArticleRequest struct {
	URL  string `json:"url" binding:"required,url"`
	Tags string `json:"tags"`
}

// Create 处理收藏文章的请求：抓取、入库并异步触发索引。
func (h *ArticleHandler) Create(c *gin.Context) {
	var req CreateArticleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("CreateArticle: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：url 不能为空且必须是合法链接",
		})
		return
	}

	user := currentUser(c)
	if user == nil {
		return
	}

	article, err := h.articleService.Create(c.Request.Context(), user.ID, req.URL, req.Tags)
	if err != nil {
		log.Errorf("CreateArticle: failed for url '%s', error: %v", req.URL, err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    http.StatusUnprocessableEntity,
			"message": "无法抓取或保存该链接的内容",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Article saved successfully",
		"data": gin.H{
			"id":    article.ID,
			"title": article.Title,
			"url":   article.URL,
		},
	})
}

// List 返回当前用户的全部文章摘要。
func (h *ArticleHandler) List(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	summaries, err := h.articleService.List(user.ID)
	if err != nil {
		log.Errorf("ListArticles: failed for user %d, error: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取文章列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": summaries})
}

// Get 返回一篇文章的完整内容。
func (h *ArticleHandler) Get(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	articleID, ok := articleIDParam(c)
	if !ok {
		return
	}

	article, err := h.articleService.Get(articleID, user.ID)
	if err != nil {
		if errors.Is(err, service.ErrArticleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文章不存在"})
			return
		}
		log.Errorf("GetArticle: failed for article %d, error: %v", articleID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取文章失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": article})
}

// Delete 删除一篇文章及其索引数据。
func (h *ArticleHandler) Delete(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	articleID, ok := articleIDParam(c)
	if !ok {
		return
	}

	if err := h.articleService.Delete(c.Request.Context(), articleID, user.ID); err != nil {
		if errors.Is(err, service.ErrArticleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文章不存在"})
			return
		}
		log.Errorf("DeleteArticle: failed for article %d, error: %v", articleID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除文章失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "Article deleted successfully"})
}

// Reindex 重新触发一篇文章的索引任务。
func (h *ArticleHandler) Reindex(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	articleID, ok := articleIDParam(c)
	if !ok {
		return
	}

	if err := h.articleService.Reindex(articleID, user.ID); err != nil {
		if errors.Is(err, service.ErrArticleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文章不存在"})
			return
		}
		log.Errorf("ReindexArticle: failed for article %d, error: %v", articleID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "重建索引失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "Reindex task enqueued"})
}

// currentUser 取出 AuthMiddleware 注入的用户对象，缺失时直接响应 500。
func currentUser(c *gin.Context) *model.User {
	userValue, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return nil
	}
	user, ok := userValue.(*model.User)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return nil
	}
	return user
}

// articleIDParam 解析路径中的文章 ID。
func articleIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的文章 ID"})
		return 0, false
	}
	return uint(id), true
}
