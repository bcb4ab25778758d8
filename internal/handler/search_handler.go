package handler

import (
	"net/http"
	"strconv"
	"strings"

	"research-companion-go/internal/service"
	"research-companion-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// defaultSearchLimit 是未指定 limit 参数时的结果条数。
const defaultSearchLimit = 5

// maxSearchLimit 防止过大的 limit 放大过采样查询。
const maxSearchLimit = 50

// SearchHandler 负责处理语义搜索相关的 API 请求。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 处理语义搜索请求。GET /search?q=...&limit=...
func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "查询参数 q 不能为空"})
		return
	}

	limit := defaultSearchLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的 limit 参数"})
			return
		}
		if parsed > maxSearchLimit {
			parsed = maxSearchLimit
		}
		limit = parsed
	}

	user := currentUser(c)
	if user == nil {
		return
	}

	results, err := h.searchService.Search(c.Request.Context(), query, user, limit)
	if err != nil {
		log.Errorf("Search: failed for query '%s', error: %v", query, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "搜索失败，请稍后重试"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"query":   query,
			"results": results,
			"total":   len(results),
		},
	})
}
