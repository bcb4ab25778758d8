package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"research-companion-go/internal/service"
	"research-companion-go/pkg/log"
	"research-companion-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// QAHandler 负责处理问答相关的 API 请求，包括 WebSocket 流式问答。
type QAHandler struct {
	qaService     service.QAService
	userService   service.UserService
	jwtManager    *token.JWTManager
	stopToken     string
	stopTokenLock sync.Mutex
	// 每连接停止标志
	stopFlags sync.Map // key: session pointer string, value: bool
}

// NewQAHandler 创建一个新的 QAHandler 实例。
func NewQAHandler(qaService service.QAService, userService service.UserService, jwtManager *token.JWTManager) *QAHandler {
	return &QAHandler{
		qaService:   qaService,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// AskRequest 定义了问答 API 的请求体结构。
type AskRequest struct {
	Question string `json:"question" binding:"required"`
	Limit    int    `json:"limit"`
}

// Ask 处理一次完整的问答请求（非流式）。
func (h *QAHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Ask: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：question 不能为空",
		})
		return
	}

	user := currentUser(c)
	if user == nil {
		return
	}

	result, err := h.qaService.Answer(c.Request.Context(), req.Question, user, req.Limit)
	if err != nil {
		log.Errorf("Ask: failed for question '%s', error: %v", req.Question, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "问答服务暂时不可用，请稍后重试"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// History 返回当前用户会话的问答历史。
func (h *QAHandler) History(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	messages, err := h.qaService.History(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("History: failed for user %d, error: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取问答历史失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}

// GetWebsocketStopToken 返回一个可用于停止流的令牌。
func (h *QAHandler) GetWebsocketStopToken(c *gin.Context) {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	// 在多实例部署中该令牌应存放在 Redis；单实例下轮换的内存令牌已够用
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"cmdToken": h.stopToken}})
}

// Stream 处理一个传入的 WebSocket 连接，每条文本消息视为一个问题。
func (h *QAHandler) Stream(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetProfile(claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", user.Email)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}
		log.Infof("收到 WebSocket 消息: %s", string(message))

		// 停止指令: {"type":"stop","_internal_cmd_token":"..."}
		if h.handleStopCommand(conn, message) {
			continue
		}

		shouldStop := func() bool {
			v, ok := h.stopFlags.Load(sessionKey(conn))
			return ok && v.(bool)
		}
		// 清除旧标志
		h.stopFlags.Delete(sessionKey(conn))

		if err := h.qaService.StreamAnswer(c.Request.Context(), string(message), user, conn, shouldStop); err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			errResp := map[string]string{"error": "问答服务暂时不可用，请稍后重试"}
			b, _ := json.Marshal(errResp)
			_ = conn.WriteMessage(websocket.TextMessage, b)
			// 错误时也发送 completion 通知，让前端收尾
			notif := map[string]interface{}{
				"type":      "completion",
				"status":    "finished",
				"timestamp": time.Now().UnixMilli(),
			}
			cb, _ := json.Marshal(notif)
			_ = conn.WriteMessage(websocket.TextMessage, cb)
			break
		}
	}
}

// handleStopCommand 识别并处理停止指令，返回 true 表示该消息已被消费。
func (h *QAHandler) handleStopCommand(conn *websocket.Conn, message []byte) bool {
	if len(message) == 0 || message[0] != '{' {
		return false
	}
	var ctrl map[string]interface{}
	if err := json.Unmarshal(message, &ctrl); err != nil {
		return false
	}
	t, ok := ctrl["type"].(string)
	if !ok || t != "stop" {
		return false
	}
	tok, ok := ctrl["_internal_cmd_token"].(string)
	if !ok {
		return false
	}

	h.stopTokenLock.Lock()
	valid := tok == h.stopToken
	h.stopTokenLock.Unlock()
	if !valid {
		return false
	}

	h.stopFlags.Store(sessionKey(conn), true)
	resp := map[string]interface{}{
		"type":      "stop",
		"message":   "响应已停止",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(resp)
	_ = conn.WriteMessage(websocket.TextMessage, b)
	return true
}

func sessionKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}
