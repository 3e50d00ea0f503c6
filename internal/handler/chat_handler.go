package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pai-context-go/internal/service"
	"pai-context-go/pkg/log"
	"pai-context-go/pkg/token"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理 WebSocket 问答连接，复用 HTTP 流式接口的同一套转发逻辑。
type ChatHandler struct {
	completionService service.CompletionService
	jwtManager        *token.JWTManager
	separator         []byte
}

// NewChatHandler 创建一个新的 ChatHandler。separator 与流式头帧中的分隔符一致。
func NewChatHandler(completionService service.CompletionService, jwtManager *token.JWTManager, separator string) *ChatHandler {
	return &ChatHandler{
		completionService: completionService,
		jwtManager:        jwtManager,
		separator:         []byte(separator),
	}
}

// chatMessage 是客户端发来的消息：{"type":"stop"} 或一次问答请求。
type chatMessage struct {
	Type string `json:"type"`
	CompletionRequest
}

// wsConn 串行化同一连接上的写操作。
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// wsFrameWriter 把头帧转成引用列表消息，把文本块转成 {"chunk": ...}。
type wsFrameWriter struct {
	conn      *wsConn
	separator []byte
}

func (w *wsFrameWriter) WriteHeader(header []byte) error {
	refs := bytes.TrimSuffix(header, w.separator)
	return w.conn.writeJSON(gin.H{"type": "references", "references": json.RawMessage(refs)})
}

func (w *wsFrameWriter) WriteChunk(chunk string) error {
	return w.conn.writeJSON(gin.H{"chunk": chunk})
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[ChatHandler] WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()
	ws := &wsConn{conn: conn}

	log.Infof("[ChatHandler] WebSocket 连接已建立, project: %s", claims.ProjectID)

	var (
		mu     sync.Mutex
		cancel context.CancelFunc = func() {}
		wg     sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		cancel()
		mu.Unlock()
		wg.Wait()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Infof("[ChatHandler] WebSocket 连接关闭, project: %s, reason: %v", claims.ProjectID, err)
			return
		}

		var msg chatMessage
		if len(message) > 0 && message[0] == '{' {
			if err := json.Unmarshal(message, &msg); err != nil {
				_ = ws.writeJSON(gin.H{"error": "无效的消息格式"})
				continue
			}
		} else {
			msg.Prompt = string(message)
		}

		if msg.Type == "stop" {
			mu.Lock()
			cancel()
			mu.Unlock()
			_ = ws.writeJSON(notice("stop", "响应已停止"))
			continue
		}

		// 同一连接上一次只处理一个问题，新问题会中断上一个
		mu.Lock()
		cancel()
		mu.Unlock()
		wg.Wait()

		ctx, cancelFn := context.WithCancel(c.Request.Context())
		mu.Lock()
		cancel = cancelFn
		mu.Unlock()

		msg.Stream = true
		req := msg.toService(claims.ProjectID, "")
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancelFn()
			h.relay(ctx, ws, req)
		}()
	}
}

func (h *ChatHandler) relay(ctx context.Context, ws *wsConn, req service.CompletionRequest) {
	w := &wsFrameWriter{conn: ws, separator: h.separator}
	if _, err := h.completionService.Complete(ctx, req, w); err != nil && ctx.Err() == nil {
		log.Errorf("[ChatHandler] 处理流式响应失败, project: %s, error: %v", req.ProjectID, err)
		_, message := completionErrorStatus(err)
		_ = ws.writeJSON(gin.H{"error": message})
	}
	// 出错时也发送 completion 通知
	_ = ws.writeJSON(notice("completion", "响应已完成"))
}

func notice(kind, message string) gin.H {
	now := time.Now()
	return gin.H{
		"type":      kind,
		"status":    "finished",
		"message":   message,
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	}
}
