package server

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket 网关：浏览器客户端走 /ws 接入，升级后适配成 frameConn，
// 往后与原生 TCP 连接走完全相同的信封协议和读循环

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// wsFrameConn 一条 WebSocket 消息即一帧
type wsFrameConn struct {
	ws *websocket.Conn
}

func (w *wsFrameConn) ReadFrame() ([]byte, error) {
	_, payload, err := w.ws.ReadMessage()
	return payload, err
}

func (w *wsFrameConn) WriteFrame(b []byte) error {
	_ = w.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return w.ws.WriteMessage(websocket.TextMessage, b)
}

func (w *wsFrameConn) Close() error         { return w.ws.Close() }
func (w *wsFrameConn) RemoteAddr() net.Addr { return w.ws.RemoteAddr() }

// HandleWS WebSocket 接入
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !s.Running() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Infof("ws upgrade error: %v", err)
		return
	}
	ws.SetReadLimit(1 << 20) // 1MB

	c := s.addConn(&wsFrameConn{ws: ws})
	Log.Infof("conn %d: websocket accepted from %v", c.id, ws.RemoteAddr())
	go newHandler(s, c).Run()
}
