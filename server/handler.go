package server

import (
	"bytes"
	"fmt"
	"net"
	"strings"
)

// Handler 一条连接的读循环与消息分发；goroutine 独占，连接内消息严格按到达序处理
type Handler struct {
	srv  *Server
	conn *Conn
}

func newHandler(srv *Server, c *Conn) *Handler {
	return &Handler{srv: srv, conn: c}
}

// Run 阻塞读循环。分发顺序：解码失败回 BadInput 不断线 → 系统消息就地处理 →
// 已入局则转发给会话 → 未入局的游戏消息丢弃（容忍协议违规，只计数打日志）
func (h *Handler) Run() {
	defer h.srv.dropConn(h.conn)
	for {
		frame, err := h.conn.fc.ReadFrame()
		if err != nil {
			h.onReadError(err)
			return
		}
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		msg, err := h.srv.registry.Decode(frame)
		if err != nil {
			h.srv.metrics.IncDecodeErrors()
			Log.Debugf("conn %d: reject frame: %v", h.conn.id, err)
			h.conn.Send(&BadInput{Raw: truncate(string(frame), 256), Reason: err.Error()})
			continue
		}
		h.srv.metrics.IncMessages()

		switch m := msg.(type) {
		case *Identify:
			h.onIdentify(m)
		case *JoinRequest:
			if !h.onJoin(m) {
				return
			}
		case *KeepAlive:
			h.conn.markAlive()
		case *ClientClosed:
			h.onClientClosed(m)
			return
		case *IdentifyResponse, *JoinResponse, *ForceClose, *BadInput, *GameStart, *GameEnds:
			// 服务端专用标签从客户端进来：协议违规，按未入局消息同样处理
			Log.Debugf("conn %d: dropped server-only message %s", h.conn.id, msg.Tag())
		default:
			sess := h.conn.Session()
			if sess == nil {
				// 未绑定会话前到达的游戏消息：静默丢弃，但留下可观测的痕迹
				h.srv.metrics.IncDroppedEarly()
				Log.Debugf("conn %d: dropped %s before any session was bound", h.conn.id, msg.Tag())
				continue
			}
			if ferr := sess.Forward(m, h.conn.Player()); ferr != nil {
				h.fatal(sess, ferr)
				return
			}
		}
	}
}

// onIdentify 身份校验 + 多重登录策略；失败不断线，客户端可重试
func (h *Handler) onIdentify(m *Identify) {
	if h.conn.Player() != nil {
		h.conn.Send(&IdentifyResponse{Success: false, Reason: "already identified"})
		return
	}
	res := h.srv.identity.Identify(m.Login, m.Password, m.DisplayName)
	if !res.OK {
		Log.Infof("conn %d: identify %q rejected: %s", h.conn.id, m.Login, res.Reason)
		h.conn.Send(&IdentifyResponse{Success: false, Reason: res.Reason})
		return
	}
	// 同名在线检查与绑定必须原子完成，策略（多重登录开关、回环例外）在 bindLogin 里
	p, err := h.srv.bindLogin(h.conn, res)
	if err != nil {
		h.conn.Send(&IdentifyResponse{Success: false, Reason: err.Error()})
		return
	}
	Log.Infof("conn %d: identified as %s (#%d) from %v", h.conn.id, p.Name(), p.ID, h.conn.RemoteAddr())
	h.conn.Send(&IdentifyResponse{Success: true, Login: p.Login, DisplayName: p.DisplayName})
}

// onJoin 撮合进房；拒绝时按策略关闭连接（客户端需重连重试）。返回连接是否保持
func (h *Handler) onJoin(m *JoinRequest) bool {
	p := h.conn.Player()
	if p == nil {
		h.conn.Send(&JoinResponse{Success: false, Message: "identify before joining a game"})
		h.conn.Close()
		return false
	}
	if h.conn.Session() != nil {
		h.conn.Send(&JoinResponse{Success: false, Message: "already seated in a party"})
		h.conn.Close()
		return false
	}
	sess, created, full, err := h.srv.matcher.Join(m, p, h.conn)
	if err != nil {
		Log.Infof("conn %d: join rejected: %v", h.conn.id, err)
		h.conn.Send(&JoinResponse{Success: false, Mode: m.Mode, Message: err.Error()})
		h.conn.Close()
		return false
	}
	h.conn.bindSession(sess)
	h.conn.Send(&JoinResponse{Success: true, Created: created, Mode: m.Mode, Party: sess.Party})
	// 坐满的那一次入座负责触发开局；JoinResponse 先于 GameStart 出队
	if full {
		sess.Start()
	}
	return true
}

// onClientClosed 客户端体面告别：同局其他人收 ForceClose，本连接直接关
func (h *Handler) onClientClosed(m *ClientClosed) {
	reason := m.Reason
	if reason == "" {
		reason = "client closed the connection"
	}
	if sess := h.conn.Session(); sess != nil {
		who := "a player"
		if p := h.conn.Player(); p != nil {
			who = p.Name()
		}
		sess.Terminate(fmt.Sprintf("%s left: %s", who, reason), h.conn)
	}
	h.conn.Close()
}

// onReadError 读失败/对端消失：对端已不可达，不再尝试发送，只收尾
func (h *Handler) onReadError(err error) {
	if h.conn.Closed() || !h.srv.Running() {
		// 本地主动关闭或整体停机，不算故障
		h.conn.Close()
		return
	}
	Log.Infof("conn %d: read error: %v", h.conn.id, err)
	if sess := h.conn.Session(); sess != nil {
		sess.Terminate(fmt.Sprintf("connection to %s lost", h.playerName()), h.conn)
	}
	h.conn.Close()
}

// fatal 会话致命错误：终止本会话并强关其所有连接，其余会话不受影响
func (h *Handler) fatal(sess *Session, err error) {
	Log.Errorf("conn %d: fatal error in session %s: %v", h.conn.id, sess.ID, err)
	h.srv.metrics.IncSessionFatals()
	sess.Terminate(fmt.Sprintf("session aborted: %v", err), h.conn)
	h.conn.Close()
}

func (h *Handler) playerName() string {
	if p := h.conn.Player(); p != nil {
		return p.Name()
	}
	return "an unidentified player"
}

// isLoopback 判断对端地址是否回环
func isLoopback(addr net.Addr) bool {
	if addr == nil {
		return false
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
