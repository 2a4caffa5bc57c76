package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// Server 显式传递的服务上下文：监听器、活动连接表、撮合器、配置都挂在这里，
// 不靠任何进程级单例
type Server struct {
	cfg      Config
	registry *Registry
	identity Identity
	matcher  *Matcher
	metrics  *Metrics

	mu       sync.Mutex
	listener net.Listener
	conns    map[uint64]*Conn

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}

	connSeq   atomic.Uint64
	playerSeq atomic.Uint64
}

func NewServer(cfg Config, reg *Registry, identity Identity, catalog *Catalog, events Events) *Server {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		identity: identity,
		metrics:  NewMetrics(),
		conns:    make(map[uint64]*Conn),
		stopCh:   make(chan struct{}),
	}
	s.matcher = NewMatcher(catalog, events, s.metrics, s.nextPlayerID)
	return s
}

// ListenAndServe 绑定 TCP 端口并进入接受循环
// 端口被占等绑定失败不自动重试：报错返回，由运维换端口后重启
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(l)
}

// Serve 接受循环：accept → 登记连接 → 每连接一个读循环 goroutine
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.running.Store(true)
	go s.livenessLoop()

	Log.Infof("accepting connections on %v", l.Addr())
	for {
		raw, err := l.Accept()
		if err != nil {
			if !s.running.Load() {
				// Stop 关掉了监听 socket，accept 被打断属于预期停机
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		c := s.addConn(newTCPFrameConn(raw))
		Log.Infof("conn %d: accepted from %v", c.id, raw.RemoteAddr())
		go newHandler(s, c).Run()
	}
}

// Addr 实际监听地址（:0 测试用）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Running() bool { return s.running.Load() }

// Stop 唯一的体面停机入口：放倒运行标志、关监听 socket、关掉每条活动连接
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stopCh)
		s.mu.Lock()
		l := s.listener
		conns := make([]*Conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()
		if l != nil {
			_ = l.Close()
		}
		for _, c := range conns {
			c.Close()
		}
		Log.Info("server stopped")
	})
}

// addConn 登记一条新连接（TCP 与 WebSocket 网关共用）
func (s *Server) addConn(fc frameConn) *Conn {
	c := newConn(s.connSeq.Add(1), fc, s.registry)
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.metrics.IncAccepted()
	return c
}

// dropConn 读循环退出时摘除并关闭
func (s *Server) dropConn(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	c.Close()
}

// loginActive 是否已有未关闭的连接绑定了该登录名
func (s *Server) loginActive(login string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginActiveLocked(login, nil)
}

func (s *Server) loginActiveLocked(login string, except *Conn) bool {
	for _, c := range s.conns {
		if c == except || c.Closed() {
			continue
		}
		if p := c.Player(); p != nil && p.Login == login {
			return true
		}
	}
	return false
}

// bindLogin 同名在线检查与玩家绑定在同一临界区里完成，
// 两条连接同时用一个登录名报到时恰有一条胜出
func (s *Server) bindLogin(c *Conn, res IdentifyResult) (*Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.AllowMultiLogin && !isLoopback(c.RemoteAddr()) && s.loginActiveLocked(res.Login, c) {
		return nil, fmt.Errorf("login %q is already connected", res.Login)
	}
	p := &Player{ID: s.nextPlayerID(), Login: res.Login, DisplayName: res.DisplayName}
	c.bindPlayer(p)
	return p, nil
}

// identifiedConns 已通过身份校验的连接快照（保活探测对象）
func (s *Server) identifiedConns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		if !c.Closed() && c.Player() != nil {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) nextPlayerID() uint64 { return s.playerSeq.Add(1) }

// Metrics 监控接口用
func (s *Server) Metrics() *Metrics { return s.metrics }

// Sessions 管理接口用：登记在册的会话概览
func (s *Server) Sessions() []map[string]any { return s.matcher.Snapshot() }
