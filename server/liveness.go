package server

import (
	"fmt"
	"time"
)

// Liveness Monitor：定期向已识别连接发保活探测，应答会清零未答计数。
// 半开 TCP 连接（对端直接消失、没有 FIN）靠它兜底，阻塞读循环感知不到。

// livenessLoop 随 Serve 启动，Stop 时退出
func (s *Server) livenessLoop() {
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.probeAll()
		case <-s.stopCh:
			return
		}
	}
}

// probeAll 一轮探测：超过 MaxMissedProbes 个周期没应答的连接按读错误同路径收割
func (s *Server) probeAll() {
	now := time.Now().UnixMilli()
	for _, c := range s.identifiedConns() {
		if missed := c.probe(); missed > s.cfg.MaxMissedProbes {
			s.reap(c, missed)
			continue
		}
		c.Send(&KeepAlive{Sent: now})
	}
}

// reap 收割失联连接：会话走和读错误一致的终止路径（终态吸收保证只广播一次）
func (s *Server) reap(c *Conn, missed int) {
	s.metrics.IncReaped()
	Log.Warnf("conn %d: no keepalive answer for %d cycles, reaping", c.id, missed)
	if sess := c.Session(); sess != nil {
		who := "a player"
		if p := c.Player(); p != nil {
			who = p.Name()
		}
		sess.Terminate(fmt.Sprintf("connection to %s timed out", who), c)
	}
	c.Close()
}
