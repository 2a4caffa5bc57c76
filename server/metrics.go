package server

import (
	"sync/atomic"
)

// Metrics 运行期关键指标（用于监控与调试）
type Metrics struct {
	Accepted           int64 // 接入过的连接数
	Messages           int64 // 成功解码的消息数
	DecodeErrors       int64 // 解码失败（回了 BadInput）的帧数
	DroppedEarly       int64 // 未入局就发来、被丢弃的游戏消息数
	SessionsCreated    int64 // 新开的会话数
	SessionsEnded      int64 // 自然结束的会话数
	SessionsTerminated int64 // 异常终止的会话数
	SessionFatals      int64 // 规则引擎致命错误次数
	Reaped             int64 // 保活超时收割的连接数
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) IncAccepted()           { atomic.AddInt64(&m.Accepted, 1) }
func (m *Metrics) IncMessages()           { atomic.AddInt64(&m.Messages, 1) }
func (m *Metrics) IncDecodeErrors()       { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *Metrics) IncDroppedEarly()       { atomic.AddInt64(&m.DroppedEarly, 1) }
func (m *Metrics) IncSessionsCreated()    { atomic.AddInt64(&m.SessionsCreated, 1) }
func (m *Metrics) IncSessionsEnded()      { atomic.AddInt64(&m.SessionsEnded, 1) }
func (m *Metrics) IncSessionsTerminated() { atomic.AddInt64(&m.SessionsTerminated, 1) }
func (m *Metrics) IncSessionFatals()      { atomic.AddInt64(&m.SessionFatals, 1) }
func (m *Metrics) IncReaped()             { atomic.AddInt64(&m.Reaped, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"accepted":            atomic.LoadInt64(&m.Accepted),
		"messages":            atomic.LoadInt64(&m.Messages),
		"decode_errors":       atomic.LoadInt64(&m.DecodeErrors),
		"dropped_early":       atomic.LoadInt64(&m.DroppedEarly),
		"sessions_created":    atomic.LoadInt64(&m.SessionsCreated),
		"sessions_ended":      atomic.LoadInt64(&m.SessionsEnded),
		"sessions_terminated": atomic.LoadInt64(&m.SessionsTerminated),
		"session_fatals":      atomic.LoadInt64(&m.SessionFatals),
		"reaped":              atomic.LoadInt64(&m.Reaped),
	}
}
