package server

import (
	"encoding/json"
	"net/http"
)

// 管理与监控接口；挂在 HTTP mux 上，与游戏协议端口分开

// HandleMetrics 输出运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"running": s.Running(),
		"metrics": s.metrics.Snapshot(),
	})
}

// HandleSessions 输出登记在册的会话概览
// GET /admin/sessions
func (s *Server) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sessions": s.Sessions(),
	})
}
