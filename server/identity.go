package server

import (
	"strings"
	"sync"
)

// IdentifyResult 身份校验结果；失败时 Reason 给出可读原因
type IdentifyResult struct {
	OK          bool
	Login       string
	DisplayName string
	Reason      string
}

// Identity 身份/凭据存储协作方；core 不关心它背后是文件、数据库还是内存
type Identity interface {
	Identify(login, password, displayName string) IdentifyResult
}

// MemoryIdentity 内存身份存储：passwords 里登记过的登录名必须口令匹配，
// 未登记的登录名放行（开发与联机小局的默认策略）
type MemoryIdentity struct {
	mu        sync.RWMutex
	passwords map[string]string
}

func NewMemoryIdentity() *MemoryIdentity {
	return &MemoryIdentity{passwords: make(map[string]string)}
}

// SetPassword 为某登录名登记固定口令
func (m *MemoryIdentity) SetPassword(login, password string) {
	m.mu.Lock()
	m.passwords[login] = password
	m.mu.Unlock()
}

func (m *MemoryIdentity) Identify(login, password, displayName string) IdentifyResult {
	login = strings.TrimSpace(login)
	if login == "" {
		return IdentifyResult{Reason: "login name must not be empty"}
	}
	m.mu.RLock()
	want, registered := m.passwords[login]
	m.mu.RUnlock()
	if registered && want != password {
		return IdentifyResult{Reason: "wrong password"}
	}
	display := strings.TrimSpace(displayName)
	if display == "" {
		display = login
	}
	return IdentifyResult{OK: true, Login: login, DisplayName: display}
}
