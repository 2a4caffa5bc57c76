package server

// Player 已通过身份校验的玩家；Conn 与 Session 只引用、不拥有
type Player struct {
	ID          uint64 `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display"`
	AI          bool   `json:"ai,omitempty"` // 单人模式补位的合成参与者
}

func (p *Player) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Login
}
