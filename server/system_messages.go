package server

import "encoding/json"

// 系统消息目录：连接层自己消费的那部分协议
// 其余标签（各游戏自己的消息）由游戏注册，core 只负责转发

// GameMode 对局模式
type GameMode string

const (
	ModeSingle GameMode = "single" // 单人：空位由 AI 占住，立即开局
	ModeMulti  GameMode = "multi"  // 多人：等满员再开
	ModeTest   GameMode = "test"   // 测试：只需本人，立即开局
)

// JoinStrategy 客户端声明的进房策略
type JoinStrategy string

const (
	JoinAuto          JoinStrategy = "auto"           // 自动匹配公开房，没有就新建
	JoinCreatePublic  JoinStrategy = "create_public"  // 总是新建公开房
	JoinCreatePrivate JoinStrategy = "create_private" // 总是新建私房（不参与匹配）
	JoinNamed         JoinStrategy = "join_named"     // 按房名加入，找不到/已满则拒绝
)

// Identify C→S 自报身份
type Identify struct {
	Login       string `json:"login"`
	Password    string `json:"password,omitempty"`
	DisplayName string `json:"display,omitempty"`
}

func (*Identify) Tag() string { return "identify" }

// IdentifyResponse S→C 身份校验结果；失败不断线，客户端可重试
type IdentifyResponse struct {
	Success     bool   `json:"success"`
	Login       string `json:"login,omitempty"`
	DisplayName string `json:"display,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (*IdentifyResponse) Tag() string { return "identify_response" }

// JoinRequest C→S 请求进入某个游戏
type JoinRequest struct {
	Game     string       `json:"game"`
	Mode     GameMode     `json:"mode"`
	Party    string       `json:"party,omitempty"`
	Strategy JoinStrategy `json:"strategy"`
}

func (*JoinRequest) Tag() string { return "join_request" }

// JoinResponse S→C 进房结果；失败后服务端按策略关闭连接
type JoinResponse struct {
	Success bool     `json:"success"`
	Created bool     `json:"created"` // true=新开的房，false=加入已有的
	Mode    GameMode `json:"mode,omitempty"`
	Party   string   `json:"party,omitempty"`
	Message string   `json:"message,omitempty"`
}

func (*JoinResponse) Tag() string { return "join_response" }

// KeepAlive S→C 发出探测，C→S 原样带回 sent 并补上 answer（毫秒时间戳）
type KeepAlive struct {
	Sent   int64 `json:"sent"`
	Answer int64 `json:"answer,omitempty"`
}

func (*KeepAlive) Tag() string { return "keepalive" }

// ClientClosed C→S 客户端主动下线的告别
type ClientClosed struct {
	Reason string `json:"reason,omitempty"`
}

func (*ClientClosed) Tag() string { return "client_closed" }

// ForceClose S→C 服务端强制终止会话，客户端必须收尾退出对局
type ForceClose struct {
	Reason string `json:"reason"`
}

func (*ForceClose) Tag() string { return "force_close" }

// BadInput S→C 回显解码失败的原始内容，便于排查
type BadInput struct {
	Raw    string `json:"raw"`
	Reason string `json:"reason,omitempty"`
}

func (*BadInput) Tag() string { return "bad_input" }

// GameStart S→C 满员开局通知
type GameStart struct {
	Game    string   `json:"game"`
	Party   string   `json:"party"`
	Players []string `json:"players"`
}

func (*GameStart) Tag() string { return "game_start" }

// GameEnds S→C 对局自然结束（胜负/平局等），带结束原因
type GameEnds struct {
	Reason string `json:"reason"`
}

func (*GameEnds) Tag() string { return "game_ends" }

// GameData 未建模成 Go 结构体的游戏消息：按标签注册成动态字段包
// Lua 游戏等在运行期声明自己的标签时用它承载
type GameData struct {
	tag    string
	Fields map[string]any
}

func (g *GameData) Tag() string { return g.tag }

// MarshalJSON / UnmarshalJSON 只序列化字段包本身，标签由信封携带
func (g *GameData) MarshalJSON() ([]byte, error) { return json.Marshal(g.Fields) }
func (g *GameData) UnmarshalJSON(b []byte) error { return json.Unmarshal(b, &g.Fields) }

// NewGameData 构造一条动态消息（发送方向用）
func NewGameData(tag string, fields map[string]any) *GameData {
	return &GameData{tag: tag, Fields: fields}
}

// RegisterGameData 把一个动态标签挂进注册表
func RegisterGameData(reg *Registry, tag string) {
	reg.Register(tag, func() Message { return &GameData{tag: tag} })
}

// RegisterSystemMessages 填充系统消息目录；服务启动时调用一次
func RegisterSystemMessages(reg *Registry) {
	reg.Register("identify", func() Message { return &Identify{} })
	reg.Register("identify_response", func() Message { return &IdentifyResponse{} })
	reg.Register("join_request", func() Message { return &JoinRequest{} })
	reg.Register("join_response", func() Message { return &JoinResponse{} })
	reg.Register("keepalive", func() Message { return &KeepAlive{} })
	reg.Register("client_closed", func() Message { return &ClientClosed{} })
	reg.Register("force_close", func() Message { return &ForceClose{} })
	reg.Register("bad_input", func() Message { return &BadInput{} })
	reg.Register("game_start", func() Message { return &GameStart{} })
	reg.Register("game_ends", func() Message { return &GameEnds{} })
}
