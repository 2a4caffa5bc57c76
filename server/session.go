package server

import (
	"fmt"
	"sync"
)

// Game 规则引擎契约：具体玩法（井字棋、猜拳…）在 core 之外实现
// 三个回调都由会话的 engineMu 串行化，引擎内部无需再加锁
type Game interface {
	// Initialize 满员开局时调用一次
	Initialize(s *Session)
	// ProcessMessage 处理一条转发进来的游戏消息
	ProcessMessage(s *Session, m Message, from *Player) error
	// CheckEndCondition 返回非空字符串表示对局结束及其原因
	CheckEndCondition(s *Session) string
}

// gameCloser 可选扩展：持有外部资源的引擎（如 Lua 解释器）在会话终止后释放
type gameCloser interface {
	Teardown()
}

// GameSpec 一种游戏类型的元数据与引擎工厂
type GameSpec struct {
	Name    string
	Players int // 开局所需人数，恒 >= 1
	New     func() (Game, error)
}

// Catalog 游戏类型名 → GameSpec 的登记表；启动期填充，运行期只读
type Catalog struct {
	mu    sync.RWMutex
	specs map[string]GameSpec
}

func NewCatalog() *Catalog {
	return &Catalog{specs: make(map[string]GameSpec)}
}

func (c *Catalog) Register(spec GameSpec) {
	if spec.Players < 1 {
		panic("catalog: game " + spec.Name + " needs at least one player")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[spec.Name] = spec
}

func (c *Catalog) Lookup(name string) (GameSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specs[name]
	return s, ok
}

// Events 会话生命周期事件，表现层（GUI 等）可以订阅；core 自己不关心
type Events interface {
	OnGameStart(s *Session)
	OnGameEnd(s *Session, reason string)
	OnForceClose(s *Session, reason string)
}

// NopEvents 默认空实现
type NopEvents struct{}

func (NopEvents) OnGameStart(*Session)          {}
func (NopEvents) OnGameEnd(*Session, string)    {}
func (NopEvents) OnForceClose(*Session, string) {}

// SessionState 会话状态机：Waiting → Running → Terminated，终态吸收
type SessionState int

const (
	StateWaiting SessionState = iota
	StateRunning
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	default:
		return "terminated"
	}
}

// seat 一个座位：玩家 + 其连接（AI 补位时连接为 nil）
type seat struct {
	player *Player
	conn   *Conn
}

// Session 一局等待中或进行中的对局（即“party”）
type Session struct {
	ID       string
	GameName string
	Party    string
	Mode     GameMode
	Public   bool

	need    int
	seq     uint64 // 创建顺序号，AutoMatch 总是挑最老的
	engine  Game
	events  Events
	metrics *Metrics

	// onTerminated 终止后通知 Matcher 从登记表摘除
	onTerminated func(*Session)

	mu      sync.Mutex
	state   SessionState
	seats   []seat
	current int

	// engineMu 串行化对规则引擎的调用；与 mu 分开，
	// 引擎回调里可以放心调用 SendToAll 等需要 mu 的方法
	engineMu sync.Mutex
	torndown bool // engineMu 保护；引擎资源已释放
}

// addSeat 入座；只有 Waiting 状态接受新玩家。返回是否坐满
func (s *Session) addSeat(p *Player, c *Conn) (full bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateWaiting {
		return false, fmt.Errorf("party %q is closed to new players", s.Party)
	}
	if len(s.seats) >= s.need {
		return false, fmt.Errorf("party %q is full", s.Party)
	}
	s.seats = append(s.seats, seat{player: p, conn: c})
	return len(s.seats) == s.need, nil
}

// hasRoom 等待中且有空位；坐满待开局的房对撮合不可见
func (s *Session) hasRoom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateWaiting && len(s.seats) < s.need
}

// Start Waiting → Running：引擎 Initialize 恰好一次，然后广播 GameStart
// 先占 engineMu 再翻状态：并发 Forward 看到 Running 时 Initialize 必然已排在它前面
func (s *Session) Start() {
	s.engineMu.Lock()
	s.mu.Lock()
	if s.state != StateWaiting {
		s.mu.Unlock()
		s.engineMu.Unlock()
		return
	}
	s.state = StateRunning
	s.current = 0
	names := make([]string, len(s.seats))
	for i, st := range s.seats {
		names[i] = st.player.Name()
	}
	s.mu.Unlock()

	Log.Infof("session %s: %s party %q starts with %v", s.ID, s.GameName, s.Party, names)

	reason := func() (r string) {
		defer func() {
			if p := recover(); p != nil {
				r = fmt.Sprintf("engine panic during initialize: %v", p)
			}
		}()
		s.engine.Initialize(s)
		s.SendToAll(&GameStart{Game: s.GameName, Party: s.Party, Players: names})
		s.events.OnGameStart(s)
		return s.engine.CheckEndCondition(s)
	}()
	s.engineMu.Unlock()

	if reason != "" {
		s.endGame(reason)
		s.teardown()
	}
}

// Forward 把一条游戏消息交给规则引擎；引擎 panic 转成错误上抛，
// 由连接处理器走会话致命错误路径
func (s *Session) Forward(m Message, from *Player) (err error) {
	if s.State() != StateRunning {
		// 终态吸收：终止后到达的消息直接丢弃
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine panic: %v", p)
		}
	}()
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	if err := s.engine.ProcessMessage(s, m, from); err != nil {
		return err
	}
	if reason := s.engine.CheckEndCondition(s); reason != "" {
		s.endGame(reason)
		s.teardownLocked()
	}
	return nil
}

// endGame 对局自然结束：广播 GameEnds，随后收掉所有座位的连接
func (s *Session) endGame(reason string) {
	seats, ok := s.finish()
	if !ok {
		return
	}
	Log.Infof("session %s: game over: %s", s.ID, reason)
	for _, st := range seats {
		if st.conn != nil {
			st.conn.Send(&GameEnds{Reason: reason})
		}
	}
	for _, st := range seats {
		if st.conn != nil {
			st.conn.Close()
		}
	}
	if s.metrics != nil {
		s.metrics.IncSessionsEnded()
	}
	s.events.OnGameEnd(s, reason)
	if s.onTerminated != nil {
		s.onTerminated(s)
	}
}

// Terminate 异常终止：除 exclude 之外的座位收到 ForceClose，所有连接关闭
// exclude 用于两种情况——出错连接已经断了（读错误）或马上要关（引擎致命错误）
func (s *Session) Terminate(reason string, exclude *Conn) {
	seats, ok := s.finish()
	if !ok {
		return
	}
	Log.Warnf("session %s: terminated: %s", s.ID, reason)
	for _, st := range seats {
		if st.conn != nil && st.conn != exclude {
			st.conn.Send(&ForceClose{Reason: reason})
		}
	}
	for _, st := range seats {
		if st.conn != nil {
			st.conn.Close()
		}
	}
	if s.metrics != nil {
		s.metrics.IncSessionsTerminated()
	}
	s.events.OnForceClose(s, reason)
	if s.onTerminated != nil {
		s.onTerminated(s)
	}
	s.teardown()
}

// teardown 等正在进行的引擎调用结束后释放引擎资源；幂等
func (s *Session) teardown() {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	s.teardownLocked()
}

func (s *Session) teardownLocked() {
	if s.torndown {
		return
	}
	s.torndown = true
	if c, ok := s.engine.(gameCloser); ok {
		c.Teardown()
	}
}

// finish 原子地进入终态；已终止则返回 ok=false，保证收尾广播恰好一次
func (s *Session) finish() ([]seat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return nil, false
	}
	s.state = StateTerminated
	seats := make([]seat, len(s.seats))
	copy(seats, s.seats)
	return seats, true
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Players 座位快照
func (s *Session) Players() []*Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Player, len(s.seats))
	for i, st := range s.seats {
		out[i] = st.player
	}
	return out
}

// SendToPlayer 发给指定玩家；AI 座位没有连接，静默跳过
func (s *Session) SendToPlayer(m Message, p *Player) {
	s.mu.Lock()
	var c *Conn
	for _, st := range s.seats {
		if st.player == p {
			c = st.conn
			break
		}
	}
	s.mu.Unlock()
	if c != nil {
		c.Send(m)
	}
}

// SendToAll 广播给所有座位；用座位快照枚举，不与入座/终止互踩
func (s *Session) SendToAll(m Message) {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.seats))
	for _, st := range s.seats {
		if st.conn != nil {
			conns = append(conns, st.conn)
		}
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Send(m)
	}
}

// CurrentPlayer 当前行动者
func (s *Session) CurrentPlayer() *Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seats) == 0 {
		return nil
	}
	return s.seats[s.current].player
}

// SetCurrentPlayer 指定行动者；不在座则不变
func (s *Session) SetCurrentPlayer(p *Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range s.seats {
		if st.player == p {
			s.current = i
			return
		}
	}
}

// PassTurnToNext 轮转到下一个座位并返回新的行动者
func (s *Session) PassTurnToNext() *Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seats) == 0 {
		return nil
	}
	s.current = (s.current + 1) % len(s.seats)
	return s.seats[s.current].player
}
