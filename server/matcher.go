package server

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Matcher 管理所有未终止会话的生命周期，并按进房策略撮合玩家
type Matcher struct {
	catalog *Catalog
	events  Events
	metrics *Metrics
	nextID  func() uint64 // 玩家 id 发号器，AI 补位也从同一序列取号

	mu       sync.Mutex
	sessions []*Session // 按创建顺序排列；终止后摘除
	seq      uint64
}

func NewMatcher(catalog *Catalog, events Events, metrics *Metrics, nextID func() uint64) *Matcher {
	if events == nil {
		events = NopEvents{}
	}
	if nextID == nil {
		var n uint64
		var mu sync.Mutex
		nextID = func() uint64 { mu.Lock(); defer mu.Unlock(); n++; return n }
	}
	return &Matcher{catalog: catalog, events: events, metrics: metrics, nextID: nextID}
}

// Join 撮合入口：成功返回已入座的会话与两个标志——created（本次新开的房）、
// full（这次入座把房坐满了，caller 在回完 JoinResponse 后负责触发 start）
func (m *Matcher) Join(req *JoinRequest, p *Player, c *Conn) (sess *Session, created, full bool, err error) {
	spec, ok := m.catalog.Lookup(req.Game)
	if !ok {
		return nil, false, false, fmt.Errorf("unknown game type %q", req.Game)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch req.Strategy {
	case JoinCreatePublic:
		sess, created = m.createLocked(spec, req, true), true
	case JoinCreatePrivate:
		sess, created = m.createLocked(spec, req, false), true
	case JoinNamed:
		sess, err = m.joinNamedLocked(req)
	case JoinAuto, "":
		sess, created = m.autoMatchLocked(spec, req)
	default:
		err = fmt.Errorf("unknown join strategy %q", req.Strategy)
	}
	if sess == nil && err == nil {
		err = fmt.Errorf("could not create a session for game %q", req.Game)
	}
	if err != nil {
		return nil, false, false, err
	}

	full, err = sess.addSeat(p, c)
	if err != nil {
		return nil, false, false, err
	}
	// 单人/测试模式：空位立刻由合成参与者补齐，人一到就能开局
	if !full && (req.Mode == ModeSingle || req.Mode == ModeTest) {
		full = m.fillWithAI(sess)
	}
	return sess, created, full, nil
}

// createLocked 新建会话并登记；caller 持有 m.mu
func (m *Matcher) createLocked(spec GameSpec, req *JoinRequest, public bool) *Session {
	party := strings.TrimSpace(req.Party)
	if party == "" {
		party = "party-" + uuid.NewString()[:8]
	}
	need := spec.Players
	if req.Mode == ModeTest {
		need = 1
	}
	engine, err := spec.New()
	if err != nil {
		Log.Errorf("matcher: engine factory for %s failed: %v", spec.Name, err)
		return nil
	}
	m.seq++
	s := &Session{
		ID:       uuid.NewString(),
		GameName: spec.Name,
		Party:    party,
		Mode:     req.Mode,
		Public:   public,
		need:     need,
		seq:      m.seq,
		engine:   engine,
		events:   m.events,
		metrics:  m.metrics,
	}
	s.onTerminated = func(dead *Session) { m.remove(dead) }
	m.sessions = append(m.sessions, s)
	if m.metrics != nil {
		m.metrics.IncSessionsCreated()
	}
	Log.Infof("matcher: created %s party %q (public=%v, need=%d)", spec.Name, party, public, need)
	return s
}

// joinNamedLocked 按房名精确加入；不存在或已开局都拒绝
func (m *Matcher) joinNamedLocked(req *JoinRequest) (*Session, error) {
	for _, s := range m.sessions {
		if s.GameName != req.Game || s.Party != req.Party {
			continue
		}
		if s.State() != StateWaiting {
			return nil, fmt.Errorf("party %q is already full", req.Party)
		}
		return s, nil
	}
	return nil, fmt.Errorf("no waiting party named %q for game %s", req.Party, req.Game)
}

// autoMatchLocked 在公开等待房里按创建顺序挑最老的有空位的一个；没有就新开
// 固定挑最老：减少房间碎片，也让行为可预测
// 坐满但还没开局的房（caller 正拿着 full 标志准备 Start）没有空位，必须跳过
func (m *Matcher) autoMatchLocked(spec GameSpec, req *JoinRequest) (*Session, bool) {
	for _, s := range m.sessions {
		if s.GameName == req.Game && s.Public && s.hasRoom() {
			return s, false
		}
	}
	return m.createLocked(spec, &JoinRequest{Game: req.Game, Mode: req.Mode}, true), true
}

// fillWithAI 用 AI 玩家补满剩余座位
func (m *Matcher) fillWithAI(s *Session) bool {
	for i := 0; ; i++ {
		id := m.nextID()
		full, err := s.addSeat(&Player{
			ID:          id,
			Login:       fmt.Sprintf("ai-%d", id),
			DisplayName: fmt.Sprintf("Computer %d", i+1),
			AI:          true,
		}, nil)
		if err != nil {
			return false
		}
		if full {
			return true
		}
	}
}

// remove 把已终止的会话从登记表摘掉
func (m *Matcher) remove(dead *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sessions {
		if s == dead {
			m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
			return
		}
	}
}

// Snapshot 管理接口用：当前所有登记在册的会话概览
func (m *Matcher) Snapshot() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.sessions))
	for _, s := range m.sessions {
		players := s.Players()
		names := make([]string, len(players))
		for i, p := range players {
			names[i] = p.Name()
		}
		out = append(out, map[string]any{
			"id":      s.ID,
			"game":    s.GameName,
			"party":   s.Party,
			"public":  s.Public,
			"state":   s.State().String(),
			"players": names,
		})
	}
	return out
}
