package games

import (
	"fmt"
	"math/rand"

	"gamehub/server"
)

// 猜拳：最小的规则引擎示例，演示 Game 契约与消息注册的完整闭环

// RPSPick C→S 出拳
type RPSPick struct {
	Pick string `json:"pick"` // rock / paper / scissors
}

func (*RPSPick) Tag() string { return "rps_pick" }

// RPSResult S→C 公布结果
type RPSResult struct {
	Winner string            `json:"winner,omitempty"` // 平局为空
	Draw   bool              `json:"draw,omitempty"`
	Picks  map[string]string `json:"picks"` // login → 出的什么
}

func (*RPSResult) Tag() string { return "rps_result" }

// RegisterRPS 把猜拳挂进消息注册表与游戏登记表
func RegisterRPS(reg *server.Registry, cat *server.Catalog) {
	reg.Register("rps_pick", func() server.Message { return &RPSPick{} })
	reg.Register("rps_result", func() server.Message { return &RPSResult{} })
	cat.Register(server.GameSpec{
		Name:    "RockPaperScissors",
		Players: 2,
		New:     func() (server.Game, error) { return NewRPS(), nil },
	})
}

// beats[a] = b 表示 a 胜 b
var beats = map[string]string{
	"rock":     "scissors",
	"scissors": "paper",
	"paper":    "rock",
}

// RPS 引擎状态；所有回调由会话串行化，无需自己加锁
type RPS struct {
	picks map[uint64]string // player id → pick
	ended string
}

func NewRPS() *RPS {
	return &RPS{picks: make(map[uint64]string)}
}

// Initialize AI 座位开局即随机出拳
func (g *RPS) Initialize(s *server.Session) {
	options := []string{"rock", "paper", "scissors"}
	for _, p := range s.Players() {
		if p.AI {
			g.picks[p.ID] = options[rand.Intn(len(options))]
		}
	}
}

func (g *RPS) ProcessMessage(s *server.Session, m server.Message, from *server.Player) error {
	pick, ok := m.(*RPSPick)
	if !ok || from == nil {
		return nil
	}
	if _, valid := beats[pick.Pick]; !valid {
		s.SendToPlayer(&server.BadInput{Raw: pick.Pick, Reason: "pick one of rock/paper/scissors"}, from)
		return nil
	}
	if _, already := g.picks[from.ID]; already {
		// 出过了就不许改
		return nil
	}
	g.picks[from.ID] = pick.Pick
	return nil
}

// CheckEndCondition 所有人都出过拳就判定胜负并公布
func (g *RPS) CheckEndCondition(s *server.Session) string {
	if g.ended != "" {
		return g.ended
	}
	players := s.Players()
	for _, p := range players {
		if _, ok := g.picks[p.ID]; !ok {
			return ""
		}
	}

	picks := make(map[string]string, len(players))
	for _, p := range players {
		picks[p.Login] = g.picks[p.ID]
	}

	winner := decide(players, g.picks)
	result := &RPSResult{Picks: picks}
	if winner == nil {
		result.Draw = true
		g.ended = "draw"
	} else {
		result.Winner = winner.Login
		g.ended = fmt.Sprintf("%s wins with %s", winner.Name(), g.picks[winner.ID])
	}
	s.SendToAll(result)
	return g.ended
}

// decide 两两比较；有且仅有一个全胜者才算赢，否则平局
func decide(players []*server.Player, picks map[uint64]string) *server.Player {
	var winner *server.Player
	for _, a := range players {
		wins := true
		for _, b := range players {
			if a == b {
				continue
			}
			if beats[picks[a.ID]] != picks[b.ID] {
				wins = false
				break
			}
		}
		if wins {
			if winner != nil {
				return nil
			}
			winner = a
		}
	}
	return winner
}
