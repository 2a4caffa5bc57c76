package games

import (
	"fmt"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"gamehub/server"
)

// Lua 规则引擎适配器：新玩法写成脚本即可上线，不用重新编译服务端
//
// 脚本契约（顶层全局量在加载期读取一次）：
//
//	name    = "guess"                     -- 游戏类型名，缺省取文件名
//	players = 2                           -- 开局所需人数
//	tags    = {"guess_try"}               -- 本游戏的消息标签
//	function init() ... end               -- 开局回调，可选
//	function on_message(tag, fields, sender) ... end
//	function check_end() return nil end   -- 返回字符串即结束原因
//
// 脚本内可用的宿主函数：
//	send_to_all(tag, fields)  send_to_player(login, tag, fields)
//	current_player()  pass_turn()  players()

// LoadLuaGame 加载一个脚本：注册其消息标签并登记游戏类型
func LoadLuaGame(reg *server.Registry, cat *server.Catalog, path string) error {
	L := lua.NewState()
	defer L.Close()
	if err := L.DoFile(path); err != nil {
		return fmt.Errorf("lua %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), ".lua")
	if v, ok := L.GetGlobal("name").(lua.LString); ok {
		name = string(v)
	}
	players := 2
	if v, ok := L.GetGlobal("players").(lua.LNumber); ok && int(v) >= 1 {
		players = int(v)
	}
	if tags, ok := L.GetGlobal("tags").(*lua.LTable); ok {
		tags.ForEach(func(_, v lua.LValue) {
			tag := v.String()
			if !reg.Known(tag) {
				server.RegisterGameData(reg, tag)
			}
		})
	}

	cat.Register(server.GameSpec{
		Name:    name,
		Players: players,
		New:     func() (server.Game, error) { return newLuaGame(path) },
	})
	server.Log.Infof("lua: registered game %s (players=%d) from %s", name, players, path)
	return nil
}

// LoadLuaDir 把目录下所有 *.lua 逐个加载
func LoadLuaDir(reg *server.Registry, cat *server.Catalog, dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := LoadLuaGame(reg, cat, p); err != nil {
			return err
		}
	}
	return nil
}

// luaGame 一局一个独立 LState；会话的 engineMu 保证了单线程访问
type luaGame struct {
	path string
	L    *lua.LState
	sess *server.Session
}

func newLuaGame(path string) (server.Game, error) {
	return &luaGame{path: path}, nil
}

// Teardown 会话终止后释放解释器；未开局的会话没有 LState
func (g *luaGame) Teardown() {
	if g.L != nil {
		g.L.Close()
		g.L = nil
	}
}

func (g *luaGame) Initialize(s *server.Session) {
	g.sess = s
	g.L = lua.NewState()
	g.installAPI()
	if err := g.L.DoFile(g.path); err != nil {
		panic(fmt.Sprintf("lua %s: %v", g.path, err)) // 交给会话的致命错误路径
	}
	g.call("init", 0)
}

func (g *luaGame) ProcessMessage(s *server.Session, m server.Message, from *server.Player) error {
	gd, ok := m.(*server.GameData)
	if !ok {
		return nil
	}
	fn, ok := g.L.GetGlobal("on_message").(*lua.LFunction)
	if !ok {
		return nil
	}
	sender := ""
	if from != nil {
		sender = from.Login
	}
	err := g.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
		lua.LString(gd.Tag()), goToLua(g.L, gd.Fields), lua.LString(sender))
	if err != nil {
		return fmt.Errorf("lua on_message: %w", err)
	}
	return nil
}

func (g *luaGame) CheckEndCondition(s *server.Session) string {
	fn, ok := g.L.GetGlobal("check_end").(*lua.LFunction)
	if !ok {
		return ""
	}
	if err := g.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		panic(fmt.Sprintf("lua check_end: %v", err))
	}
	ret := g.L.Get(-1)
	g.L.Pop(1)
	if str, ok := ret.(lua.LString); ok {
		return string(str)
	}
	return ""
}

// call 调一个可选的无参脚本函数
func (g *luaGame) call(name string, nret int) {
	fn, ok := g.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return
	}
	if err := g.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}); err != nil {
		panic(fmt.Sprintf("lua %s: %v", name, err))
	}
}

// installAPI 把会话操作暴露给脚本
func (g *luaGame) installAPI() {
	L := g.L
	L.SetGlobal("send_to_all", L.NewFunction(func(L *lua.LState) int {
		tag := L.CheckString(1)
		fields := luaToGoMap(L.OptTable(2, nil))
		g.sess.SendToAll(server.NewGameData(tag, fields))
		return 0
	}))
	L.SetGlobal("send_to_player", L.NewFunction(func(L *lua.LState) int {
		login := L.CheckString(1)
		tag := L.CheckString(2)
		fields := luaToGoMap(L.OptTable(3, nil))
		for _, p := range g.sess.Players() {
			if p.Login == login {
				g.sess.SendToPlayer(server.NewGameData(tag, fields), p)
				break
			}
		}
		return 0
	}))
	L.SetGlobal("current_player", L.NewFunction(func(L *lua.LState) int {
		if p := g.sess.CurrentPlayer(); p != nil {
			L.Push(lua.LString(p.Login))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))
	L.SetGlobal("pass_turn", L.NewFunction(func(L *lua.LState) int {
		if p := g.sess.PassTurnToNext(); p != nil {
			L.Push(lua.LString(p.Login))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))
	L.SetGlobal("players", L.NewFunction(func(L *lua.LState) int {
		tbl := L.NewTable()
		for _, p := range g.sess.Players() {
			tbl.Append(lua.LString(p.Login))
		}
		L.Push(tbl)
		return 1
	}))
}

// goToLua JSON 解码出的字段包 → lua 值
func goToLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case float64:
		return lua.LNumber(t)
	case string:
		return lua.LString(t)
	case []any:
		tbl := L.NewTable()
		for _, e := range t {
			tbl.Append(goToLua(L, e))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, e := range t {
			tbl.RawSetString(k, goToLua(L, e))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", t))
	}
}

// luaToGoMap 脚本传来的字段表 → 可 JSON 化的 map
func luaToGoMap(tbl *lua.LTable) map[string]any {
	if tbl == nil {
		return nil
	}
	out := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		out[k.String()] = luaToGo(v)
	})
	return out
}

func luaToGo(v lua.LValue) any {
	switch t := v.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		return float64(t)
	case lua.LString:
		return string(t)
	case *lua.LTable:
		if t.MaxN() > 0 {
			arr := make([]any, 0, t.MaxN())
			for i := 1; i <= t.MaxN(); i++ {
				arr = append(arr, luaToGo(t.RawGetInt(i)))
			}
			return arr
		}
		return luaToGoMap(t)
	default:
		return nil
	}
}
