package server

import (
	"testing"
	"time"
)

// testServer 组装一台不监听网络的服务器，连接全部用内存桩
func testServer(t *testing.T, ev Events) (*Server, *Registry, *[]*fakeGame) {
	t.Helper()
	reg := newTestRegistry(t)
	reg.Register("test_note", func() Message { return &testNote{} })
	cat, engines := newTestCatalog(2)
	cfg := DefaultConfig()
	cfg.KeepAliveInterval = time.Hour // 这些测试里不要探测干扰
	srv := NewServer(cfg, reg, NewMemoryIdentity(), cat, ev)
	srv.running.Store(true)
	return srv, reg, engines
}

// dial 接上一条内存连接并启动其读循环
func dial(t *testing.T, srv *Server, addr string) *fakeFrame {
	t.Helper()
	f := newFakeFrame(addr)
	c := srv.addConn(f)
	go newHandler(srv, c).Run()
	return f
}

// identify 走完身份校验并断言成功
func identify(t *testing.T, reg *Registry, f *fakeFrame, login string) {
	t.Helper()
	f.push(t, reg, &Identify{Login: login, DisplayName: login})
	m := f.expect(t, reg, "identify_response")
	if !m.(*IdentifyResponse).Success {
		t.Fatalf("identify %s failed: %s", login, m.(*IdentifyResponse).Reason)
	}
}

func TestBadInputKeepsConnectionOpen(t *testing.T) {
	srv, reg, _ := testServer(t, nil)
	f := dial(t, srv, "198.51.100.1:9000")

	f.in <- []byte("not even json\n")
	if m := f.expect(t, reg, "bad_input"); m.(*BadInput).Raw == "" {
		t.Fatalf("bad input must echo the offending text")
	}
	f.in <- []byte(`{"t":"no_such_tag","m":{}}`)
	f.expect(t, reg, "bad_input")

	// 连接还活着，正常消息照常处理
	identify(t, reg, f, "alice")
}

func TestIdentifyWrongPasswordCanRetry(t *testing.T) {
	srv, reg, _ := testServer(t, nil)
	srv.identity.(*MemoryIdentity).SetPassword("alice", "secret")
	f := dial(t, srv, "198.51.100.1:9000")

	f.push(t, reg, &Identify{Login: "alice", Password: "nope"})
	if m := f.expect(t, reg, "identify_response"); m.(*IdentifyResponse).Success {
		t.Fatalf("wrong password must be rejected")
	}
	f.push(t, reg, &Identify{Login: "alice", Password: "secret"})
	if m := f.expect(t, reg, "identify_response"); !m.(*IdentifyResponse).Success {
		t.Fatalf("retry with the right password must succeed")
	}
}

func TestSingleLoginExclusivity(t *testing.T) {
	srv, reg, _ := testServer(t, nil)

	// 两条非回环连接抢同一个登录名
	f1 := dial(t, srv, "198.51.100.1:9000")
	identify(t, reg, f1, "alice")

	f2 := dial(t, srv, "198.51.100.2:9000")
	f2.push(t, reg, &Identify{Login: "alice"})
	m := f2.expect(t, reg, "identify_response")
	if m.(*IdentifyResponse).Success {
		t.Fatalf("duplicate login from a remote address must be rejected")
	}
	if m.(*IdentifyResponse).Reason == "" {
		t.Fatalf("rejection must carry a reason")
	}
	// 第一条连接仍保持已识别状态
	if !srv.loginActive("alice") {
		t.Fatalf("first login must stay active")
	}

	// 回环地址例外
	f3 := dial(t, srv, "127.0.0.1:9000")
	f3.push(t, reg, &Identify{Login: "alice"})
	if m := f3.expect(t, reg, "identify_response"); !m.(*IdentifyResponse).Success {
		t.Fatalf("loopback multi-login must be allowed: %s", m.(*IdentifyResponse).Reason)
	}
}

// 两条连接同时用一个登录名报到：检查与绑定在同一临界区，恰有一条胜出
func TestConcurrentDuplicateLoginSingleWinner(t *testing.T) {
	for i := 0; i < 50; i++ {
		srv, reg, _ := testServer(t, nil)
		f1 := dial(t, srv, "198.51.100.1:9000")
		f2 := dial(t, srv, "198.51.100.2:9000")

		f1.push(t, reg, &Identify{Login: "alice"})
		f2.push(t, reg, &Identify{Login: "alice"})
		r1 := f1.expect(t, reg, "identify_response").(*IdentifyResponse)
		r2 := f2.expect(t, reg, "identify_response").(*IdentifyResponse)
		if r1.Success && r2.Success {
			t.Fatalf("both simultaneous logins succeeded")
		}
		if !r1.Success && !r2.Success {
			t.Fatalf("both simultaneous logins rejected")
		}
		srv.Stop()
	}
}

func TestMultiLoginConfigOverride(t *testing.T) {
	srv, reg, _ := testServer(t, nil)
	srv.cfg.AllowMultiLogin = true

	f1 := dial(t, srv, "198.51.100.1:9000")
	identify(t, reg, f1, "alice")
	f2 := dial(t, srv, "198.51.100.2:9000")
	identify(t, reg, f2, "alice") // 配置放开后同名可多开
}

func TestEarlyGameMessageSilentlyDropped(t *testing.T) {
	srv, reg, _ := testServer(t, nil)
	f := dial(t, srv, "198.51.100.1:9000")
	identify(t, reg, f, "alice")

	f.push(t, reg, &testNote{Text: "too early"})
	f.expectNone(t, 50*time.Millisecond)
	if n := srv.metrics.Snapshot()["dropped_early"].(int64); n != 1 {
		t.Fatalf("dropped_early = %d, want 1", n)
	}
	// 连接未受影响
	f.push(t, reg, &KeepAlive{Sent: 1, Answer: 2})
	f.expectNone(t, 50*time.Millisecond)
}

func TestJoinBeforeIdentifyClosesConnection(t *testing.T) {
	srv, reg, _ := testServer(t, nil)
	f := dial(t, srv, "198.51.100.1:9000")

	f.push(t, reg, &JoinRequest{Game: "TicTacToe", Mode: ModeMulti, Strategy: JoinAuto})
	if m := f.expect(t, reg, "join_response"); m.(*JoinResponse).Success {
		t.Fatalf("join before identify must be rejected")
	}
	waitClosed(t, f)
}

func TestJoinUnknownGameClosesConnection(t *testing.T) {
	srv, reg, _ := testServer(t, nil)
	f := dial(t, srv, "198.51.100.1:9000")
	identify(t, reg, f, "alice")

	f.push(t, reg, &JoinRequest{Game: "Chess", Mode: ModeMulti, Strategy: JoinAuto})
	m := f.expect(t, reg, "join_response")
	if m.(*JoinResponse).Success || m.(*JoinResponse).Message == "" {
		t.Fatalf("rejection must carry a readable reason: %+v", m)
	}
	waitClosed(t, f)
}

// TestAutoMatchScenario 对齐端到端剧本：创建者 created=true，
// 加入者 created=false，随后两边都收到 GameStart
func TestAutoMatchScenario(t *testing.T) {
	srv, reg, _ := testServer(t, nil)

	fa := dial(t, srv, "198.51.100.1:9000")
	identify(t, reg, fa, "alice")
	fa.push(t, reg, &JoinRequest{Game: "TicTacToe", Mode: ModeMulti, Strategy: JoinAuto})
	ra := fa.expect(t, reg, "join_response").(*JoinResponse)
	if !ra.Success || !ra.Created || ra.Mode != ModeMulti {
		t.Fatalf("creator join response = %+v", ra)
	}

	fb := dial(t, srv, "198.51.100.2:9000")
	identify(t, reg, fb, "bob")
	fb.push(t, reg, &JoinRequest{Game: "TicTacToe", Mode: ModeMulti, Strategy: JoinAuto})
	rb := fb.expect(t, reg, "join_response").(*JoinResponse)
	if !rb.Success || rb.Created {
		t.Fatalf("joiner join response = %+v", rb)
	}

	// JoinResponse 先于 GameStart；两边都开局
	ga := fa.expect(t, reg, "game_start").(*GameStart)
	fb.expect(t, reg, "game_start")
	if len(ga.Players) != 2 {
		t.Fatalf("game start players = %v", ga.Players)
	}
}

func TestClientClosedNotifiesPartner(t *testing.T) {
	srv, reg, _ := testServer(t, nil)
	fa, fb := pairInGame(t, srv, reg)

	fa.push(t, reg, &ClientClosed{Reason: "window closed"})
	m := fb.expect(t, reg, "force_close")
	if m.(*ForceClose).Reason == "" {
		t.Fatalf("partner must learn why the session died")
	}
	waitClosed(t, fa)
	waitClosed(t, fb)
}

func TestEngineFatalIsContained(t *testing.T) {
	ev := &recordEvents{}
	srv, reg, engines := testServer(t, ev)
	fa, fb := pairInGame(t, srv, reg)
	(*engines)[0].panicOnTag = "test_note"

	fa.push(t, reg, &testNote{Text: "kaboom"})
	fb.expect(t, reg, "force_close")
	waitClosed(t, fa)
	waitClosed(t, fb)

	if !srv.Running() {
		t.Fatalf("server must keep running after a session fatal")
	}
	if n := srv.metrics.Snapshot()["session_fatals"].(int64); n != 1 {
		t.Fatalf("session_fatals = %d, want 1", n)
	}
	if _, _, forced := ev.counts(); forced != 1 {
		t.Fatalf("forced = %d, want 1", forced)
	}

	// 崩溃后服务器还能开新局
	fc := dial(t, srv, "198.51.100.9:9000")
	identify(t, reg, fc, "carl")
	fc.push(t, reg, &JoinRequest{Game: "TicTacToe", Mode: ModeMulti, Strategy: JoinAuto})
	if m := fc.expect(t, reg, "join_response"); !m.(*JoinResponse).Success {
		t.Fatalf("new joins must still work")
	}
}

// pairInGame 两名玩家自动匹配进同一局并消费掉开局帧
func pairInGame(t *testing.T, srv *Server, reg *Registry) (*fakeFrame, *fakeFrame) {
	t.Helper()
	fa := dial(t, srv, "198.51.100.1:9000")
	identify(t, reg, fa, "alice")
	fa.push(t, reg, &JoinRequest{Game: "TicTacToe", Mode: ModeMulti, Strategy: JoinAuto})
	fa.expect(t, reg, "join_response")

	fb := dial(t, srv, "198.51.100.2:9000")
	identify(t, reg, fb, "bob")
	fb.push(t, reg, &JoinRequest{Game: "TicTacToe", Mode: ModeMulti, Strategy: JoinAuto})
	fb.expect(t, reg, "join_response")

	fa.expect(t, reg, "game_start")
	fb.expect(t, reg, "game_start")
	return fa, fb
}

// waitClosed 等连接进入关闭状态
func waitClosed(t *testing.T, f *fakeFrame) {
	t.Helper()
	select {
	case <-f.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("connection was not closed")
	}
}
