package server

import (
	"testing"
	"time"
)

// answerProbes 独占消费 f 的出帧：保活就应答，其余转给 rest 供断言
func answerProbes(t *testing.T, reg *Registry, f *fakeFrame, stop chan struct{}) chan Message {
	t.Helper()
	rest := make(chan Message, 16)
	go func() {
		for {
			select {
			case b := <-f.out:
				m, err := reg.Decode(b)
				if err != nil {
					continue
				}
				if ka, ok := m.(*KeepAlive); ok {
					echo, _ := reg.Encode(&KeepAlive{Sent: ka.Sent, Answer: time.Now().UnixMilli()})
					select {
					case f.in <- echo:
					case <-stop:
						return
					}
					continue
				}
				select {
				case rest <- m:
				case <-stop:
					return
				}
			case <-stop:
				return
			}
		}
	}()
	return rest
}

// 保活收割：不应答探测的连接被关掉，其会话只收到一次终止广播
func TestLivenessReapsSilentConnection(t *testing.T) {
	ev := &recordEvents{}
	srv, reg, _ := testServer(t, ev)
	srv.cfg.KeepAliveInterval = 20 * time.Millisecond
	srv.cfg.MaxMissedProbes = 2

	fa, fb := pairInGame(t, srv, reg)

	stop := make(chan struct{})
	defer close(stop)
	rest := answerProbes(t, reg, fb, stop) // bob 持续应答探测
	go func() {                           // alice 装死，只消费不回
		for {
			select {
			case <-fa.out:
			case <-stop:
				return
			}
		}
	}()

	go srv.livenessLoop()
	defer srv.Stop()

	select {
	case m := <-rest:
		fc, ok := m.(*ForceClose)
		if !ok {
			t.Fatalf("partner got %s, want force_close", m.Tag())
		}
		if fc.Reason == "" {
			t.Fatalf("reap notice must carry a reason")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("silent connection was never reaped")
	}
	waitClosed(t, fa)
	waitClosed(t, fb)

	// 终态吸收：不会有第二次终止广播
	select {
	case m := <-rest:
		t.Fatalf("unexpected extra broadcast after termination: %s", m.Tag())
	case <-time.After(200 * time.Millisecond):
	}
	if _, _, forced := ev.counts(); forced != 1 {
		t.Fatalf("forced = %d, want exactly 1", forced)
	}
	if n := srv.metrics.Snapshot()["reaped"].(int64); n < 1 {
		t.Fatalf("reaped = %d, want >= 1", n)
	}
}

// 按时应答的连接不会被收割
func TestLivenessSparesResponsiveConnection(t *testing.T) {
	srv, reg, _ := testServer(t, nil)
	srv.cfg.KeepAliveInterval = 20 * time.Millisecond
	srv.cfg.MaxMissedProbes = 2

	f := dial(t, srv, "198.51.100.1:9000")
	identify(t, reg, f, "alice")

	stop := make(chan struct{})
	defer close(stop)
	answerProbes(t, reg, f, stop)

	go srv.livenessLoop()
	defer srv.Stop()

	time.Sleep(200 * time.Millisecond) // 远超 MaxMissedProbes 个探测周期
	select {
	case <-f.closed:
		t.Fatalf("responsive connection was reaped")
	default:
	}
	if n := srv.metrics.Snapshot()["reaped"].(int64); n != 0 {
		t.Fatalf("reaped = %d, want 0", n)
	}
}
