package server

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// 共享的测试桩：内存里的 frameConn，读写都走通道

type fakeAddr struct{ s string }

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return a.s }

type fakeFrame struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	addr   net.Addr
}

func newFakeFrame(addr string) *fakeFrame {
	return &fakeFrame{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
		addr:   fakeAddr{s: addr},
	}
}

func (f *fakeFrame) ReadFrame() ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

// WriteFrame 不看 closed：关闭前入队的告别消息必须可观测，测试才不抖
func (f *fakeFrame) WriteFrame(b []byte) error {
	select {
	case f.out <- b:
		return nil
	default:
		return io.ErrShortWrite
	}
}

func (f *fakeFrame) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeFrame) RemoteAddr() net.Addr { return f.addr }

// push 把一条消息编码后塞进读方向
func (f *fakeFrame) push(t *testing.T, reg *Registry, m Message) {
	t.Helper()
	b, err := reg.Encode(m)
	if err != nil {
		t.Fatalf("encode %s: %v", m.Tag(), err)
	}
	f.in <- b
}

// expect 等待写方向出现指定标签的帧（跳过途中的其他帧会导致漏测，这里不跳）
func (f *fakeFrame) expect(t *testing.T, reg *Registry, tag string) Message {
	t.Helper()
	select {
	case b := <-f.out:
		m, err := reg.Decode(b)
		if err != nil {
			t.Fatalf("decode outbound frame: %v", err)
		}
		if m.Tag() != tag {
			t.Fatalf("outbound frame = %s, want %s", m.Tag(), tag)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", tag)
		return nil
	}
}

// expectNone 断言一段时间内没有任何出帧
func (f *fakeFrame) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case b := <-f.out:
		t.Fatalf("unexpected outbound frame: %s", b)
	case <-time.After(d):
	}
}

// recordEvents 统计生命周期事件次数
type recordEvents struct {
	mu      sync.Mutex
	starts  int
	ends    int
	forced  int
	reasons []string
}

func (r *recordEvents) OnGameStart(*Session) {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
}

func (r *recordEvents) OnGameEnd(_ *Session, reason string) {
	r.mu.Lock()
	r.ends++
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
}

func (r *recordEvents) OnForceClose(_ *Session, reason string) {
	r.mu.Lock()
	r.forced++
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
}

func (r *recordEvents) counts() (starts, ends, forced int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.ends, r.forced
}
