package server

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// frameConn 一帧一条消息的抽象：TCP 按行、WebSocket 按消息，上层不感知
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(b []byte) error
	Close() error
	RemoteAddr() net.Addr
}

// tcpFrameConn 原生 TCP：换行分帧
type tcpFrameConn struct {
	raw net.Conn
	r   *bufio.Reader
}

func newTCPFrameConn(raw net.Conn) *tcpFrameConn {
	return &tcpFrameConn{raw: raw, r: bufio.NewReaderSize(raw, 16<<10)}
}

func (t *tcpFrameConn) ReadFrame() ([]byte, error) {
	// ReadBytes 足够：单帧不超过读缓冲上限的消息占绝大多数
	line, err := t.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (t *tcpFrameConn) WriteFrame(b []byte) error {
	t.raw.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := t.raw.Write(append(b, '\n'))
	return err
}

func (t *tcpFrameConn) Close() error         { return t.raw.Close() }
func (t *tcpFrameConn) RemoteAddr() net.Addr { return t.raw.RemoteAddr() }

// Conn 一条到客户端的活动连接：读循环独占一个 goroutine，写走发送队列
type Conn struct {
	id  uint64
	fc  frameConn
	reg *Registry

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}

	mu      sync.Mutex
	player  *Player
	session *Session
	missed  int // 连续未应答的保活探测数，由 Liveness Monitor 读写
}

func newConn(id uint64, fc frameConn, reg *Registry) *Conn {
	c := &Conn{
		id:   id,
		fc:   fc,
		reg:  reg,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// writePump 独立协程：从队列写出，直到 Close；底层连接由本协程关闭，
// 这样 Close 之前已入队的告别消息（ForceClose / GameEnds）还能冲出去
func (c *Conn) writePump() {
	defer c.fc.Close()
	for {
		select {
		case b := <-c.send:
			if err := c.fc.WriteFrame(b); err != nil {
				// 写失败说明对端已不可达，由读循环的错误路径负责收尾
				return
			}
		case <-c.done:
			for {
				select {
				case b := <-c.send:
					if err := c.fc.WriteFrame(b); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// Send 编码并压入发送队列（非阻塞，队列满则丢弃，保证会话线程不被慢客户端拖住）
func (c *Conn) Send(m Message) {
	b, err := c.reg.Encode(m)
	if err != nil {
		Log.Errorf("conn %d: encode %s: %v", c.id, m.Tag(), err)
		return
	}
	c.enqueue(b)
}

func (c *Conn) enqueue(b []byte) {
	select {
	case c.send <- b:
	case <-c.done:
	default:
	}
}

// Close 幂等：通知写协程收尾并关闭底层连接，读循环随之解除阻塞
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) RemoteAddr() net.Addr { return c.fc.RemoteAddr() }

func (c *Conn) Player() *Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

func (c *Conn) bindPlayer(p *Player) {
	c.mu.Lock()
	c.player = p
	c.mu.Unlock()
}

func (c *Conn) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Conn) bindSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// markAlive 收到保活应答，清零未应答计数
func (c *Conn) markAlive() {
	c.mu.Lock()
	c.missed = 0
	c.mu.Unlock()
}

// probe 计一次探测，返回累计未应答数
func (c *Conn) probe() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missed++
	return c.missed
}
