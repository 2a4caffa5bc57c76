package server

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message 所有可上线的消息都实现该接口；Tag 即注册表里的类型标签
type Message interface {
	Tag() string
}

// envelope 线上信封：一行一条 JSON，t 为类型标签，m 为具体字段
// 示例：{"t":"identify","m":{"login":"alice","password":"pw"}}
type envelope struct {
	T string          `json:"t"`
	M json.RawMessage `json:"m,omitempty"`
}

// DecodeErrorKind 区分两类解码失败
type DecodeErrorKind int

const (
	// DecodeMalformed 信封本身不是合法 JSON，或缺少类型标签
	DecodeMalformed DecodeErrorKind = iota
	// DecodeUnknownType 标签未注册
	DecodeUnknownType
)

// DecodeError 解码失败：对连接非致命，回 BadInput 后继续收
type DecodeError struct {
	Kind DecodeErrorKind
	Raw  string
	Err  error
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case DecodeUnknownType:
		return fmt.Sprintf("unknown message tag %q", e.Raw)
	default:
		return fmt.Sprintf("malformed envelope: %v", e.Err)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Registry 标签 → 工厂函数 的注册表；启动期填充，运行期只读
type Registry struct {
	factories map[string]func() Message
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Message)}
}

// Register 注册一种消息形状；重复注册同一标签属于编程错误，直接 panic
func (r *Registry) Register(tag string, f func() Message) {
	if tag == "" {
		panic("register: empty message tag")
	}
	if _, dup := r.factories[tag]; dup {
		panic("register: duplicate message tag " + tag)
	}
	r.factories[tag] = f
}

// Known 查询某标签是否已注册
func (r *Registry) Known(tag string) bool {
	_, ok := r.factories[tag]
	return ok
}

// Encode 编码为一行信封（不含换行符，成帧由连接层负责）
func (r *Registry) Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Tag(), err)
	}
	return json.Marshal(envelope{T: m.Tag(), M: body})
}

// Decode 两段式解码：先取出标签定形状，再把字段解析进去
// 两段是必须的 —— 收端要先知道解析成哪种形状，标签就在载荷自身里
func (r *Registry) Decode(line []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(bytes.TrimSpace(line), &env); err != nil {
		return nil, &DecodeError{Kind: DecodeMalformed, Raw: string(line), Err: err}
	}
	if env.T == "" {
		return nil, &DecodeError{Kind: DecodeMalformed, Raw: string(line), Err: fmt.Errorf("missing tag")}
	}
	f, ok := r.factories[env.T]
	if !ok {
		return nil, &DecodeError{Kind: DecodeUnknownType, Raw: env.T}
	}
	msg := f()
	if len(env.M) > 0 {
		if err := json.Unmarshal(env.M, msg); err != nil {
			return nil, &DecodeError{Kind: DecodeMalformed, Raw: string(line), Err: err}
		}
	}
	return msg, nil
}
