package code

import (
	"errors"
	"fmt"
	"strings"
)

// Kind error category, decides how callers react
// Kind 错误分类，决定调用方如何处理
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound schedule, volume or repository missing; terminal, no retry
	KindNotFound
	// KindInvalidState configuration prevents the operation; caller must fix it
	KindInvalidState
	// KindConflict operation clashes with one already running; no state change
	KindConflict
	// KindEngine backup engine exited with a failure code
	KindEngine
	// KindAborted cooperative cancellation
	KindAborted
	// KindBadRequest malformed input
	KindBadRequest
	// KindInternal infrastructure failure
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindConflict:
		return "conflict"
	case KindEngine:
		return "engine_error"
	case KindAborted:
		return "aborted"
	case KindBadRequest:
		return "bad_request"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

type Code struct {
	// 错误码
	code int
	// 分类
	kind Kind
	// 错误消息
	Lang lang
	// 错误详细信息
	details []string
}

var codes = map[int]string{}

// NewError registers a new error code, panics on duplicates
// NewError 注册错误码，重复时 panic
func NewError(code int, kind Kind, l lang) *Code {
	if _, ok := codes[code]; ok {
		panic(fmt.Sprintf("错误码 %d 已经存在，请更换一个", code))
	}
	codes[code] = l.GetMessage()
	return &Code{code: code, kind: kind, Lang: l}
}

// Clone 创建一个新的 Code 副本
func (e *Code) Clone() *Code {
	return &Code{
		code:    e.code,
		kind:    e.kind,
		Lang:    e.Lang,
		details: []string{},
	}
}

func (e *Code) Error() string {
	if len(e.details) == 0 {
		return e.Msg()
	}
	return e.Msg() + ": " + strings.Join(e.details, "; ")
}

// Canonical returns the English message with details, whatever the active language.
// Canonical 返回英文消息，用于写入数据库等需要稳定文本的场景
func (e *Code) Canonical() string {
	msg := e.Lang.en
	if msg == "" {
		msg = e.Msg()
	}
	if len(e.details) == 0 {
		return msg
	}
	return msg + ": " + strings.Join(e.details, "; ")
}

// StoredMessage is the text persisted for err: canonical for a bare *Code, Error() otherwise
func StoredMessage(err error) string {
	if err == nil {
		return ""
	}
	if c, ok := err.(*Code); ok {
		return c.Canonical()
	}
	return err.Error()
}

func (e *Code) Code() int {
	return e.code
}

func (e *Code) Kind() Kind {
	return e.kind
}

func (e *Code) Msg() string {
	return e.Lang.GetMessage()
}

func (e *Code) Details() []string {
	return e.details
}

// WithDetails returns a copy carrying details; registered codes stay untouched
// WithDetails 返回带详情的副本，不修改全局错误码
func (e *Code) WithDetails(details ...string) *Code {
	c := e.Clone()
	c.details = append(c.details, details...)
	return c
}

// Is matches any *Code with the same numeric code, so errors.Is works on clones
func (e *Code) Is(target error) bool {
	var t *Code
	if errors.As(target, &t) {
		return t.code == e.code
	}
	return false
}

type kinded interface {
	Kind() Kind
}

// KindOf walks the error chain and returns the first category found
// KindOf 沿错误链查找错误分类
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsInvalidState(err error) bool { return KindOf(err) == KindInvalidState }
func IsConflict(err error) bool     { return KindOf(err) == KindConflict }
func IsAborted(err error) bool      { return KindOf(err) == KindAborted }
func IsEngine(err error) bool       { return KindOf(err) == KindEngine }
