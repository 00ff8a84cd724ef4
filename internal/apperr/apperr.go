// Package apperr 定义了业务错误分类，以及分类到 HTTP 状态码的映射。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 是业务错误的类别。
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindUpstream
	KindGenerationParse
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindGenerationParse:
		return "generation_parse"
	default:
		return "internal"
	}
}

// Error 是带类别的业务错误。ProviderType 只在 KindUpstream 时有值，保存服务商自己的错误类型。
type Error struct {
	Kind         Kind
	Message      string
	ProviderType string
	Err          error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, apperr.ErrNotFound) 这类按类别的比较成立。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// 按类别比较用的哨兵值
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrAuthorization   = &Error{Kind: KindAuthorization}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrUpstream        = &Error{Kind: KindUpstream}
	ErrGenerationParse = &Error{Kind: KindGenerationParse}
)

func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...interface{}) error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Upstream 包装一次失败的模型服务商调用。
func Upstream(providerType, message string, err error) error {
	return &Error{Kind: KindUpstream, Message: message, ProviderType: providerType, Err: err}
}

func GenerationParse(message string, err error) error {
	return &Error{Kind: KindGenerationParse, Message: message, Err: err}
}

// KindOf 返回错误链中第一个业务错误的类别，没有则为 KindInternal。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus 把错误映射为 HTTP 状态码。
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	case KindGenerationParse:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage 返回可以展示给客户端的错误信息；内部错误不透出细节。
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "服务器内部错误"
	}
	if e.Kind == KindUpstream {
		if e.ProviderType != "" {
			return fmt.Sprintf("AI 服务调用失败 (%s): %s", e.ProviderType, e.Message)
		}
		return "AI 服务调用失败: " + e.Message
	}
	if e.Kind == KindInternal {
		return "服务器内部错误"
	}
	return e.Message
}
