package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrBackendTimeout 后端在时限内未响应
	ErrBackendTimeout = errors.New("backend timeout")
	// ErrBackendUnavailable 后端不可达或返回服务端错误
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// BackendError 带分类的后端错误
// BackendError is a classified backend failure.
type BackendError struct {
	Kind   error
	Status int // HTTP status, 0 when none was received
	Err    error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%v (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() []error { return []error{e.Kind, e.Err} }

// statusError is a non-2xx reply from the compat endpoint.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// Classify 将底层错误映射为 ErrBackendTimeout / ErrBackendUnavailable
// Classify maps a transport or API failure onto the backend error taxonomy.
// Cancellation by the caller and client-side request errors (4xx other than
// 429) are returned unchanged. Already classified errors pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &BackendError{Kind: ErrBackendTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &BackendError{Kind: ErrBackendTimeout, Err: err}
	}

	if status := statusOf(err); status != 0 {
		if status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout {
			return &BackendError{Kind: ErrBackendTimeout, Status: status, Err: err}
		}
		if status >= 500 || status == http.StatusTooManyRequests {
			return &BackendError{Kind: ErrBackendUnavailable, Status: status, Err: err}
		}
		return err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &BackendError{Kind: ErrBackendUnavailable, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &BackendError{Kind: ErrBackendUnavailable, Err: err}
	}
	return err
}

func statusOf(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
