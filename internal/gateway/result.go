package gateway

import (
	"fmt"
	"sort"
	"strings"
)

// Result kinds. Every remote call resolves to exactly one of these; a
// transport failure is never reported as an empty success.
const (
	KindSuccess      = "success"
	KindHTTPError    = "http_error"
	KindNetworkError = "network_error"
)

// Result is the discriminated outcome of a remote call.
//
// success:       2xx; Data holds the parsed body.
// http_error:    non-2xx; Status and Messages describe the rejection.
// network_error: the request never produced a response; Cause holds the
//                transport error and Timeout marks deadline expiry.
type Result struct {
	Kind     string
	Status   int
	Data     map[string]any
	Messages []string
	Cause    error
	Timeout  bool
}

// OK reports whether the call succeeded at the transport and HTTP level.
// Application-level rejections inside a 2xx body are the caller's concern;
// see ApplicationErrors.
func (r Result) OK() bool {
	return r.Kind == KindSuccess
}

// ID returns the created/patched resource id from the response body.
func (r Result) ID() string {
	if r.Data == nil {
		return ""
	}
	id, _ := r.Data["id"].(string)
	return id
}

// Field returns a top-level string field from the response body.
func (r Result) Field(name string) string {
	if r.Data == nil {
		return ""
	}
	v, _ := r.Data[name].(string)
	return v
}

// ApplicationErrors extracts error messages reported inside a 2xx body
// under error.errors. An empty slice means the submission was accepted.
func (r Result) ApplicationErrors() []string {
	if r.Data == nil {
		return nil
	}
	errObj, ok := r.Data["error"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := errObj["errors"].([]any)
	if !ok {
		return nil
	}
	msgs := make([]string, 0, len(raw))
	for _, e := range raw {
		msgs = append(msgs, fmt.Sprint(e))
	}
	return msgs
}

// JoinedMessages joins the rejection messages for display.
func (r Result) JoinedMessages() string {
	return strings.Join(r.Messages, ", ")
}

func successResult(status int, data map[string]any) Result {
	return Result{Kind: KindSuccess, Status: status, Data: data}
}

func httpErrorResult(status int, data map[string]any) Result {
	return Result{
		Kind:     KindHTTPError,
		Status:   status,
		Data:     data,
		Messages: extractMessages(data),
	}
}

func networkErrorResult(err error, timeout bool) Result {
	return Result{Kind: KindNetworkError, Cause: err, Timeout: timeout}
}

// extractMessages pulls human-readable messages out of an error body: the
// top-level "error" string when present, otherwise all top-level values in
// key order.
func extractMessages(data map[string]any) []string {
	if len(data) == 0 {
		return nil
	}
	if msg, ok := data["error"].(string); ok && msg != "" {
		return []string{msg}
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, fmt.Sprint(data[k]))
	}
	return msgs
}
