package report

import "fmt"

// ContextKind discriminates the error context union.
type ContextKind string

const (
	KindBrowser  ContextKind = "browser"
	KindUser     ContextKind = "user"
	KindNetwork  ContextKind = "network"
	KindPromise  ContextKind = "promise"
	KindResource ContextKind = "resource"

	// KindUnknown marks a context that matched no variant (or more than
	// one). Callers must treat it as malformed input.
	KindUnknown ContextKind = "unknown"
)

// ErrorContext is a tagged union: Kind names the populated variant and
// exactly one variant pointer is non-nil. The discriminant is set at
// construction time, so consumers never infer the variant from field
// presence.
type ErrorContext struct {
	Kind ContextKind `json:"kind"`

	Browser  *BrowserContext  `json:"browser,omitempty"`
	User     *UserContext     `json:"user,omitempty"`
	Network  *NetworkContext  `json:"network,omitempty"`
	Promise  *PromiseContext  `json:"promise,omitempty"`
	Resource *ResourceContext `json:"resource,omitempty"`
}

// BrowserContext describes an uncaught script error.
type BrowserContext struct {
	Filename  string `json:"filename"`
	Line      int    `json:"line"`
	Col       int    `json:"col"`
	Error     string `json:"error,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	URL       string `json:"url,omitempty"`
}

// UserContext describes an error raised during a user action.
type UserContext struct {
	UserID    string `json:"user_id"`
	Action    string `json:"action"`
	SessionID string `json:"session_id"`
}

// NetworkContext describes a failed request.
type NetworkContext struct {
	URL            string  `json:"url"`
	Method         string  `json:"method"`
	StatusCode     int     `json:"status_code"`
	ResponseTimeMs float64 `json:"response_time_ms"`
}

// PromiseContext describes an unhandled promise rejection.
type PromiseContext struct {
	Reason    string `json:"reason"`
	PromiseID string `json:"promise_id,omitempty"`
}

// ResourceContext describes a failed resource load.
type ResourceContext struct {
	ResourceType string  `json:"resource_type"`
	ResourceURL  string  `json:"resource_url"`
	LoadTimeMs   float64 `json:"load_time_ms"`
}

// Variant constructors set the discriminant so callers cannot build a
// context whose Kind disagrees with its payload.

func NewBrowserContext(c BrowserContext) ErrorContext {
	return ErrorContext{Kind: KindBrowser, Browser: &c}
}

func NewUserContext(c UserContext) ErrorContext {
	return ErrorContext{Kind: KindUser, User: &c}
}

func NewNetworkContext(c NetworkContext) ErrorContext {
	return ErrorContext{Kind: KindNetwork, Network: &c}
}

func NewPromiseContext(c PromiseContext) ErrorContext {
	return ErrorContext{Kind: KindPromise, Promise: &c}
}

func NewResourceContext(c ResourceContext) ErrorContext {
	return ErrorContext{Kind: KindResource, Resource: &c}
}

// Valid reports whether the Kind matches the single populated variant.
func (c ErrorContext) Valid() bool {
	populated := 0
	var kind ContextKind
	if c.Browser != nil {
		populated++
		kind = KindBrowser
	}
	if c.User != nil {
		populated++
		kind = KindUser
	}
	if c.Network != nil {
		populated++
		kind = KindNetwork
	}
	if c.Promise != nil {
		populated++
		kind = KindPromise
	}
	if c.Resource != nil {
		populated++
		kind = KindResource
	}
	return populated == 1 && kind == c.Kind
}

// Discriminating fields per variant for untagged beacon payloads.
// Shared fields (url, error, message, user_agent) deliberately appear in
// no set so they cannot cause double classification.
var discriminators = map[ContextKind][]string{
	KindBrowser:  {"filename", "line", "col"},
	KindUser:     {"user_id", "action", "session_id"},
	KindNetwork:  {"method", "status_code", "response_time_ms"},
	KindPromise:  {"reason", "promise_id"},
	KindResource: {"resource_type", "resource_url", "load_time_ms"},
}

// Classify determines the variant of an untagged context payload by
// structural inference. A payload must contain at least one of a
// variant's discriminating fields and none of any other variant's.
// Anything else is KindUnknown. Pure function.
func Classify(fields map[string]any) ContextKind {
	matched := KindUnknown
	for kind, keys := range discriminators {
		if hasAny(fields, keys) {
			if matched != KindUnknown {
				return KindUnknown
			}
			matched = kind
		}
	}
	return matched
}

func hasAny(fields map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := fields[k]; ok {
			return true
		}
	}
	return false
}

// ParseContext builds a tagged ErrorContext from an untagged beacon
// payload. Returns an error for payloads Classify rejects.
func ParseContext(fields map[string]any) (ErrorContext, error) {
	switch Classify(fields) {
	case KindBrowser:
		return NewBrowserContext(BrowserContext{
			Filename:  asString(fields["filename"]),
			Line:      asInt(fields["line"]),
			Col:       asInt(fields["col"]),
			Error:     asString(fields["error"]),
			UserAgent: asString(fields["user_agent"]),
			URL:       asString(fields["url"]),
		}), nil
	case KindUser:
		return NewUserContext(UserContext{
			UserID:    asString(fields["user_id"]),
			Action:    asString(fields["action"]),
			SessionID: asString(fields["session_id"]),
		}), nil
	case KindNetwork:
		return NewNetworkContext(NetworkContext{
			URL:            asString(fields["url"]),
			Method:         asString(fields["method"]),
			StatusCode:     asInt(fields["status_code"]),
			ResponseTimeMs: asFloat(fields["response_time_ms"]),
		}), nil
	case KindPromise:
		return NewPromiseContext(PromiseContext{
			Reason:    asString(fields["reason"]),
			PromiseID: asString(fields["promise_id"]),
		}), nil
	case KindResource:
		return NewResourceContext(ResourceContext{
			ResourceType: asString(fields["resource_type"]),
			ResourceURL:  asString(fields["resource_url"]),
			LoadTimeMs:   asFloat(fields["load_time_ms"]),
		}), nil
	}
	return ErrorContext{}, fmt.Errorf("context matches no known variant")
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
