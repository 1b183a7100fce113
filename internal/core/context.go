package core

import "context"

type contextKey string

const ctxKeyRequester contextKey = "import_requester"

// Requester identifies who triggered an import, for the import log.
type Requester struct {
	IP        string
	UserAgent string
	Via       string // "http" or "cli"
}

// ContextWithRequester attaches requester details to ctx.
func ContextWithRequester(ctx context.Context, r Requester) context.Context {
	return context.WithValue(ctx, ctxKeyRequester, r)
}

// RequesterFromContext returns the requester stored in ctx, if any.
func RequesterFromContext(ctx context.Context) (Requester, bool) {
	r, ok := ctx.Value(ctxKeyRequester).(Requester)
	return r, ok
}

// logAttrs returns requester details as slog key-value pairs.
func (r Requester) logAttrs() []any {
	attrs := []any{"via", r.Via}
	if r.IP != "" {
		attrs = append(attrs, "ip", r.IP)
	}
	if r.UserAgent != "" {
		attrs = append(attrs, "user_agent", r.UserAgent)
	}
	return attrs
}
