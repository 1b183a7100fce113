package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/erpimport/internal/core"
)

// withRequester tags ctx with the client's IP and User-Agent so import
// logs name who started them.
func withRequester(r *http.Request) context.Context {
	return core.ContextWithRequester(r.Context(), core.Requester{
		IP:        r.RemoteAddr, // already processed by chi middleware.RealIP
		UserAgent: r.UserAgent(),
		Via:       "http",
	})
}
