package handlers

import (
	"net/http"
	"strings"

	"tutorbff/pkg/backend"
)

// ProxyPrefix is the browser-facing mount point of the generic proxy.
const ProxyPrefix = "/bff"

// Proxy forwards /bff/{path} to the backend's /{path}/ with the session's
// credentials, refreshing them once on 401.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, ProxyPrefix), "/")
	if path == "" {
		writeError(w, http.StatusNotFound, typeError, "not found")
		return
	}

	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		var ok bool
		if body, ok = readBody(w, r, h.maxBodyBytes); !ok {
			return
		}
	}

	h.forward(w, r, "proxy", bffRequest(r.Method, "/"+path+"/", r.URL.RawQuery, body, r.Header.Get("Content-Type")))
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request, action string, req backend.Request) {
	res, err := h.Service.Forward(r.Context(), h.Cookie.Read(r), req)
	if res != nil && res.Rotated {
		h.Cookie.Set(w, res.Ref, res.Session.TTL(h.now()))
	}
	if err != nil {
		h.fail(w, r, action, err)
		return
	}
	relay(w, h.Logger, res.Response)
}

func bffRequest(method, path, rawQuery string, body []byte, contentType string) backend.Request {
	if contentType == "" {
		contentType = contentJSON
	}
	return backend.Request{
		Method:      method,
		Path:        path,
		RawQuery:    rawQuery,
		Body:        body,
		ContentType: contentType,
	}
}
