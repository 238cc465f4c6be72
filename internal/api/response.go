package api

import (
	"net"
	"net/http"

	"github.com/go-chi/render"
)

// Response is the envelope for every JSON reply. Flow endpoints set exactly
// one of Success or Error; read endpoints set Data.
type Response struct {
	Success  string            `json:"success,omitempty"`
	Error    string            `json:"error,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Redirect string            `json:"redirect,omitempty"`
	Data     any               `json:"data,omitempty"`
}

func Success(msg string) Response {
	return Response{Success: msg}
}

func Error(msg string) Response {
	return Response{Error: msg}
}

func Data(v any) Response {
	return Response{Data: v}
}

// JSON writes resp with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, resp Response) {
	render.Status(r, status)
	render.JSON(w, r, resp)
}

// ClientIP returns the host part of r.RemoteAddr. The server's proxy-aware
// middleware has already replaced it with the forwarded address when the peer
// is a trusted proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
