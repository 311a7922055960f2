package aggregator

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/vyrodovalexey/svcgw/internal/proxy"
)

// Request holds the inbound request data shared by every call of an
// aggregation. It is extracted once per request.
type Request struct {
	Method     string
	Header     http.Header
	Query      url.Values
	Body       []byte
	PathParams map[string]string
	ClientIP   string
	Host       string
	Proto      string

	// Route is sent to backends as X-Gateway-Route.
	Route string
}

// NewRequest extracts the shared call data from r. The body is read up to
// maxBody bytes.
func NewRequest(r *http.Request, pathParams map[string]string, clientIP string, maxBody int64) (*Request, error) {
	req := &Request{
		Method:     r.Method,
		Header:     r.Header.Clone(),
		Query:      r.URL.Query(),
		PathParams: pathParams,
		ClientIP:   clientIP,
		Host:       r.Host,
		Proto:      "http",
	}
	if r.TLS != nil {
		req.Proto = "https"
	}
	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		if int64(len(body)) > maxBody {
			return nil, fmt.Errorf("%w: limit is %d bytes", proxy.ErrRequestTooLarge, maxBody)
		}
		req.Body = body
	}
	return req, nil
}

// params merges query and path parameters. Path parameters win.
func (r *Request) params() map[string]string {
	out := make(map[string]string, len(r.Query)+len(r.PathParams))
	for k, vs := range r.Query {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	for k, v := range r.PathParams {
		out[k] = v
	}
	return out
}

// carriesBody reports whether method sends the inbound body along.
func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
