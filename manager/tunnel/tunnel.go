// Package tunnel implements the stream side of the emulation: a guest that
// believes it is writing an HTTP request into a TCP socket is really filling
// a buffer here. Once the buffered bytes form a complete request, one real
// outbound fetch is issued and the full response is serialized back into
// bytes for the guest to read incrementally.
package tunnel

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	gohttp "net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// headerTerminator is the blank line that ends the header block of a text
// request; its presence marks the buffered request as complete.
var headerTerminator = []byte("\r\n\r\n")

// Complete reports whether buf contains a full request (request line plus
// all headers). The request body, if any, plays no part in detection.
func Complete(buf []byte) bool {
	return bytes.Contains(buf, headerTerminator)
}

// Request is one tunneled request recovered from a socket's outbound
// accumulator. Host and Port come from the connect call, not the bytes.
type Request struct {
	Method string
	Path   string
	Header gohttp.Header
	Host   string
	Port   uint16
}

// Parse recovers the method, path and headers from the accumulated bytes.
// The caller must have checked Complete first.
func Parse(buf []byte, host string, port uint16) (*Request, error) {
	req, err := gohttp.ReadRequest(bufio.NewReader(bytes.NewReader(buf)))
	if err != nil {
		return nil, errors.Wrap(err, "parse tunneled request")
	}
	return &Request{
		Method: req.Method,
		Path:   req.URL.RequestURI(),
		Header: req.Header,
		Host:   host,
		Port:   port,
	}, nil
}

// Fetcher performs the one real network operation of the tunnel. Fetch
// returns the response already serialized into the bytes the guest will
// read. Implementations must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) ([]byte, error)
}

// HTTPFetcher is the production Fetcher: a net/http client per authority,
// kept in a bounded LRU so idle connection pools don't pile up across the
// hosts an engine session touches.
type HTTPFetcher struct {
	clients *lru.Cache[string, *gohttp.Client]
}

// NewHTTPFetcher creates a fetcher with an empty client cache.
func NewHTTPFetcher() *HTTPFetcher {
	clients, _ := lru.New[string, *gohttp.Client](32)
	return &HTTPFetcher{clients: clients}
}

func (f *HTTPFetcher) client(authority string) *gohttp.Client {
	if client, ok := f.clients.Get(authority); ok {
		return client
	}

	transport := gohttp.DefaultTransport.(*gohttp.Transport).Clone()
	transport.Proxy = gohttp.ProxyFromEnvironment
	transport.DialContext = (&net.Dialer{
		KeepAlive: 30 * time.Second,
	}).DialContext

	// Redirects stay visible to the guest; its own connection logic
	// decides whether to follow them.
	client := &gohttp.Client{
		Transport: transport,
		CheckRedirect: func(req *gohttp.Request, via []*gohttp.Request) error {
			return gohttp.ErrUseLastResponse
		},
	}

	f.clients.Add(authority, client)
	return client
}

// Fetch issues the outbound request and serializes the full response.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) ([]byte, error) {
	scheme := "http"
	if req.Port == 443 {
		scheme = "https"
	}
	authority := req.Host
	if req.Port != 0 && req.Port != 80 && req.Port != 443 {
		authority = net.JoinHostPort(req.Host, strconv.Itoa(int(req.Port)))
	}
	url := fmt.Sprintf("%s://%s%s", scheme, authority, req.Path)

	goReq, err := gohttp.NewRequestWithContext(ctx, req.Method, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "build request for %s", url)
	}
	for k, vv := range req.Header {
		if k == "Host" {
			continue
		}
		for _, v := range vv {
			goReq.Header.Add(k, v)
		}
	}

	resp, err := f.client(authority).Do(goReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response body")
	}

	return Serialize(resp.Status, resp.Header, body), nil
}

// Serialize renders a response the way the guest expects to read it off a
// socket: status line, headers, a Content-Length derived from the actual
// body size, blank line, body. Any transport-level Content-Length is
// replaced so the advertised size always matches the buffered bytes.
func Serialize(status string, header gohttp.Header, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(status)
	buf.WriteString("\r\n")

	h := header.Clone()
	if h == nil {
		h = make(gohttp.Header)
	}
	h.Del("Content-Length")
	h.Write(&buf) // writes "Key: value\r\n" lines in sorted key order

	buf.WriteString("Content-Length: ")
	buf.WriteString(strconv.Itoa(len(body)))
	buf.WriteString("\r\n\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// InternalErrorResponse is the substitute response stored when the outbound
// fetch itself fails, so the guest always has something coherent to read
// instead of hanging on an empty buffer.
func InternalErrorResponse() []byte {
	return []byte("HTTP/1.1 500 Internal Server Error\r\nContent-Length: 0\r\n\r\n")
}
