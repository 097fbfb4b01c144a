package proxy

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/http"
)

func getTargetURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}

	// Reconstruct URL from Host header
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.String())
}

// dumbResponseWriter lets goproxy hijack a raw connection accepted by the
// transparent HTTPS listener
type dumbResponseWriter struct {
	net.Conn
}

func (dumb dumbResponseWriter) Header() http.Header {
	return make(http.Header)
}

func (dumb dumbResponseWriter) Write(buf []byte) (int, error) {
	// The CONNECT acknowledgement is meaningless for a transparent client
	for _, ack := range connectAcks {
		if bytes.Equal(buf, ack) {
			return len(buf), nil
		}
	}
	return dumb.Conn.Write(buf)
}

var connectAcks = [][]byte{
	[]byte("HTTP/1.0 200 OK\r\n\r\n"),
	[]byte("HTTP/1.0 200 Connection established\r\n\r\n"),
}

func (dumb dumbResponseWriter) WriteHeader(code int) {}

func (dumb dumbResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return dumb, bufio.NewReadWriter(bufio.NewReader(dumb), bufio.NewWriter(dumb)), nil
}
