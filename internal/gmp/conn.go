package gmp

import (
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"net"
	"strings"
	"time"
)

// conn is one GMP session: a TLS socket to gvmd with an XML decoder
// positioned between response documents. Commands are strictly
// request/response, one at a time.
type conn struct {
	sock    *tls.Conn
	dec     *xml.Decoder
	timeout time.Duration
}

func dialGMP(addr string, timeout time.Duration) (*conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	// gvmd ships a self-signed certificate; GMP deployments authenticate
	// with credentials inside the session, not via the cert chain.
	sock, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, classifyTransport(err)
	}

	return &conn{
		sock:    sock,
		dec:     xml.NewDecoder(sock),
		timeout: timeout,
	}, nil
}

func (c *conn) close() {
	if c.sock != nil {
		_ = c.sock.Close()
	}
}

// roundTrip marshals the command, writes it, and decodes the next response
// element into resp. The whole exchange shares one deadline.
func (c *conn) roundTrip(cmd, resp interface{}) error {
	if err := c.sock.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return classifyTransport(err)
	}

	payload, err := xml.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("%w: marshaling command: %v", ErrProtocol, err)
	}

	if _, err := c.sock.Write(payload); err != nil {
		return classifyTransport(err)
	}

	if err := c.dec.Decode(resp); err != nil {
		if isNetError(err) {
			return classifyTransport(err)
		}
		return fmt.Errorf("%w: decoding response: %v", ErrProtocol, err)
	}
	return nil
}

func isNetError(err error) bool {
	if _, ok := err.(net.Error); ok {
		return true
	}
	// xml.Decoder wraps read errors as SyntaxError with the cause text.
	return strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "EOF")
}

// gmpStatus carries the status attributes common to every GMP response.
type gmpStatus struct {
	Status     string `xml:"status,attr"`
	StatusText string `xml:"status_text,attr"`
}

func (s gmpStatus) ok() bool {
	return strings.HasPrefix(s.Status, "2")
}

func (s gmpStatus) err(op string) error {
	if s.Status == "400" && strings.Contains(strings.ToLower(s.StatusText), "authenticat") {
		return fmt.Errorf("%w: %s", ErrAuthFailed, s.StatusText)
	}
	return fmt.Errorf("%w: %s returned status %s (%s)", ErrProtocol, op, s.Status, s.StatusText)
}
