// Package transport provides the HTTP client used for the retailer hosts. Requests to those
// hosts go over HTTP/2 with a Chrome TLS fingerprint; everything else uses a standard transport.
package transport

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// DefaultHosts are the host suffixes that receive the fingerprinted transport.
var DefaultHosts = []string{"heb.com", "hebdigital-prd.com"}

// Options configures the round tripper.
type Options struct {
	// ProxyURL routes every connection through an HTTP or SOCKS5 proxy.
	ProxyURL string
	// Hosts overrides DefaultHosts.
	Hosts []string
	// Timeout is the overall client timeout. Zero means 30s.
	Timeout time.Duration
}

// utlsRoundTripper caches one HTTP/2 connection per host.
type utlsRoundTripper struct {
	// mu protects the connections map and pending map
	mu sync.Mutex
	// connections caches HTTP/2 client connections per host
	connections map[string]*http2.ClientConn
	// pending tracks hosts that are currently being connected to
	pending map[string]*sync.Cond
	// dialer is used to create network connections, supporting proxies
	dialer proxy.Dialer
	// hosts receive the fingerprinted path
	hosts []string
	// fallback serves every other host
	fallback http.RoundTripper
}

func newUtlsRoundTripper(opts Options) *utlsRoundTripper {
	var dialer proxy.Dialer = proxy.Direct
	fallback := http.DefaultTransport.(*http.Transport).Clone()
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			log.Errorf("transport: failed to parse proxy URL %q: %v", opts.ProxyURL, err)
		} else {
			pDialer, errDialer := proxy.FromURL(proxyURL, proxy.Direct)
			if errDialer != nil {
				log.Errorf("transport: failed to create proxy dialer for %q: %v", opts.ProxyURL, errDialer)
			} else {
				dialer = pDialer
			}
			fallback.Proxy = http.ProxyURL(proxyURL)
		}
	}
	hosts := opts.Hosts
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	return &utlsRoundTripper{
		connections: make(map[string]*http2.ClientConn),
		pending:     make(map[string]*sync.Cond),
		dialer:      dialer,
		hosts:       hosts,
		fallback:    fallback,
	}
}

func (t *utlsRoundTripper) fingerprinted(hostname string) bool {
	hostname = strings.ToLower(hostname)
	for _, suffix := range t.hosts {
		suffix = strings.ToLower(strings.TrimPrefix(suffix, "."))
		if hostname == suffix || strings.HasSuffix(hostname, "."+suffix) {
			return true
		}
	}
	return false
}

// getOrCreateConnection returns a usable cached connection or dials one. Only one goroutine
// dials a given host at a time.
func (t *utlsRoundTripper) getOrCreateConnection(host, addr string) (*http2.ClientConn, error) {
	t.mu.Lock()

	if h2Conn, ok := t.connections[host]; ok && h2Conn.CanTakeNewRequest() {
		t.mu.Unlock()
		return h2Conn, nil
	}

	if cond, ok := t.pending[host]; ok {
		cond.Wait()
		if h2Conn, ok := t.connections[host]; ok && h2Conn.CanTakeNewRequest() {
			t.mu.Unlock()
			return h2Conn, nil
		}
	}

	cond := sync.NewCond(&t.mu)
	t.pending[host] = cond
	t.mu.Unlock()

	h2Conn, err := t.createConnection(host, addr)

	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, host)
	cond.Broadcast()

	if err != nil {
		return nil, err
	}
	t.connections[host] = h2Conn
	return h2Conn, nil
}

func (t *utlsRoundTripper) createConnection(host, addr string) (*http2.ClientConn, error) {
	conn, err := t.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{ServerName: host, NextProtos: []string{"h2"}}
	tlsConn := tls.UClient(conn, tlsConfig, tls.HelloChrome_Auto)

	if err = tlsConn.Handshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	tr := &http2.Transport{}
	h2Conn, err := tr.NewClientConn(tlsConn)
	if err != nil {
		_ = tlsConn.Close()
		return nil, err
	}
	return h2Conn, nil
}

// RoundTrip implements http.RoundTripper
func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	hostname := req.URL.Hostname()
	if req.URL.Scheme != "https" || !t.fingerprinted(hostname) {
		return t.fallback.RoundTrip(req)
	}
	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr += ":443"
	}

	h2Conn, err := t.getOrCreateConnection(hostname, addr)
	if err != nil {
		return nil, err
	}

	resp, err := h2Conn.RoundTrip(req)
	if err != nil {
		t.mu.Lock()
		if cached, ok := t.connections[hostname]; ok && cached == h2Conn {
			delete(t.connections, hostname)
		}
		t.mu.Unlock()
		return nil, err
	}
	return resp, nil
}

// NewHTTPClient creates the client used for retailer GraphQL and page requests.
func NewHTTPClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: newUtlsRoundTripper(opts),
		Timeout:   timeout,
	}
}
