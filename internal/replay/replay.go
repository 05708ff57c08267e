// Package replay turns a captured request into an addressable target that an
// external replay tool can resend. Nothing here touches the network.
package replay

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"CaptureBridge/internal/model"
)

var (
	ErrNoRequest   = errors.New("pair has no request")
	ErrInvalidHost = errors.New("invalid host")
)

// defaultPort is assumed when the agent reported no port.
const defaultPort = 443

// Target is everything needed to resend a captured request.
type Target struct {
	PairID  string `json:"pair_id"`
	Method  string `json:"method"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	TLS     bool   `json:"tls"`
	Scheme  string `json:"scheme"`
	BaseURL string `json:"base_url"`
	URL     string `json:"url"`
	Raw     []byte `json:"raw"`
}

// BuildTarget derives the replay target of pair.
func BuildTarget(pair *model.MatchedHttpPair) (*Target, error) {
	req := pair.Request()
	if req == nil || len(req.Payload) == 0 {
		return nil, fmt.Errorf("failed to build target for %s: %w", pair.ID(), ErrNoRequest)
	}
	host := stripPort(pair.Host())
	if !validHost(host) {
		return nil, fmt.Errorf("failed to build target for %s: %w %q", pair.ID(), ErrInvalidHost, host)
	}

	port := pair.Port()
	if port <= 0 {
		port = defaultPort
	}
	tls := isTLSPort(port)
	scheme := "http"
	if tls {
		scheme = "https"
	}
	base := BaseURL(scheme, host, port)

	return &Target{
		PairID:  pair.ID(),
		Method:  pair.Method(),
		Host:    host,
		Port:    port,
		TLS:     tls,
		Scheme:  scheme,
		BaseURL: base,
		URL:     joinPath(base, pair.URL()),
		Raw:     append([]byte(nil), req.Payload...),
	}, nil
}

// BaseURL renders scheme://host[:port]. Default ports and unknown ports are
// omitted.
func BaseURL(scheme, host string, port int) string {
	if port == 80 || port == 443 || port <= 0 {
		return scheme + "://" + bracketIPv6(host)
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func joinPath(base, path string) string {
	switch {
	case path == "" || path == model.Sentinel:
		return base + "/"
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		// Proxy style request line with an absolute URL.
		return path
	case strings.HasPrefix(path, "/"):
		return base + path
	default:
		return base + "/" + path
	}
}

// stripPort drops a port carried in the Host header; the captured destination
// port is used instead.
func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func validHost(host string) bool {
	return host != "" && host != model.Sentinel && host != "0.0.0.0"
}

func isTLSPort(port int) bool {
	return port == 443 || port == 8443
}

func bracketIPv6(host string) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}
	return host
}
