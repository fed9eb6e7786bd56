// Package server holds infrastructure shared by the protocol listeners.
package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/willowmail/willow/logger"
)

// ConnectionLimiter enforces total and per-IP connection limits for one
// protocol server. A zero limit disables the corresponding check.
type ConnectionLimiter struct {
	protocol     string
	maxTotal     int
	maxPerIP     int
	currentTotal atomic.Int64

	mu    sync.Mutex
	perIP map[string]int
}

// NewConnectionLimiter creates a limiter for the named protocol.
func NewConnectionLimiter(protocol string, maxTotal, maxPerIP int) *ConnectionLimiter {
	return &ConnectionLimiter{
		protocol: protocol,
		maxTotal: maxTotal,
		maxPerIP: maxPerIP,
		perIP:    make(map[string]int),
	}
}

// Accept reserves a connection slot for remoteAddr. It returns a release
// function to be called exactly once when the connection closes, or an
// error when a limit is exceeded.
func (cl *ConnectionLimiter) Accept(remoteAddr net.Addr) (func(), error) {
	ip := ipFromAddr(remoteAddr)

	if cl.maxTotal > 0 {
		if total := cl.currentTotal.Add(1); total > int64(cl.maxTotal) {
			cl.currentTotal.Add(-1)
			return nil, fmt.Errorf("%s: maximum connections (%d) reached", cl.protocol, cl.maxTotal)
		}
	} else {
		cl.currentTotal.Add(1)
	}

	if cl.maxPerIP > 0 && ip != "" {
		cl.mu.Lock()
		if cl.perIP[ip] >= cl.maxPerIP {
			cl.mu.Unlock()
			cl.currentTotal.Add(-1)
			return nil, fmt.Errorf("%s: maximum connections per IP (%d) reached for %s", cl.protocol, cl.maxPerIP, ip)
		}
		cl.perIP[ip]++
		cl.mu.Unlock()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			cl.currentTotal.Add(-1)
			if cl.maxPerIP > 0 && ip != "" {
				cl.mu.Lock()
				if cl.perIP[ip] <= 1 {
					delete(cl.perIP, ip)
				} else {
					cl.perIP[ip]--
				}
				cl.mu.Unlock()
			}
		})
	}
	return release, nil
}

// Total returns the number of currently reserved slots.
func (cl *ConnectionLimiter) Total() int64 {
	return cl.currentTotal.Load()
}

func ipFromAddr(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		logger.Debug("connection limiter: unparseable remote address", "addr", addr.String())
		return ""
	}
	return host
}
