package proxytrust

import (
	"net"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

type Evaluator interface {
	// EffectiveClientAddress returns the address quotas should be keyed on.
	// The forwarded header is honoured only when the immediate peer is a
	// trusted proxy.
	EffectiveClientAddress(peerAddress, forwardedFor string) string
	IsTrusted(peerAddress string) bool
	Reload(entries []string)
}

type trustList struct {
	entries  []string
	networks []*net.IPNet
}

type evaluator struct {
	logger *logrus.Logger
	list   atomic.Pointer[trustList]
}

func NewEvaluator(logger *logrus.Logger, entries []string) Evaluator {
	e := &evaluator{logger: logger}
	e.Reload(entries)
	return e
}

// Reload swaps the whole trust list. Entries that do not parse are skipped
// one by one; the rest of the list stays usable.
func (e *evaluator) Reload(entries []string) {
	list := &trustList{}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		network, err := parseEntry(entry)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"entry": entry,
				"error": err.Error(),
			}).Warn("skipping invalid trusted proxy entry")
			continue
		}
		list.entries = append(list.entries, entry)
		list.networks = append(list.networks, network)
	}
	e.list.Store(list)
	e.logger.WithField("trusted_proxies", list.entries).Debug("trusted proxy list loaded")
}

func (e *evaluator) IsTrusted(peerAddress string) bool {
	ip := net.ParseIP(stripPort(peerAddress))
	if ip == nil {
		return false
	}
	for _, n := range e.list.Load().networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (e *evaluator) EffectiveClientAddress(peerAddress, forwardedFor string) string {
	peer := stripPort(peerAddress)
	forwardedFor = strings.TrimSpace(forwardedFor)

	if !e.IsTrusted(peer) {
		if forwardedFor != "" {
			e.logger.WithFields(logrus.Fields{
				"peer":          peer,
				"forwarded_for": forwardedFor,
			}).Warn("forwarded header from untrusted peer ignored")
		}
		return peer
	}

	if forwardedFor == "" {
		return peer
	}

	// "client, proxy1, proxy2": the left-most entry is the original client
	// as seen by the nearest trusted proxy.
	first, _, _ := strings.Cut(forwardedFor, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return peer
	}
	return first
}

// parseEntry accepts CIDR notation or a bare address, which is treated as a
// single host network.
func parseEntry(entry string) (*net.IPNet, error) {
	if strings.Contains(entry, "/") {
		_, network, err := net.ParseCIDR(entry)
		return network, err
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, &net.ParseError{Type: "IP address", Text: entry}
	}
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}

func stripPort(address string) string {
	address = strings.TrimSpace(address)
	if host, _, err := net.SplitHostPort(address); err == nil {
		return host
	}
	return strings.Trim(address, "[]")
}

// ParseList splits a comma-delimited trusted proxy setting.
func ParseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
