package risk

import (
	"context"
	"net"
	"strings"
)

// ReputationChecker classifies a network address. Implementations may be
// backed by a real threat-intelligence feed; the scorer only depends on
// this interface so the provider can be swapped without touching it.
type ReputationChecker interface {
	// IsSuspicious reports whether the address or the user-agent carries
	// suspicion markers (reserved/private source address, VPN/proxy
	// user-agent keywords).
	IsSuspicious(ip, userAgent string) bool

	// Score returns a reputation score in [0,100], higher is worse.
	// Implementations performing network lookups must honor the context.
	Score(ctx context.Context, ip string) (int, error)
}

// suspiciousAgentKeywords are substrings that mark a user-agent as coming
// through a VPN, proxy, or hosting provider. Matching is case-insensitive.
var suspiciousAgentKeywords = []string{
	"vpn",
	"proxy",
	"tor",
	"anonymous",
	"hosting",
	"datacenter",
}

// suspiciousAddressScore is the fixed score assigned to addresses that
// should never appear as an external client.
const suspiciousAddressScore = 80

// HeuristicChecker is the default ReputationChecker. It needs no network
// access: it flags reserved/private ranges and well-known proxy markers
// in the user-agent. A production deployment substitutes a provider
// backed by a threat-intelligence API, typically wrapped in
// CachedReputation for caching and timeout handling.
type HeuristicChecker struct{}

// NewHeuristicChecker creates the default reputation checker.
func NewHeuristicChecker() *HeuristicChecker {
	return &HeuristicChecker{}
}

// IsSuspicious reports true when the address falls in a range that should
// never appear as an external client (private, loopback, link-local,
// unspecified, or unparseable), or when the user-agent contains a
// VPN/proxy/hosting keyword.
func (h *HeuristicChecker) IsSuspicious(ip, userAgent string) bool {
	if suspiciousAddress(ip) {
		return true
	}

	ua := strings.ToLower(userAgent)
	for _, kw := range suspiciousAgentKeywords {
		if strings.Contains(ua, kw) {
			return true
		}
	}

	return false
}

// Score returns suspiciousAddressScore for addresses flagged by the range
// heuristic and 0 otherwise. The user-agent is deliberately not consulted
// here: reputation describes the address, not the client software.
func (h *HeuristicChecker) Score(_ context.Context, ip string) (int, error) {
	if suspiciousAddress(ip) {
		return suspiciousAddressScore, nil
	}
	return 0, nil
}

// suspiciousAddress reports whether ip is in a reserved range that no
// legitimate external client would present. Unparseable input counts as
// suspicious rather than erroring, per the degrade-not-fail contract.
func suspiciousAddress(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}

	return parsed.IsLoopback() ||
		parsed.IsPrivate() ||
		parsed.IsLinkLocalUnicast() ||
		parsed.IsLinkLocalMulticast() ||
		parsed.IsUnspecified()
}
