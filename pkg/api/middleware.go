package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/time/rate"
)

// IPRateLimiter enforces a coarse per-IP request budget in front of
// the whole API. The fine-grained login limiter sits behind it.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a limiter allowing rps requests per second
// with the given burst, per client IP.
func NewIPRateLimiter(rps, burst int) *IPRateLimiter {
	rl := &IPRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go rl.cleanup()
	return rl
}

func (rl *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// cleanup drops idle entries so the map cannot grow without bound.
func (rl *IPRateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware rejects over-budget callers with 429.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = strings.Trim(r.RemoteAddr, "[]")
		}
		if !rl.limiterFor(ip).Allow() {
			WriteTooManyRequests(w, "1", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientVersionHeader carries the CLI/SDK version for the minimum
// version gate.
const clientVersionHeader = "X-Client-Version"

// VersionGate rejects requests from clients older than min with 426.
// Requests without the header pass: browsers and raw curl calls don't
// send one. A nil minimum disables the gate.
func VersionGate(min *semver.Version) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if min == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(clientVersionHeader)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			v, err := semver.NewVersion(strings.TrimPrefix(raw, "v"))
			if err != nil {
				WriteBadRequest(w, "Malformed "+clientVersionHeader+" header")
				return
			}
			if v.LessThan(min) {
				WriteDetail(w, http.StatusUpgradeRequired,
					"Client version "+v.String()+" is no longer supported; upgrade to "+min.String()+" or newer")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
