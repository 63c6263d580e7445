package collyfetcher

import (
	"math/rand"
	"net/http"
	"sync"
)

// Browser user agents rotated across requests. Procurement portals profile
// clients aggressively, so each request carries a full desktop browser
// identity rather than a bare library agent.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

type identity struct {
	mu    sync.Mutex
	rand  *rand.Rand
	fixed string
}

func newIdentity(fixedUA string, seed int64) *identity {
	return &identity{
		rand:  rand.New(rand.NewSource(seed)),
		fixed: fixedUA,
	}
}

// userAgent returns the configured agent, or a random one from the pool.
func (i *identity) userAgent() string {
	if i.fixed != "" {
		return i.fixed
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return userAgents[i.rand.Intn(len(userAgents))]
}

// jitter returns a uniform duration in [0, max).
func (i *identity) jitter(max float64) float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rand.Float64() * max
}

// browserHeaders is the header set sent alongside the rotated user agent.
func browserHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8,en-GB;q=0.7,en-US;q=0.6")
	h.Set("Cache-Control", "max-age=0")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Sec-Ch-Ua", `"Chromium";v="120", "Not_A Brand";v="24", "Google Chrome";v="120"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	return h
}
