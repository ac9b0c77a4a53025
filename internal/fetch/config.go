package fetch

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/maltedev/inventory-harvester/internal/config"
	"github.com/maltedev/inventory-harvester/internal/ratelimit"
)

// OptionsFrom builds transport options from the harvester settings and the
// host failover tables of every source.
func OptionsFrom(cfg config.HarvesterConfig, sources []*config.SourceConfig, logger *slog.Logger) Options {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = cfg.MaxAttempts
	policy.BaseDelay = cfg.BaseDelay
	policy.MaxDelay = cfg.MaxDelay

	return Options{
		Policy:    policy,
		Hosts:     hostTable(sources),
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
		Limiter: ratelimit.NewHostLimiter(ratelimit.Options{
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			JitterMin:         cfg.JitterMin,
			JitterMax:         cfg.JitterMax,
		}),
		Logger: logger,
	}
}

// hostTable merges the per-source host lists. A source's own base host is
// listed first when the table does not already name it.
func hostTable(sources []*config.SourceConfig) HostTable {
	table := make(HostTable)
	for _, src := range sources {
		for logical, hosts := range src.Hosts {
			key := strings.ToLower(logical)
			if _, exists := table[key]; exists || len(hosts) == 0 {
				continue
			}
			table[key] = append([]string(nil), hosts...)
		}
		if u, err := url.Parse(src.BaseURL); err == nil && u.Host != "" {
			key := strings.ToLower(u.Host)
			if hosts, ok := table[key]; ok && !containsFold(hosts, u.Host) {
				table[key] = append([]string{u.Host}, hosts...)
			}
		}
	}
	return table
}

func containsFold(hosts []string, host string) bool {
	for _, h := range hosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}
