package whitelist

import (
	"strings"

	"go.uber.org/zap"
)

// Checker decides whether a sender's domain is trusted enough to skip the
// classifier entirely
type Checker struct {
	domains map[string]struct{}
	logger  *zap.Logger
}

// NewChecker creates a new whitelist checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}

	normalized := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		d := strings.ToLower(strings.TrimSpace(domain))
		if d != "" {
			normalized[d] = struct{}{}
		}
	}

	if len(normalized) > 0 {
		logger.Info("Initialized whitelist checker", zap.Int("domains", len(normalized)))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// IsWhitelisted checks if the sender address, or any parent domain of it, is
// in the whitelist
func (c *Checker) IsWhitelisted(from string) bool {
	if c == nil || len(c.domains) == 0 {
		return false
	}

	at := strings.LastIndex(from, "@")
	if at < 0 || at == len(from)-1 {
		return false
	}
	domain := strings.ToLower(strings.TrimRight(from[at+1:], "> "))

	for d := domain; d != ""; {
		if _, ok := c.domains[d]; ok {
			c.logger.Debug("Domain is whitelisted",
				zap.String("domain", domain),
				zap.String("email", from))
			return true
		}
		dot := strings.Index(d, ".")
		if dot < 0 {
			break
		}
		d = d[dot+1:]
	}

	return false
}
