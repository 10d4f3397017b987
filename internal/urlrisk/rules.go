package urlrisk

import (
	"net"
	"net/url"
	"strings"

	"github.com/CoolE88/threat-sentry/internal/domain"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

const (
	RuleMalformed           domain.RuleID = "malformed"
	RuleIPLiteralHost       domain.RuleID = "ip_literal_host"
	RuleUserInfo            domain.RuleID = "userinfo"
	RuleHomograph           domain.RuleID = "homograph"
	RuleShortener           domain.RuleID = "shortener"
	RuleSuspiciousTLD       domain.RuleID = "suspicious_tld"
	RuleExcessiveSubdomains domain.RuleID = "excessive_subdomains"
	RuleSuspiciousKeyword   domain.RuleID = "suspicious_keyword"
	RuleNonStandardPort     domain.RuleID = "non_standard_port"
	RuleInsecureScheme      domain.RuleID = "insecure_scheme"
)

// target разобранный URL, который видят правила
type target struct {
	u        *url.URL
	host     string // в нижнем регистре, без порта
	ascii    string // host после idna.ToASCII
	domain   string // регистрируемый домен (eTLD+1)
	isIP     bool
	pathLow  string
	queryLow string
}

// Rule независимый предикат с фиксированным весом
type Rule struct {
	ID     domain.RuleID
	Weight float64
	Match  func(t *target) bool
}

var shorteners = map[string]struct{}{
	"bit.ly": {}, "tinyurl.com": {}, "t.co": {}, "goo.gl": {}, "ow.ly": {},
	"is.gd": {}, "buff.ly": {}, "rebrand.ly": {}, "cutt.ly": {}, "shorturl.at": {},
	"tiny.cc": {}, "rb.gy": {}, "s.id": {}, "v.gd": {},
}

var suspiciousTLDs = map[string]struct{}{
	"zip": {}, "mov": {}, "xyz": {}, "top": {}, "tk": {}, "ml": {}, "ga": {},
	"cf": {}, "gq": {}, "click": {}, "country": {}, "kim": {}, "work": {},
	"loan": {}, "review": {}, "support": {}, "icu": {}, "rest": {},
}

var suspiciousKeywords = []string{
	"login", "signin", "sign-in", "verify", "account", "update", "secure",
	"banking", "password", "confirm", "wallet", "suspend", "unlock", "invoice",
}

// maxSubdomainLabels больше стольких меток перед регистрируемым доменом подозрительно
const maxSubdomainLabels = 2

// DefaultRules упорядоченный набор правил. Порядок определяет порядок флагов.
func DefaultRules() []Rule {
	return []Rule{
		{ID: RuleIPLiteralHost, Weight: 35, Match: func(t *target) bool {
			return t.isIP
		}},
		{ID: RuleUserInfo, Weight: 25, Match: func(t *target) bool {
			return t.u.User != nil
		}},
		{ID: RuleHomograph, Weight: 30, Match: isHomograph},
		{ID: RuleShortener, Weight: 20, Match: func(t *target) bool {
			_, ok := shorteners[t.ascii]
			return ok
		}},
		{ID: RuleSuspiciousTLD, Weight: 20, Match: func(t *target) bool {
			if t.isIP {
				return false
			}
			_, ok := suspiciousTLDs[tld(t.ascii)]
			return ok
		}},
		{ID: RuleExcessiveSubdomains, Weight: 15, Match: func(t *target) bool {
			if t.isIP || t.domain == "" || t.ascii == t.domain {
				return false
			}
			sub := strings.TrimSuffix(t.ascii, "."+t.domain)
			return strings.Count(sub, ".")+1 > maxSubdomainLabels
		}},
		{ID: RuleSuspiciousKeyword, Weight: 20, Match: func(t *target) bool {
			for _, kw := range suspiciousKeywords {
				if strings.Contains(t.pathLow, kw) || strings.Contains(t.queryLow, kw) {
					return true
				}
			}
			return false
		}},
		{ID: RuleNonStandardPort, Weight: 15, Match: func(t *target) bool {
			port := t.u.Port()
			return port != "" && port != "80" && port != "443"
		}},
		{ID: RuleInsecureScheme, Weight: 10, Match: func(t *target) bool {
			return t.u.Scheme == "http"
		}},
	}
}

// parseTarget разбирает URL; ошибка означает malformed
func parseTarget(raw string) (*target, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errUnsupportedScheme
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return nil, errMissingHost
	}

	t := &target{
		u:        u,
		host:     host,
		ascii:    host,
		isIP:     net.ParseIP(host) != nil,
		pathLow:  strings.ToLower(u.EscapedPath()),
		queryLow: strings.ToLower(u.RawQuery),
	}
	if t.isIP {
		t.domain = host
		return t, nil
	}

	ascii, err := idna.Punycode.ToASCII(host)
	if err != nil {
		return nil, err
	}
	t.ascii = ascii
	if d, err := publicsuffix.EffectiveTLDPlusOne(ascii); err == nil {
		t.domain = d
	} else {
		t.domain = ascii
	}
	return t, nil
}

func isHomograph(t *target) bool {
	if t.isIP {
		return false
	}
	if t.host != t.ascii {
		// в исходном хосте были не-ASCII символы
		return true
	}
	for _, label := range strings.Split(t.ascii, ".") {
		if strings.HasPrefix(label, "xn--") {
			return true
		}
	}
	return false
}

func tld(host string) string {
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		return host[i+1:]
	}
	return host
}
