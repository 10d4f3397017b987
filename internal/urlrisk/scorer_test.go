package urlrisk

import (
	"errors"
	"testing"

	"github.com/CoolE88/threat-sentry/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultMalformedScore)
	require.NoError(t, err)
	return s
}

func TestScorer_Rules(t *testing.T) {
	s := newTestScorer(t)

	tests := []struct {
		name   string
		url    string
		domain string
		flags  []domain.RuleID
		score  float64
	}{
		{"clean", "https://example.com/", "example.com", []domain.RuleID{}, 0},
		{"ip literal with keyword", "http://192.168.1.10/login", "192.168.1.10",
			[]domain.RuleID{RuleIPLiteralHost, RuleSuspiciousKeyword, RuleInsecureScheme}, 65},
		{"ipv6 literal", "https://[2001:db8::1]/", "2001:db8::1",
			[]domain.RuleID{RuleIPLiteralHost}, 35},
		{"shortener", "https://bit.ly/3xYz", "bit.ly", []domain.RuleID{RuleShortener}, 20},
		{"suspicious tld and keyword", "https://secure-paypal.com.verify.xyz/account", "verify.xyz",
			[]domain.RuleID{RuleSuspiciousTLD, RuleSuspiciousKeyword}, 40},
		{"deep subdomains", "https://a.b.c.example.com/", "example.com",
			[]domain.RuleID{RuleExcessiveSubdomains}, 15},
		{"two subdomains are fine", "https://mail.eu.example.com/", "example.com", []domain.RuleID{}, 0},
		{"non standard port", "https://example.com:8443/", "example.com",
			[]domain.RuleID{RuleNonStandardPort}, 15},
		{"explicit standard port", "https://example.com:443/", "example.com", []domain.RuleID{}, 0},
		{"userinfo trick", "https://paypal.com@evil.example/", "evil.example",
			[]domain.RuleID{RuleUserInfo}, 25},
		{"punycode host", "https://xn--pypal-4ve.com/", "xn--pypal-4ve.com",
			[]domain.RuleID{RuleHomograph}, 30},
		{"keyword in query", "https://example.com/?next=password-reset", "example.com",
			[]domain.RuleID{RuleSuspiciousKeyword}, 20},
		{"capped", "http://user@1.2.3.4:8080/login?verify=1", "1.2.3.4",
			[]domain.RuleID{RuleIPLiteralHost, RuleUserInfo, RuleSuspiciousKeyword, RuleNonStandardPort, RuleInsecureScheme}, 100},
		{"uppercase scheme and host", "HTTPS://EXAMPLE.COM/", "example.com", []domain.RuleID{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := s.Score(tt.url)
			assert.Equal(t, tt.url, f.URL)
			assert.Equal(t, tt.domain, f.Domain)
			assert.Equal(t, tt.flags, f.Flags)
			assert.Equal(t, tt.score, f.Score)
			assert.False(t, f.Malformed)
		})
	}
}

func TestScorer_NonASCIIHostIsHomograph(t *testing.T) {
	s := newTestScorer(t)

	// кириллическая "а" вместо латинской
	f := s.Score("https://pаypal.com/")
	assert.Contains(t, f.Flags, RuleHomograph)
	assert.Equal(t, 30.0, f.Score)
}

func TestScorer_MalformedIsBaseline(t *testing.T) {
	s := newTestScorer(t)

	for _, raw := range []string{"not a url", "http://", "javascript:alert(1)", "http://exa mple.com/", "://x"} {
		f := s.Score(raw)
		assert.True(t, f.Malformed, raw)
		assert.Equal(t, []domain.RuleID{RuleMalformed}, f.Flags, raw)
		assert.Equal(t, float64(DefaultMalformedScore), f.Score, raw)
	}
}

func TestScorer_IsDeterministic(t *testing.T) {
	s := newTestScorer(t)

	for _, raw := range []string{"http://user@1.2.3.4:8080/login", "https://bit.ly/x", "garbage"} {
		assert.Equal(t, s.Score(raw), s.Score(raw))
	}
}

func TestScorer_ScoreBatchUsesWorstCase(t *testing.T) {
	s := newTestScorer(t)

	findings, score := s.ScoreBatch([]string{
		"https://example.com/",
		"http://192.168.1.10/login",
		"https://bit.ly/3xYz",
	})

	assert.Len(t, findings, 3)
	assert.Equal(t, domain.ChannelEmail, score.Channel)
	assert.Equal(t, 65.0, score.Value)
	assert.False(t, score.Timestamp.IsZero())
}

func TestScorer_EmptyBatchScoresZero(t *testing.T) {
	s := newTestScorer(t)

	findings, score := s.ScoreBatch(nil)
	assert.Empty(t, findings)
	assert.Equal(t, 0.0, score.Value)
}

func TestScorer_CustomRules(t *testing.T) {
	s, err := NewScorer(10, Rule{ID: "always", Weight: 7, Match: func(*target) bool { return true }})
	require.NoError(t, err)

	f := s.Score("https://example.com")
	assert.Equal(t, []domain.RuleID{"always"}, f.Flags)
	assert.Equal(t, 7.0, f.Score)

	assert.Equal(t, 10.0, s.Score("nope").Score)
}

func TestNewScorer_InvalidMalformedScore(t *testing.T) {
	_, err := NewScorer(101)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}
