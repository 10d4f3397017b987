// Package urlrisk оценивает риск URL из писем по детерминированным эвристикам.
// Сетевых запросов нет: оценка строится только по строке.
package urlrisk

import (
	"errors"
	"math"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"
)

var (
	errUnsupportedScheme = errors.New("unsupported scheme")
	errMissingHost       = errors.New("missing host")
)

// DefaultMalformedScore умеренный базовый риск для неразбираемых URL
const DefaultMalformedScore = 50

type Scorer struct {
	rules          []Rule
	malformedScore float64
	now            func() time.Time
}

// NewScorer с пустым набором правил берёт DefaultRules
func NewScorer(malformedScore float64, rules ...Rule) (*Scorer, error) {
	if malformedScore < 0 || malformedScore > 100 {
		return nil, domain.NewConfigError("email.malformed_score", "must be within 0-100")
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Scorer{
		rules:          rules,
		malformedScore: malformedScore,
		now:            time.Now,
	}, nil
}

// Score никогда не возвращает ошибку: битый URL получает базовую оценку
func (s *Scorer) Score(raw string) domain.URLFinding {
	finding := domain.URLFinding{URL: raw, Flags: []domain.RuleID{}}

	t, err := parseTarget(raw)
	if err != nil {
		finding.Malformed = true
		finding.Flags = append(finding.Flags, RuleMalformed)
		finding.Score = s.malformedScore
		return finding
	}
	finding.Domain = t.domain

	var total float64
	for _, rule := range s.rules {
		if rule.Match(t) {
			finding.Flags = append(finding.Flags, rule.ID)
			total += rule.Weight
		}
	}
	finding.Score = math.Min(total, 100)
	return finding
}

// ScoreBatch оценка канала по худшему URL: одной вредной ссылки достаточно
func (s *Scorer) ScoreBatch(urls []string) ([]domain.URLFinding, domain.ChannelScore) {
	findings := make([]domain.URLFinding, 0, len(urls))
	var worst float64
	for _, raw := range urls {
		f := s.Score(raw)
		findings = append(findings, f)
		worst = math.Max(worst, f.Score)
	}

	return findings, domain.ChannelScore{
		Channel:   domain.ChannelEmail,
		Value:     worst,
		Timestamp: s.now(),
	}
}
