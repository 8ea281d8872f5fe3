package threatintel

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"deception-service/internal/models"
)

const (
	// patternTTL is the dedup window: a pattern seen again inside it is not
	// novel and produces no second report.
	patternTTL = 24 * time.Hour

	// reportLimit caps the retained report log; oldest reports drop first.
	reportLimit = 100
)

// Known technique signatures, scanned in order; the first match wins. A
// payload matching none of these is never reported, novel or not: a
// recognizable technique is required, novelty alone is insufficient.
var sqliSignatures = []string{
	`' OR '1'='1`,
	`' OR 1=1--`,
	`UNION SELECT`,
	`DROP TABLE`,
	`'; DROP`,
	`admin'--`,
	`1' AND '1'='1`,
}

var xssSignatures = []string{
	`<script>`,
	`javascript:`,
	`onerror=`,
	`onload=`,
	`<iframe`,
	`document.cookie`,
}

// Service detects novel attack patterns and builds privacy-preserving threat
// reports. The pattern hash is a commitment: it identifies a normalized
// payload without revealing it, so reports can be shared outside the
// operator's boundary. All state is in memory and bounded (the cache by its
// 24h window, the report log by reportLimit).
type Service struct {
	mu       sync.Mutex
	patterns map[string]time.Time
	reports  []models.ThreatReport

	// now is swappable so tests can simulate window expiry.
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates an empty threat intelligence service.
func NewService(logger *zap.Logger) *Service {
	return &Service{
		patterns: make(map[string]time.Time),
		now:      time.Now,
		logger:   logger,
	}
}

// PatternHash commits to (attackType, normalized input). Normalization
// lowercases and collapses whitespace, so trivially reformatted payloads
// collide deliberately.
func PatternHash(rawInput, attackType string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(rawInput)), " ")
	sum := sha256.Sum256([]byte(attackType + ":" + normalized))
	return hex.EncodeToString(sum[:])
}

// IsNovel reports whether this (payload, type) pattern has not been seen
// within the dedup window, inserting it as a side effect. Check and insert
// are one atomic step under the lock, so two identical payloads arriving
// concurrently yield exactly one novel verdict. BENIGN input is never novel.
func (s *Service) IsNovel(rawInput, attackType string) bool {
	if attackType == models.AttackBenign {
		return false
	}

	hash := PatternHash(rawInput, attackType)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()

	if _, seen := s.patterns[hash]; seen {
		return false
	}
	s.patterns[hash] = s.now()
	return true
}

// evictExpiredLocked drops cache entries older than the window. Called with
// the lock held on every novelty check; linear in cache size, which the 24h
// window keeps bounded.
func (s *Service) evictExpiredLocked() {
	cutoff := s.now().Add(-patternTTL)
	for hash, firstSeen := range s.patterns {
		if firstSeen.Before(cutoff) {
			delete(s.patterns, hash)
		}
	}
}

// extractSignature scans the payload for a known technique, in fixed priority
// order. Matching is case-insensitive substring containment.
func extractSignature(rawInput, attackType string) string {
	lower := strings.ToLower(rawInput)

	switch attackType {
	case models.AttackSQLI:
		for _, sig := range sqliSignatures {
			if strings.Contains(lower, strings.ToLower(sig)) {
				return "SQLi:" + sig
			}
		}
	case models.AttackXSS:
		for _, sig := range xssSignatures {
			if strings.Contains(lower, strings.ToLower(sig)) {
				return "XSS:" + sig
			}
		}
	}
	return ""
}

// CreateReport builds a threat report for an attack, or returns nil when the
// payload carries no recognizable technique signature. The source address
// appears only as the first 16 hex characters of its SHA-256.
func (s *Service) CreateReport(rawInput, attackType, ip string, confidence float64) *models.ThreatReport {
	signature := extractSignature(rawInput, attackType)
	if signature == "" {
		return nil
	}

	ipSum := sha256.Sum256([]byte(ip))

	report := models.ThreatReport{
		Timestamp:   s.now().UTC(),
		AttackType:  attackType,
		PatternHash: PatternHash(rawInput, attackType),
		Signature:   signature,
		IPHash:      hex.EncodeToString(ipSum[:])[:16],
		Confidence:  confidence,
		Severity:    calculateSeverity(attackType, confidence),
	}

	s.mu.Lock()
	s.reports = append(s.reports, report)
	if len(s.reports) > reportLimit {
		s.reports = s.reports[len(s.reports)-reportLimit:]
	}
	s.mu.Unlock()

	s.logger.Info("threat report created",
		zap.String("attack_type", attackType),
		zap.String("signature", signature),
		zap.String("severity", report.Severity),
	)

	return &report
}

// calculateSeverity scores by attack type, adjusted by classifier confidence.
func calculateSeverity(attackType string, confidence float64) string {
	var base int
	switch attackType {
	case models.AttackSQLI, models.AttackSSI:
		base = 3
	case models.AttackXSS, models.AttackBruteForce:
		base = 2
	case models.AttackBenign:
		base = 0
	default:
		base = 1
	}

	if confidence >= 0.9 {
		base++
	} else if confidence < 0.7 {
		base--
	}

	switch {
	case base >= 4:
		return models.SeverityCritical
	case base == 3:
		return models.SeverityHigh
	case base == 2:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// Reports returns up to limit of the most recent reports, oldest first.
func (s *Service) Reports(limit int) []models.ThreatReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.reports) {
		limit = len(s.reports)
	}
	out := make([]models.ThreatReport, limit)
	copy(out, s.reports[len(s.reports)-limit:])
	return out
}

// Statistics aggregates the current in-memory state.
func (s *Service) Statistics() models.ThreatIntelStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.ThreatIntelStats{
		TotalPatterns:          len(s.patterns),
		TotalReports:           len(s.reports),
		AttackTypeDistribution: make(map[string]int),
		SeverityDistribution:   make(map[string]int),
	}

	hourAgo := s.now().Add(-time.Hour)
	for _, report := range s.reports {
		stats.AttackTypeDistribution[report.AttackType]++
		stats.SeverityDistribution[report.Severity]++
		if report.Timestamp.After(hourAgo) {
			stats.RecentReports++
		}
	}
	return stats
}
