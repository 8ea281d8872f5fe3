package threatintel

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"deception-service/internal/models"
)

func newTestService() *Service {
	return NewService(zap.NewNop())
}

func TestIsNovelFirstSeenThenDuplicate(t *testing.T) {
	svc := newTestService()

	if !svc.IsNovel("' OR '1'='1", models.AttackSQLI) {
		t.Fatal("expected first observation to be novel")
	}
	if svc.IsNovel("' OR '1'='1", models.AttackSQLI) {
		t.Fatal("expected repeat observation to be known")
	}
}

func TestIsNovelNormalizesPayload(t *testing.T) {
	svc := newTestService()

	if !svc.IsNovel("' OR '1'='1", models.AttackSQLI) {
		t.Fatal("expected first observation to be novel")
	}
	// Same pattern reformatted: case and whitespace differences collapse.
	if svc.IsNovel("'  or   '1'='1", models.AttackSQLI) {
		t.Fatal("expected reformatted payload to hash to the same pattern")
	}
}

func TestIsNovelDistinguishesAttackTypes(t *testing.T) {
	svc := newTestService()

	if !svc.IsNovel("onerror=alert(1)", models.AttackXSS) {
		t.Fatal("expected XSS observation to be novel")
	}
	// Identical bytes under a different verdict are a different pattern.
	if !svc.IsNovel("onerror=alert(1)", models.AttackSQLI) {
		t.Fatal("expected same payload under SQLI to be a distinct pattern")
	}
}

func TestIsNovelBenignNeverNovel(t *testing.T) {
	svc := newTestService()

	if svc.IsNovel("hello world", models.AttackBenign) {
		t.Fatal("benign input must never be reported novel")
	}
	if got := svc.Statistics().TotalPatterns; got != 0 {
		t.Fatalf("benign input must not enter the cache, got %d patterns", got)
	}
}

func TestIsNovelWindowExpiry(t *testing.T) {
	svc := newTestService()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }

	if !svc.IsNovel("UNION SELECT username, password FROM users", models.AttackSQLI) {
		t.Fatal("expected first observation to be novel")
	}

	current = current.Add(23 * time.Hour)
	if svc.IsNovel("UNION SELECT username, password FROM users", models.AttackSQLI) {
		t.Fatal("pattern inside the 24h window must not be novel")
	}

	current = current.Add(2 * time.Hour)
	if !svc.IsNovel("UNION SELECT username, password FROM users", models.AttackSQLI) {
		t.Fatal("pattern past the 24h window must be novel again")
	}
}

func TestIsNovelConcurrentSinglyNovel(t *testing.T) {
	svc := newTestService()

	const workers = 16
	results := make(chan bool, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.IsNovel("admin'--", models.AttackSQLI)
		}()
	}
	wg.Wait()
	close(results)

	novel := 0
	for r := range results {
		if r {
			novel++
		}
	}
	if novel != 1 {
		t.Fatalf("exactly one goroutine should see the pattern as novel, got %d", novel)
	}
}

func TestCreateReportRequiresSignature(t *testing.T) {
	svc := newTestService()

	// Unusual but signature-free input: novel, yet unreportable.
	if got := svc.CreateReport("SELECT weird FROM nowhere", models.AttackSQLI, "10.0.0.1", 0.8); got != nil {
		t.Fatalf("expected nil report for payload without a known signature, got %+v", got)
	}
	if got := svc.Statistics().TotalReports; got != 0 {
		t.Fatalf("expected no retained reports, got %d", got)
	}
}

func TestCreateReportFields(t *testing.T) {
	svc := newTestService()

	report := svc.CreateReport("' OR '1'='1 --", models.AttackSQLI, "203.0.113.7", 0.8)
	if report == nil {
		t.Fatal("expected a report for a payload with a known signature")
	}
	if report.Signature != "SQLi:' OR '1'='1" {
		t.Fatalf("unexpected signature %q", report.Signature)
	}
	if len(report.IPHash) != 16 {
		t.Fatalf("ip hash must be 16 hex characters, got %q", report.IPHash)
	}
	if strings.Contains(report.IPHash, "203") {
		t.Fatalf("ip hash must not leak the address: %q", report.IPHash)
	}
	if report.PatternHash != PatternHash("' OR '1'='1 --", models.AttackSQLI) {
		t.Fatal("pattern hash must commit to the normalized payload")
	}
	if report.Severity != models.SeverityHigh {
		t.Fatalf("SQLI at confidence 0.8 should be HIGH, got %s", report.Severity)
	}
}

func TestCreateReportSignaturePriority(t *testing.T) {
	svc := newTestService()

	// Payload carries both UNION SELECT and DROP TABLE; list order wins.
	report := svc.CreateReport("1 UNION SELECT x; DROP TABLE users", models.AttackSQLI, "10.0.0.1", 0.8)
	if report == nil {
		t.Fatal("expected a report")
	}
	if report.Signature != "SQLi:UNION SELECT" {
		t.Fatalf("expected first-listed signature to win, got %q", report.Signature)
	}
}

func TestSeverityScoring(t *testing.T) {
	cases := []struct {
		attackType string
		confidence float64
		want       string
	}{
		{models.AttackSQLI, 0.95, models.SeverityCritical},
		{models.AttackSQLI, 0.8, models.SeverityHigh},
		{models.AttackSQLI, 0.5, models.SeverityMedium},
		{models.AttackSSI, 0.95, models.SeverityCritical},
		{models.AttackXSS, 0.95, models.SeverityHigh},
		{models.AttackXSS, 0.8, models.SeverityMedium},
		{models.AttackXSS, 0.5, models.SeverityLow},
		{models.AttackBruteForce, 0.8, models.SeverityMedium},
		{"RECON", 0.95, models.SeverityMedium},
		{"RECON", 0.5, models.SeverityLow},
	}
	for _, tc := range cases {
		if got := calculateSeverity(tc.attackType, tc.confidence); got != tc.want {
			t.Errorf("severity(%s, %.2f) = %s, want %s", tc.attackType, tc.confidence, got, tc.want)
		}
	}
}

func TestReportLogCap(t *testing.T) {
	svc := newTestService()

	for i := 0; i < 150; i++ {
		payload := fmt.Sprintf("UNION SELECT col%d FROM t", i)
		if svc.CreateReport(payload, models.AttackSQLI, "10.0.0.1", 0.8) == nil {
			t.Fatalf("report %d unexpectedly nil", i)
		}
	}

	reports := svc.Reports(0)
	if len(reports) != reportLimit {
		t.Fatalf("expected log capped at %d, got %d", reportLimit, len(reports))
	}
	// Oldest 50 were dropped; the retained window starts at payload 50.
	first := PatternHash("UNION SELECT col50 FROM t", models.AttackSQLI)
	if reports[0].PatternHash != first {
		t.Fatal("expected oldest reports to be evicted first")
	}
	last := PatternHash("UNION SELECT col149 FROM t", models.AttackSQLI)
	if reports[len(reports)-1].PatternHash != last {
		t.Fatal("expected newest report retained at the tail")
	}
}

func TestReportsLimit(t *testing.T) {
	svc := newTestService()

	for i := 0; i < 10; i++ {
		payload := fmt.Sprintf("<script>steal(%d)</script>", i)
		svc.CreateReport(payload, models.AttackXSS, "10.0.0.1", 0.8)
	}

	got := svc.Reports(3)
	if len(got) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(got))
	}
	want := PatternHash("<script>steal(9)</script>", models.AttackXSS)
	if got[2].PatternHash != want {
		t.Fatal("expected the newest report last")
	}
}

func TestStatistics(t *testing.T) {
	svc := newTestService()

	svc.IsNovel("' OR 1=1--", models.AttackSQLI)
	svc.IsNovel("<script>x</script>", models.AttackXSS)
	svc.CreateReport("' OR 1=1--", models.AttackSQLI, "10.0.0.1", 0.95)
	svc.CreateReport("<script>x</script>", models.AttackXSS, "10.0.0.2", 0.8)

	stats := svc.Statistics()
	if stats.TotalPatterns != 2 {
		t.Fatalf("expected 2 cached patterns, got %d", stats.TotalPatterns)
	}
	if stats.TotalReports != 2 {
		t.Fatalf("expected 2 reports, got %d", stats.TotalReports)
	}
	if stats.RecentReports != 2 {
		t.Fatalf("expected 2 recent reports, got %d", stats.RecentReports)
	}
	if stats.AttackTypeDistribution[models.AttackSQLI] != 1 {
		t.Fatalf("unexpected attack distribution %v", stats.AttackTypeDistribution)
	}
	if stats.SeverityDistribution[models.SeverityCritical] != 1 {
		t.Fatalf("unexpected severity distribution %v", stats.SeverityDistribution)
	}
}
