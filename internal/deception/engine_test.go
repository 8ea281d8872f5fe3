package deception

import (
	"regexp"
	"strings"
	"testing"

	"deception-service/internal/models"
	"deception-service/internal/session"
	"deception-service/internal/util"

	"go.uber.org/zap"
)

func newTestEngine(seed int64) (*Engine, *session.Store) {
	rng := util.NewSeededRand(seed)
	store := session.NewStore(rng)
	return NewEngine(store, rng, zap.NewNop()), store
}

var incidentIDPattern = regexp.MustCompile(`INC-[0-9A-F]{8}`)

func TestSQLIFourStepWalk(t *testing.T) {
	engine, store := newTestEngine(7)

	sess := store.GetOrCreate("fp-walk", models.AttackSQLI)
	sess.DBType = models.DBMySQL

	payloads := []string{
		`' OR 1=1--`,
		`' UNION SELECT * FROM users--`,
		`' UNION SELECT password FROM users--`,
		`' UNION SELECT passwd FROM users--`,
	}

	// Step 1: syntax error, stage advances to 2.
	msg := engine.GenerateResponse(models.AttackSQLI, payloads[0], sess)
	store.RecordAttempt(sess, payloads[0], msg, models.AttackSQLI)
	if !strings.Contains(msg, "error in your SQL syntax") {
		t.Fatalf("stage 1 should be a syntax error, got: %s", msg)
	}
	if sess.CurrentStage != 2 {
		t.Fatalf("expected stage 2 after first attempt, got %d", sess.CurrentStage)
	}

	// Step 2: table not found, table name extracted from the payload.
	msg = engine.GenerateResponse(models.AttackSQLI, payloads[1], sess)
	store.RecordAttempt(sess, payloads[1], msg, models.AttackSQLI)
	if !strings.Contains(msg, "Table 'webapp_db.users' doesn't exist") {
		t.Fatalf("stage 2 should name the guessed table, got: %s", msg)
	}
	if sess.GuessedTable != "users" {
		t.Fatalf("expected guessed_table=users, got %q", sess.GuessedTable)
	}
	if sess.CurrentStage != 3 {
		t.Fatalf("expected stage 3, got %d", sess.CurrentStage)
	}

	// Step 3: column not found, table continuity preserved.
	msg = engine.GenerateResponse(models.AttackSQLI, payloads[2], sess)
	store.RecordAttempt(sess, payloads[2], msg, models.AttackSQLI)
	if !strings.Contains(msg, "Unknown column 'password'") {
		t.Fatalf("stage 3 should name the guessed column, got: %s", msg)
	}
	if sess.GuessedColumn != "password" {
		t.Fatalf("expected guessed_column=password, got %q", sess.GuessedColumn)
	}
	if sess.GuessedTable != "users" {
		t.Fatalf("guessed table must be held across stages, got %q", sess.GuessedTable)
	}
	if sess.CurrentStage != 4 {
		t.Fatalf("expected stage 4, got %d", sess.CurrentStage)
	}

	// Step 4: permission denied, terminal.
	msg = engine.GenerateResponse(models.AttackSQLI, payloads[3], sess)
	store.RecordAttempt(sess, payloads[3], msg, models.AttackSQLI)
	if !strings.Contains(msg, "Access denied") {
		t.Fatalf("stage 4 should be access denied, got: %s", msg)
	}
	if sess.CurrentStage != 4 {
		t.Fatalf("stage must stay pinned at 4, got %d", sess.CurrentStage)
	}

	// A fifth attempt never advances past the ceiling.
	engine.GenerateResponse(models.AttackSQLI, "' OR 'a'='a", sess)
	if sess.CurrentStage != 4 {
		t.Fatalf("fifth attempt advanced past ceiling: %d", sess.CurrentStage)
	}
}

func TestSQLIPostgresFlavoredMessages(t *testing.T) {
	engine, store := newTestEngine(11)

	sess := store.GetOrCreate("fp-pg", models.AttackSQLI)
	sess.DBType = models.DBPostgreSQL

	msg := engine.GenerateResponse(models.AttackSQLI, "' OR 1=1--", sess)
	if !strings.Contains(msg, "syntax error at or near") || !strings.Contains(msg, "42601") {
		t.Fatalf("unexpected PostgreSQL syntax error: %s", msg)
	}

	msg = engine.GenerateResponse(models.AttackSQLI, "SELECT * FROM accounts", sess)
	if !strings.Contains(msg, `relation "accounts" does not exist`) || !strings.Contains(msg, "42P01") {
		t.Fatalf("unexpected PostgreSQL relation error: %s", msg)
	}
}

func TestSQLISnippetNormalization(t *testing.T) {
	engine, store := newTestEngine(3)

	sess := store.GetOrCreate("fp-snip", models.AttackSQLI)
	sess.DBType = models.DBMySQL

	raw := "SELECT   '" + strings.Repeat("x", 100) + "'   FROM dual"
	msg := engine.GenerateResponse(models.AttackSQLI, raw, sess)

	if !strings.Contains(msg, "...") {
		t.Fatalf("long payload snippet should carry an ellipsis: %s", msg)
	}
	if !strings.Contains(msg, `\'`) {
		t.Fatalf("single quotes in snippet should be escaped: %s", msg)
	}
}

func TestSQLITableExtractionTiers(t *testing.T) {
	rng := util.NewSeededRand(5)

	// Tier 1: known-name substring wins.
	if got := extractTableName("select * from CUSTOMERS where 1=1", rng); got != "customers" {
		t.Fatalf("expected substring tier to yield customers, got %s", got)
	}
	// Tier 2: regex after FROM for unknown identifiers.
	if got := extractTableName("select x from warehouse_17", rng); got != "warehouse_17" {
		t.Fatalf("expected regex tier to yield warehouse_17, got %s", got)
	}
	// Tier 3: random fallback stays within the known list.
	got := extractTableName("nothing sql here", rng)
	found := false
	for _, table := range commonTables {
		if got == table {
			found = true
		}
	}
	if !found {
		t.Fatalf("fallback produced a name outside the known list: %s", got)
	}
}

func TestSQLIColumnExtractionTiers(t *testing.T) {
	rng := util.NewSeededRand(5)

	if got := extractColumnName("' UNION SELECT passwd--", rng); got != "passwd" {
		t.Fatalf("expected substring tier to yield passwd, got %s", got)
	}
	if got := extractColumnName("select nickname from x", rng); got != "nickname" {
		t.Fatalf("expected regex tier to yield nickname, got %s", got)
	}
}

func TestXSSThreeStepWalk(t *testing.T) {
	engine, store := newTestEngine(13)

	sess := store.GetOrCreate("fp-xss", models.AttackXSS)

	// Step 1: CSP violation.
	msg := engine.GenerateResponse(models.AttackXSS, "<script>alert(1)</script>", sess)
	store.RecordAttempt(sess, "<script>alert(1)</script>", msg, models.AttackXSS)
	if !strings.Contains(msg, "Content Security Policy") {
		t.Fatalf("stage 1 should be a CSP violation, got: %s", msg)
	}
	if sess.CurrentStage != 2 {
		t.Fatalf("expected stage 2, got %d", sess.CurrentStage)
	}

	// Step 2: sanitization report with incident ID.
	payload := "<img src=x onerror=alert(1)>"
	msg = engine.GenerateResponse(models.AttackXSS, payload, sess)
	store.RecordAttempt(sess, payload, msg, models.AttackXSS)
	if !strings.Contains(msg, "characters were stripped") {
		t.Fatalf("stage 2 should report stripped characters, got: %s", msg)
	}
	if !incidentIDPattern.MatchString(msg) {
		t.Fatalf("stage 2 should carry an incident ID, got: %s", msg)
	}
	// The payload contains < > ( ) but no slash or quotes.
	if !strings.Contains(msg, "< > ( )") {
		t.Fatalf("expected exactly the found character subset, got: %s", msg)
	}
	if sess.CurrentStage != 3 {
		t.Fatalf("expected stage 3, got %d", sess.CurrentStage)
	}

	// Step 3: obfuscation alert, terminal.
	msg = engine.GenerateResponse(models.AttackXSS, "whatever", sess)
	if !strings.Contains(msg, "Obfuscated or encoded script content") {
		t.Fatalf("stage 3 should be the obfuscation alert, got: %s", msg)
	}
	if !incidentIDPattern.MatchString(msg) {
		t.Fatalf("stage 3 should carry an incident ID, got: %s", msg)
	}
	if sess.CurrentStage != 3 {
		t.Fatalf("XSS stage must stay pinned at 3, got %d", sess.CurrentStage)
	}

	engine.GenerateResponse(models.AttackXSS, "again", sess)
	if sess.CurrentStage != 3 {
		t.Fatalf("repeated attempts advanced past XSS ceiling: %d", sess.CurrentStage)
	}
}

func TestXSSSanitizationFallsBackToFullSet(t *testing.T) {
	engine, store := newTestEngine(17)

	sess := store.GetOrCreate("fp-xss-full", models.AttackXSS)
	sess.CurrentStage = 2

	msg := engine.GenerateResponse(models.AttackXSS, "plain text payload", sess)
	if !strings.Contains(msg, strings.Join(dangerousChars, " ")) {
		t.Fatalf("expected full character set when none matched, got: %s", msg)
	}
}

func TestFlatResponses(t *testing.T) {
	engine, store := newTestEngine(19)

	ssi := store.GetOrCreate("fp-ssi", models.AttackSSI)
	msg := engine.GenerateResponse(models.AttackSSI, "<!--#exec cmd=\"ls\"-->", ssi)
	if !strings.Contains(msg, "Server-side includes are disabled") {
		t.Fatalf("unexpected SSI response: %s", msg)
	}
	if ssi.CurrentStage != 1 {
		t.Fatalf("SSI must not mutate stage, got %d", ssi.CurrentStage)
	}

	benign := store.GetOrCreate("fp-benign", models.AttackBenign)
	if msg := engine.GenerateResponse(models.AttackBenign, "hello", benign); msg != "Request processed successfully." {
		t.Fatalf("unexpected benign response: %s", msg)
	}
}

func TestBruteForceCountdown(t *testing.T) {
	engine, store := newTestEngine(23)

	sess := store.GetOrCreate("fp-brute", models.AttackBruteForce)

	msg := engine.GenerateResponse(models.AttackBruteForce, "admin:admin", sess)
	if !strings.Contains(msg, "3 attempts remaining") {
		t.Fatalf("expected 3 attempts remaining, got: %s", msg)
	}

	sess.AttemptCount = 2
	msg = engine.GenerateResponse(models.AttackBruteForce, "admin:letmein", sess)
	if !strings.Contains(msg, "1 attempts remaining") {
		t.Fatalf("expected 1 attempt remaining, got: %s", msg)
	}

	sess.AttemptCount = 3
	msg = engine.GenerateResponse(models.AttackBruteForce, "admin:password", sess)
	if !strings.Contains(msg, "temporarily locked") {
		t.Fatalf("expected lockout message, got: %s", msg)
	}
	if sess.CurrentStage != 1 {
		t.Fatalf("brute force must not mutate stage, got %d", sess.CurrentStage)
	}
}

func TestUnknownAttackTypeFallsBackToBenign(t *testing.T) {
	engine, store := newTestEngine(29)

	sess := store.GetOrCreate("fp-unknown", "LDAP_INJECTION")
	msg := engine.GenerateResponse("LDAP_INJECTION", "*)(uid=*", sess)
	if msg != "Request processed successfully." {
		t.Fatalf("unknown attack type should answer benign, got: %s", msg)
	}
}

func TestAttackTypePinnedOnFirstUse(t *testing.T) {
	engine, store := newTestEngine(31)

	sess := store.GetOrCreate("fp-pin", "")
	engine.GenerateResponse(models.AttackXSS, "<script>", sess)
	if sess.AttackType != models.AttackXSS {
		t.Fatalf("attack type not pinned, got %q", sess.AttackType)
	}

	engine.GenerateResponse(models.AttackSQLI, "' OR 1=1", sess)
	if sess.AttackType != models.AttackXSS {
		t.Fatalf("attack type must not be overwritten, got %q", sess.AttackType)
	}
}

func TestFlavorTextRate(t *testing.T) {
	engine, store := newTestEngine(37)

	withFlavor := 0
	const trials = 400
	for i := 0; i < trials; i++ {
		sess := store.GetOrCreate("fp-flavor", models.AttackSQLI)
		sess.DBType = models.DBMySQL
		sess.CurrentStage = 4
		msg := engine.GenerateResponse(models.AttackSQLI, "' OR 1=1", sess)
		// The terminal MySQL message is single-line; any newline is flavor.
		if strings.Contains(msg, "\n") {
			withFlavor++
		}
	}

	rate := float64(withFlavor) / float64(trials)
	if rate < 0.15 || rate > 0.45 {
		t.Fatalf("flavor rate %0.2f outside expected band around 0.30", rate)
	}
}
