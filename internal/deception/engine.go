package deception

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"deception-service/internal/models"
	"deception-service/internal/session"
	"deception-service/internal/util"
)

// Flavor lines occasionally appended to SQL error messages so that repeated
// probes do not see byte-identical responses. {conn_id} and {thread_id} are
// filled with fake values.
var flavorTexts = []string{
	"Please contact your database administrator if the problem persists.",
	"Check the manual for more information.",
	"This error has been logged for security review.",
	"For assistance, contact support@example.com",
	"Error logged to /var/log/mysql/error.log",
	"Connection ID: {conn_id}",
	"Thread ID: {thread_id}",
}

const flavorChance = 0.3

// dangerousChars is the character set the fake XSS sanitizer claims to strip,
// in reporting order.
var dangerousChars = []string{"<", ">", "/", `"`, "'", "(", ")"}

const cspViolationMessage = `Refused to execute inline script because it violates the following Content Security Policy directive: "script-src 'self' https://cdn.trusted.com https://analytics.trusted.com". Either the 'unsafe-inline' keyword, a hash ('sha256-...'), or a nonce ('nonce-...') is required to enable inline execution.`

const ssiMessage = "Error: Server-side includes are disabled on this server. SSI directives have been stripped from your input."

const benignMessage = "Request processed successfully."

// Engine produces stage-appropriate deceptive responses, the "narrative of
// failure": each response looks like a plausible backend error one step
// closer to success than the last. Only SQLI and XSS advance the session
// stage; SSI, BRUTE_FORCE and BENIGN answers are flat.
type Engine struct {
	store  *session.Store
	rng    *util.Rand
	logger *zap.Logger
}

// NewEngine creates a deception engine. Stage advancement goes through the
// given store so stage ceilings are enforced in one place.
func NewEngine(store *session.Store, rng *util.Rand, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		rng:    rng,
		logger: logger,
	}
}

// GenerateResponse returns the deceptive text for one attempt and applies any
// stage side effects to the session. The session's attack type is pinned on
// first use. An attack type outside the known set falls back to the benign
// answer: the deception layer must always produce plausible text, never a
// visible fault.
func (e *Engine) GenerateResponse(attackType, rawInput string, sess *models.AttackerSession) string {
	e.store.PinAttackType(sess, attackType)

	switch attackType {
	case models.AttackSQLI:
		return e.sqliResponse(rawInput, sess)
	case models.AttackXSS:
		return e.xssResponse(rawInput, sess)
	case models.AttackSSI:
		return ssiMessage
	case models.AttackBruteForce:
		return e.bruteForceResponse(sess)
	case models.AttackBenign:
		return benignMessage
	default:
		e.logger.Warn("unknown attack type, answering with benign response",
			zap.String("attack_type", attackType),
			zap.String("fingerprint", sess.Fingerprint),
		)
		return benignMessage
	}
}

// sqliResponse walks the four-stage SQL injection narrative: syntax error,
// table not found, column not found, permission denied. Table and column
// names "discovered" at stages 2 and 3 are remembered on the session so later
// messages stay consistent with what the attacker believes they learned.
func (e *Engine) sqliResponse(rawInput string, sess *models.AttackerSession) string {
	var message string

	switch sess.CurrentStage {
	case 1:
		snippet := normalizeSnippet(rawInput, 40)
		switch sess.DBType {
		case models.DBMySQL:
			message = fmt.Sprintf("Error 1064: You have an error in your SQL syntax; check the manual that corresponds to your %s server version for the right syntax to use near '%s' at line 1", sess.DBType, snippet)
		case models.DBPostgreSQL:
			message = fmt.Sprintf("ERROR: syntax error at or near \"%s\"\nLINE 1: %s\n        ^\nSQL state: 42601", snippet, snippet)
		default:
			message = fmt.Sprintf("Error: near \"%s\": syntax error", snippet)
		}
		e.store.AdvanceStage(sess)

	case 2:
		table := extractTableName(rawInput, e.rng)
		e.store.SetGuessedTable(sess, table)
		switch sess.DBType {
		case models.DBMySQL:
			message = fmt.Sprintf("Error 1146: Table 'webapp_db.%s' doesn't exist", table)
		case models.DBPostgreSQL:
			message = fmt.Sprintf("ERROR: relation \"%s\" does not exist\nLINE 1: SELECT * FROM %s\n                      ^\nSQL state: 42P01", table, table)
		default:
			message = fmt.Sprintf("Error: no such table: %s", table)
		}
		e.store.AdvanceStage(sess)

	case 3:
		column := extractColumnName(rawInput, e.rng)
		e.store.SetGuessedColumn(sess, column)
		table := sess.GuessedTable
		if table == "" {
			table = "users"
		}
		switch sess.DBType {
		case models.DBMySQL:
			message = fmt.Sprintf("Error 1054: Unknown column '%s' in 'field list'", column)
		case models.DBPostgreSQL:
			message = fmt.Sprintf("ERROR: column \"%s\" does not exist\nLINE 1: SELECT %s FROM %s\n               ^\nSQL state: 42703", column, column, table)
		default:
			message = fmt.Sprintf("Error: no such column: %s", column)
		}
		e.store.AdvanceStage(sess)

	default:
		// Terminal stage: the attacker is stuck at permission denied.
		table := sess.GuessedTable
		if table == "" {
			table = "users"
		}
		switch sess.DBType {
		case models.DBMySQL:
			message = "Error 1045: Access denied for user 'webapp_user'@'localhost' (using password: YES)"
		case models.DBPostgreSQL:
			message = fmt.Sprintf("FATAL: permission denied for table %s\nSQL state: 28P01", table)
		default:
			message = "Error: attempt to write a readonly database"
		}
	}

	return e.addFlavor(message)
}

// xssResponse walks the three-stage XSS narrative: CSP violation, input
// sanitization, obfuscation alert.
func (e *Engine) xssResponse(rawInput string, sess *models.AttackerSession) string {
	switch sess.CurrentStage {
	case 1:
		e.store.AdvanceStage(sess)
		return cspViolationMessage

	case 2:
		var found []string
		for _, c := range dangerousChars {
			if strings.Contains(rawInput, c) {
				found = append(found, c)
			}
		}
		if len(found) == 0 {
			found = dangerousChars
		}
		message := fmt.Sprintf("Input Blocked: Potential XSS detected. The following characters were stripped: %s\nYour input has been sanitized for security. Incident ID: %s",
			strings.Join(found, " "), newIncidentID())
		e.store.AdvanceStage(sess)
		return message

	default:
		return fmt.Sprintf("Security Alert: Obfuscated or encoded script content detected. Your request has been logged and blocked.\nIncident ID: %s\nTimestamp: %s\nThis incident has been reported to the security team.",
			newIncidentID(), sess.LastSeen.Format(time.RFC3339))
	}
}

// bruteForceResponse counts down from three allowed attempts, then reports a
// temporary lockout. The counter is the session's total attempt count; no
// stage is involved.
func (e *Engine) bruteForceResponse(sess *models.AttackerSession) string {
	attemptsLeft := 3 - sess.AttemptCount
	if attemptsLeft > 0 {
		return fmt.Sprintf("Invalid credentials. %d attempts remaining before account lockout.", attemptsLeft)
	}
	return "Account temporarily locked due to multiple failed login attempts. Please try again in 15 minutes."
}

// addFlavor appends one realism line to roughly 30% of SQL messages.
func (e *Engine) addFlavor(message string) string {
	if e.rng.Float64() >= flavorChance {
		return message
	}
	flavor := e.rng.Pick(flavorTexts)
	flavor = strings.ReplaceAll(flavor, "{conn_id}", fmt.Sprintf("%d", e.rng.Between(1000, 99999)))
	flavor = strings.ReplaceAll(flavor, "{thread_id}", fmt.Sprintf("%d", e.rng.Between(1, 999)))
	return message + "\n" + flavor
}
