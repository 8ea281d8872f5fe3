package deception

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"deception-service/internal/util"
)

// Table names attackers commonly probe for. The substring scan over this
// list is tier one of the extraction heuristic.
var commonTables = []string{
	"users", "admin", "accounts", "members", "customers",
	"login", "user_data", "profiles", "sessions", "auth",
}

// Column names attackers commonly target.
var commonColumns = []string{
	"password", "passwd", "pwd", "pass", "username", "user",
	"email", "id", "admin", "role", "token", "hash", "salt",
}

var (
	fromPattern   = regexp.MustCompile(`from\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	selectPattern = regexp.MustCompile(`select\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
)

// normalizeSnippet prepares a fragment of the attacker's input for embedding
// in a fake error message: internal whitespace collapsed, capped at maxLen
// runes with an ellipsis marker, single quotes escaped for SQL flavor.
func normalizeSnippet(rawInput string, maxLen int) string {
	snippet := strings.Join(strings.Fields(rawInput), " ")
	if runes := []rune(snippet); len(runes) > maxLen {
		snippet = string(runes[:maxLen]) + "..."
	}
	return strings.ReplaceAll(snippet, "'", `\'`)
}

// extractTableName guesses which table the attacker is after. Tier order is
// behaviorally significant: known-name substring match, then the identifier
// after a FROM keyword, then a random pick from the known names.
func extractTableName(rawInput string, rng *util.Rand) string {
	lower := strings.ToLower(rawInput)

	for _, table := range commonTables {
		if strings.Contains(lower, table) {
			return table
		}
	}

	if m := fromPattern.FindStringSubmatch(lower); m != nil {
		return m[1]
	}

	return rng.Pick(commonTables)
}

// extractColumnName guesses the targeted column with the same three tiers,
// falling back to the identifier after SELECT.
func extractColumnName(rawInput string, rng *util.Rand) string {
	lower := strings.ToLower(rawInput)

	for _, column := range commonColumns {
		if strings.Contains(lower, column) {
			return column
		}
	}

	if m := selectPattern.FindStringSubmatch(lower); m != nil {
		return m[1]
	}

	return rng.Pick(commonColumns)
}

// newIncidentID produces a realistic-looking incident reference of the form
// INC-XXXXXXXX, unique per call.
func newIncidentID() string {
	u := uuid.New()
	return "INC-" + strings.ToUpper(hex.EncodeToString(u[:4]))
}
