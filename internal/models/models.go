package models

import (
	"time"
)

// Attack types supplied by the upstream classifier.
const (
	AttackSQLI       = "SQLI"
	AttackXSS        = "XSS"
	AttackSSI        = "SSI"
	AttackBruteForce = "BRUTE_FORCE"
	AttackBenign     = "BENIGN"
)

// Fake database identities assigned to attacker sessions.
const (
	DBMySQL      = "MySQL"
	DBPostgreSQL = "PostgreSQL"
	DBSQLite     = "SQLite"
	DBMariaDB    = "MariaDB"
)

// DBTypes lists the database identities a new session may be assigned.
var DBTypes = []string{DBMySQL, DBPostgreSQL, DBSQLite, DBMariaDB}

// Severity levels for threat reports.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// SessionHistory is a single recorded attempt within an attacker session.
type SessionHistory struct {
	Timestamp  time.Time `json:"timestamp"`
	RawInput   string    `json:"raw_input"`
	Stage      int       `json:"stage"`
	Response   string    `json:"response"`
	AttackType string    `json:"attack_type"`
}

// AttackerSession tracks one attacker, keyed by fingerprint, across the
// progressive deception stages. DBType is assigned once at creation and never
// changes so that error messages stay internally consistent across attempts.
type AttackerSession struct {
	Fingerprint   string           `json:"attacker_fingerprint"`
	AttemptCount  int              `json:"attempt_count"`
	AttackType    string           `json:"attack_type,omitempty"`
	CurrentStage  int              `json:"current_stage"`
	DBType        string           `json:"db_type"`
	GuessedTable  string           `json:"guessed_table,omitempty"`
	GuessedColumn string           `json:"guessed_column,omitempty"`
	History       []SessionHistory `json:"history"`
	FirstSeen     time.Time        `json:"first_seen"`
	LastSeen      time.Time        `json:"last_seen"`
}

// Classification is the verdict produced by the external classifier for one
// raw input. The service consumes it; it never computes it.
type Classification struct {
	AttackType  string  `json:"attack_type"`
	Confidence  float64 `json:"confidence"`
	IsMalicious bool    `json:"is_malicious"`
}

// ThreatReport is a privacy-preserving record of a novel attack pattern.
// PatternHash commits to the normalized payload without revealing it, and
// IPHash is a truncated one-way hash of the source address.
type ThreatReport struct {
	Timestamp   time.Time `json:"timestamp"`
	AttackType  string    `json:"attack_type"`
	PatternHash string    `json:"pattern_hash"`
	Signature   string    `json:"signature"`
	IPHash      string    `json:"ip_hash"`
	Confidence  float64   `json:"confidence"`
	Severity    string    `json:"severity"`
}

// AttackEvent is the finished record of one handled attempt, handed to the
// configured sinks (durable log, live feed) after the response is produced.
type AttackEvent struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Fingerprint  string    `json:"fingerprint"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	RawInput     string    `json:"raw_input"`
	AttackType   string    `json:"attack_type"`
	Confidence   float64   `json:"confidence"`
	IsMalicious  bool      `json:"is_malicious"`
	Stage        int       `json:"stage"`
	DBType       string    `json:"db_type"`
	Response     string    `json:"response"`
	DelayApplied float64   `json:"delay_applied"`
	Novel        bool      `json:"novel"`
}

// SessionStats is a point-in-time snapshot of the session store.
type SessionStats struct {
	TotalSessions     int            `json:"total_sessions"`
	AttackTypes       map[string]int `json:"attack_types"`
	StageDistribution map[int]int    `json:"stage_distribution"`
}

// ThreatIntelStats aggregates the in-memory threat intelligence state.
type ThreatIntelStats struct {
	TotalPatterns          int            `json:"total_patterns"`
	TotalReports           int            `json:"total_reports"`
	RecentReports          int            `json:"recent_reports"`
	AttackTypeDistribution map[string]int `json:"attack_type_distribution"`
	SeverityDistribution   map[string]int `json:"severity_distribution"`
}

// KnownAttackType reports whether the classifier verdict is one the deception
// engine has a dedicated path for.
func KnownAttackType(t string) bool {
	switch t {
	case AttackSQLI, AttackXSS, AttackSSI, AttackBruteForce, AttackBenign:
		return true
	}
	return false
}
