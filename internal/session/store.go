package session

import (
	"errors"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"deception-service/internal/models"
	"deception-service/internal/util"
)

// ErrSessionNotFound is returned by diagnostic lookups for fingerprints that
// have never been seen. The normal handling path never hits it; it uses
// GetOrCreate.
var ErrSessionNotFound = errors.New("session not found")

const (
	// historyLimit bounds the per-session attempt history; oldest entries
	// are dropped first.
	historyLimit = 50

	// rawInputLimit caps the stored length of a single payload, in runes.
	rawInputLimit = 500

	defaultShardCount = 64
)

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*models.AttackerSession
}

// Store keeps all attacker sessions in memory, sharded by fingerprint so
// unrelated attackers do not contend on one lock. Sessions are created lazily
// and live for the process lifetime; a restart loses them. That durability
// limitation is accepted: the fingerprint is restart-stable, so a returning
// attacker simply starts a fresh narrative.
type Store struct {
	shards []*shard
	rng    *util.Rand
}

// NewStore creates a session store. The randomness source decides each new
// session's fake database identity and must be seedable for tests.
func NewStore(rng *util.Rand) *Store {
	s := &Store{
		shards: make([]*shard, defaultShardCount),
		rng:    rng,
	}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*models.AttackerSession)}
	}
	return s
}

func (s *Store) shardFor(fingerprint string) *shard {
	h := murmur3.Sum64([]byte(fingerprint))
	return s.shards[h%uint64(len(s.shards))]
}

// GetOrCreate returns the session for a fingerprint, creating it on first
// sight. Creation is a critical section: at most one session object ever
// exists per fingerprint, even when the first attempts race. A new session
// starts at stage 1 with a database identity drawn uniformly from the four
// known types; that identity never changes afterwards.
func (s *Store) GetOrCreate(fingerprint, attackType string) *models.AttackerSession {
	sh := s.shardFor(fingerprint)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sess, ok := sh.sessions[fingerprint]; ok {
		return sess
	}

	now := time.Now().UTC()
	sess := &models.AttackerSession{
		Fingerprint:  fingerprint,
		AttackType:   attackType,
		CurrentStage: 1,
		DBType:       s.rng.Pick(models.DBTypes),
		FirstSeen:    now,
		LastSeen:     now,
	}
	sh.sessions[fingerprint] = sess
	return sess
}

// Get looks up an existing session without creating one. It returns a
// snapshot copy: callers serialize it for diagnostic views, and handing out
// the live object would let them observe writes happening under other locks.
func (s *Store) Get(fingerprint string) (*models.AttackerSession, error) {
	sh := s.shardFor(fingerprint)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sess, ok := sh.sessions[fingerprint]
	if !ok {
		return nil, ErrSessionNotFound
	}

	snapshot := *sess
	snapshot.History = append([]models.SessionHistory(nil), sess.History...)
	return &snapshot, nil
}

// RecordAttempt registers one handled attempt: bumps the attempt counter,
// refreshes last_seen and appends a history entry with the payload truncated
// to rawInputLimit runes. History is trimmed to the newest historyLimit
// entries. The whole read-modify-write runs under the shard lock so
// concurrent attempts from the same fingerprint cannot lose counter updates.
func (s *Store) RecordAttempt(sess *models.AttackerSession, rawInput, response, attackType string) {
	sh := s.shardFor(sess.Fingerprint)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := time.Now().UTC()
	sess.AttemptCount++
	sess.LastSeen = now
	sess.History = append(sess.History, models.SessionHistory{
		Timestamp:  now,
		RawInput:   truncateRunes(rawInput, rawInputLimit),
		Stage:      sess.CurrentStage,
		Response:   response,
		AttackType: attackType,
	})
	if len(sess.History) > historyLimit {
		sess.History = sess.History[len(sess.History)-historyLimit:]
	}
}

// PinAttackType sets the session's attack type on first classified use. A
// session created before the classifier spoke has an empty type; once set it
// is never overwritten.
func (s *Store) PinAttackType(sess *models.AttackerSession, attackType string) {
	sh := s.shardFor(sess.Fingerprint)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sess.AttackType == "" {
		sess.AttackType = attackType
	}
}

// SetGuessedTable remembers the table name the attacker was told about, so
// later stages keep referring to the same object.
func (s *Store) SetGuessedTable(sess *models.AttackerSession, table string) {
	sh := s.shardFor(sess.Fingerprint)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess.GuessedTable = table
}

// SetGuessedColumn remembers the column name used in the stage-3 error.
func (s *Store) SetGuessedColumn(sess *models.AttackerSession, column string) {
	sh := s.shardFor(sess.Fingerprint)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess.GuessedColumn = column
}

// AdvanceStage moves the session one stage forward, up to the ceiling for its
// attack type (4 for SQLI, 3 otherwise). At the ceiling it is a no-op; the
// stage never wraps or decreases.
func (s *Store) AdvanceStage(sess *models.AttackerSession) {
	sh := s.shardFor(sess.Fingerprint)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sess.CurrentStage < MaxStage(sess.AttackType) {
		sess.CurrentStage++
	}
}

// MaxStage returns the stage ceiling for an attack type.
func MaxStage(attackType string) int {
	if attackType == models.AttackSQLI {
		return 4
	}
	return 3
}

// Stats returns a snapshot of the store. Shards are read one at a time, so
// the totals are eventually consistent under concurrent writes; that is
// acceptable for a diagnostic view.
func (s *Store) Stats() models.SessionStats {
	stats := models.SessionStats{
		AttackTypes:       make(map[string]int),
		StageDistribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0},
	}
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			stats.TotalSessions++
			attackType := sess.AttackType
			if attackType == "" {
				attackType = "UNKNOWN"
			}
			stats.AttackTypes[attackType]++
			stats.StageDistribution[sess.CurrentStage]++
		}
		sh.mu.RUnlock()
	}
	return stats
}

// truncateRunes cuts s to at most limit runes. Counting runes rather than
// bytes keeps multi-byte characters intact at the boundary; invalid UTF-8 is
// replaced during the conversion rather than rejected.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit])
}
