package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one immutable line of a task's audit trail.
// Entries are chained: Hash covers PrevHash, so rewriting any earlier entry
// breaks every hash after it.
type AuditEntry struct {
	ID       string    `json:"id"`
	Action   string    `json:"action"`
	Detail   string    `json:"detail"`
	Actor    string    `json:"actor"`
	At       time.Time `json:"at"`
	PrevHash string    `json:"prev_hash"`
	Hash     string    `json:"hash"`
}

func newAuditEntry(prev, action, detail, actor string, at time.Time) AuditEntry {
	e := AuditEntry{
		ID:       uuid.NewString(),
		Action:   action,
		Detail:   detail,
		Actor:    actor,
		At:       at.UTC(),
		PrevHash: prev,
	}
	e.Hash = e.computeHash()
	return e
}

func (e AuditEntry) computeHash() string {
	canonical := strings.Join([]string{
		e.PrevHash,
		e.ID,
		e.Action,
		e.Detail,
		e.Actor,
		e.At.UTC().Format(time.RFC3339Nano),
	}, "\x1f")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// VerifyAuditChain recomputes the hash chain and reports the first broken link.
func VerifyAuditChain(entries []AuditEntry) error {
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("audit entry %d (%s): previous hash mismatch", i, e.ID)
		}
		if e.Hash != e.computeHash() {
			return fmt.Errorf("audit entry %d (%s): hash mismatch", i, e.ID)
		}
		prev = e.Hash
	}
	return nil
}
