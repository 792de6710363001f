package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
)

// Claim represents a row in the claims table (orig spec §3 Claim node).
type Claim struct {
	ID              string `json:"id"`
	Subject         string `json:"subject"`
	Object          string `json:"object"` // "NONE" when the claim has no object entity
	ClaimType       string `json:"claim_type"`
	Status          string `json:"status"` // TRUE, FALSE, SUSPECTED
	Description     string `json:"description"`
	StartDate       string `json:"start_date,omitempty"`
	EndDate         string `json:"end_date,omitempty"`
	SourceText      string `json:"source_text"`
	OccurrenceCount int    `json:"occurrence_count"`
}

// ClaimID computes the deterministic id of a claim from its identity fields
// (subject:object:type:description), matching the Entity hashing scheme.
func ClaimID(subject, object, claimType, description string) string {
	key := strings.ToUpper(strings.TrimSpace(subject)) + ":" +
		strings.ToUpper(strings.TrimSpace(object)) + ":" +
		strings.ToUpper(strings.TrimSpace(claimType)) + ":" +
		strings.ToUpper(strings.TrimSpace(description))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// CreateClaim upserts a Claim node and links MAKES_CLAIM / ABOUT / SOURCED_FROM
// edges. subjectEntityID is required; objectEntityID is 0 when object == "NONE".
// Re-creating the same claim (same deterministic id) increments occurrence_count
// rather than duplicating the row, matching the idempotent-upsert invariant of
// orig §3/§4.5.
func (s *Store) CreateClaim(ctx context.Context, c Claim, subjectEntityID, objectEntityID int64, sourceChunkID int64) (string, error) {
	if c.ID == "" {
		c.ID = ClaimID(c.Subject, c.Object, c.ClaimType, c.Description)
	}
	if c.Object == "" {
		c.Object = "NONE"
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO claims (id, subject, object, claim_type, status, description,
				start_date, end_date, source_text, occurrence_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(id) DO UPDATE SET
				occurrence_count = claims.occurrence_count + 1,
				status = excluded.status
		`, c.ID, c.Subject, c.Object, c.ClaimType, c.Status, c.Description,
			nullableString(c.StartDate), nullableString(c.EndDate), c.SourceText)
		if err != nil {
			return fmt.Errorf("upserting claim: %w", err)
		}
		_ = res

		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO claim_entities (claim_id, entity_id, edge_type) VALUES (?, ?, 'MAKES_CLAIM')",
			c.ID, subjectEntityID); err != nil {
			return err
		}
		if objectEntityID != 0 {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO claim_entities (claim_id, entity_id, edge_type) VALUES (?, ?, 'ABOUT')",
				c.ID, objectEntityID); err != nil {
				return err
			}
		}
		if sourceChunkID != 0 {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO claim_chunks (claim_id, chunk_id) VALUES (?, ?)",
				c.ID, sourceChunkID); err != nil {
				return err
			}
		}
		return nil
	})
	return c.ID, err
}

// ClaimFilter narrows ClaimsQuery results (orig §6 claims_query).
type ClaimFilter struct {
	Entity    string
	ClaimType string
	Status    string
	Limit     int
}

// QueryClaims returns claims matching the given filter.
func (s *Store) QueryClaims(ctx context.Context, f ClaimFilter) ([]Claim, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var where []string
	var args []interface{}
	if f.Entity != "" {
		where = append(where, "(UPPER(subject) = UPPER(?) OR UPPER(object) = UPPER(?))")
		args = append(args, f.Entity, f.Entity)
	}
	if f.ClaimType != "" {
		where = append(where, "claim_type = ?")
		args = append(args, f.ClaimType)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := "SELECT id, subject, object, claim_type, status, COALESCE(description,''), " +
		"COALESCE(start_date,''), COALESCE(end_date,''), COALESCE(source_text,''), occurrence_count FROM claims"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurrence_count DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []Claim
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.ID, &c.Subject, &c.Object, &c.ClaimType, &c.Status, &c.Description,
			&c.StartDate, &c.EndDate, &c.SourceText, &c.OccurrenceCount); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// SourceChunksForClaim returns the chunk ids a claim is SOURCED_FROM.
func (s *Store) SourceChunksForClaim(ctx context.Context, claimID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT chunk_id FROM claim_chunks WHERE claim_id = ?", claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PruneOrphanedClaims deletes claims whose SOURCED_FROM chunks have all been
// removed — the "a Claim is deleted iff all its SOURCED_FROM TextUnits are
// deleted" invariant of orig §3.
func (s *Store) PruneOrphanedClaims(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM claims WHERE id NOT IN (SELECT DISTINCT claim_id FROM claim_chunks)
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
