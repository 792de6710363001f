package store

import (
	"context"
	"database/sql"
)

// DocumentGraphDeleteStats reports the outcome of DeleteDocumentGraphData
// (orig §4.5).
type DocumentGraphDeleteStats struct {
	TextUnitsDeleted int64
	EntitiesDeleted  int64
	EntitiesAffected int64
	ClaimsDeleted    int64
}

// DeleteDocumentGraphData removes a document's TextUnits, claims sourced
// only from them, and entities whose mentions were exclusively within those
// TextUnits (orphans) — decrementing mention_count on entities that are only
// partially affected. The document row itself is left untouched; callers
// that also want it gone should follow up with DeleteDocument.
func (s *Store) DeleteDocumentGraphData(ctx context.Context, docID int64) (DocumentGraphDeleteStats, error) {
	var stats DocumentGraphDeleteStats

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Entities mentioned exclusively within this document's chunks.
		orphanRows, err := tx.QueryContext(ctx, `
			SELECT entity_id FROM entity_chunks
			WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)
			GROUP BY entity_id
			HAVING COUNT(*) = (SELECT COUNT(*) FROM entity_chunks ec2 WHERE ec2.entity_id = entity_chunks.entity_id)
		`, docID)
		if err != nil {
			return err
		}
		var orphanIDs []int64
		for orphanRows.Next() {
			var id int64
			if err := orphanRows.Scan(&id); err != nil {
				orphanRows.Close()
				return err
			}
			orphanIDs = append(orphanIDs, id)
		}
		orphanRows.Close()
		if err := orphanRows.Err(); err != nil {
			return err
		}

		// Partially affected entities: mentioned here but also elsewhere.
		affectedRows, err := tx.QueryContext(ctx, `
			SELECT DISTINCT entity_id FROM entity_chunks
			WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)
		`, docID)
		if err != nil {
			return err
		}
		var mentionedIDs []int64
		for affectedRows.Next() {
			var id int64
			if err := affectedRows.Scan(&id); err != nil {
				affectedRows.Close()
				return err
			}
			mentionedIDs = append(mentionedIDs, id)
		}
		affectedRows.Close()
		if err := affectedRows.Err(); err != nil {
			return err
		}

		orphanSet := make(map[int64]bool, len(orphanIDs))
		for _, id := range orphanIDs {
			orphanSet[id] = true
		}

		for _, id := range mentionedIDs {
			removedMentions, err := countMentionsInDoc(ctx, tx, id, docID)
			if err != nil {
				return err
			}
			if orphanSet[id] {
				continue // will be deleted outright below
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE entities SET mention_count = MAX(0, mention_count - ?), updated_at = CURRENT_TIMESTAMP WHERE id = ?",
				removedMentions, id); err != nil {
				return err
			}
			stats.EntitiesAffected++
		}

		// Claims sourced only from this document's chunks.
		claimRows, err := tx.QueryContext(ctx, `
			SELECT claim_id FROM claim_chunks
			WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)
			GROUP BY claim_id
			HAVING COUNT(*) = (SELECT COUNT(*) FROM claim_chunks cc2 WHERE cc2.claim_id = claim_chunks.claim_id)
		`, docID)
		if err != nil {
			return err
		}
		var orphanClaims []string
		for claimRows.Next() {
			var id string
			if err := claimRows.Scan(&id); err != nil {
				claimRows.Close()
				return err
			}
			orphanClaims = append(orphanClaims, id)
		}
		claimRows.Close()
		if err := claimRows.Err(); err != nil {
			return err
		}
		for _, cid := range orphanClaims {
			if _, err := tx.ExecContext(ctx, "DELETE FROM claims WHERE id = ?", cid); err != nil {
				return err
			}
			stats.ClaimsDeleted++
		}

		for _, eid := range orphanIDs {
			if _, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", eid); err != nil {
				return err
			}
			stats.EntitiesDeleted++
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM relationships WHERE source_chunk_id IN (
				SELECT id FROM chunks WHERE document_id = ?
			)`, docID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (
				SELECT id FROM chunks WHERE document_id = ?
			)`, docID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", docID)
		if err != nil {
			return err
		}
		stats.TextUnitsDeleted, _ = res.RowsAffected()
		return nil
	})

	return stats, err
}

// EntityIDsForDocument returns the distinct entities mentioned in a
// document's chunks, used to seed the affected-entity set for incremental
// community detection before the document's graph data is deleted (orig
// §4.12 step 3).
func (s *Store) EntityIDsForDocument(ctx context.Context, docID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_id FROM entity_chunks
		WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)
	`, docID)
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

func countMentionsInDoc(ctx context.Context, tx *sql.Tx, entityID, docID int64) (int64, error) {
	var n int64
	row := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entity_chunks
		WHERE entity_id = ? AND chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)
	`, entityID, docID)
	err := row.Scan(&n)
	return n, err
}

// IncrementDocumentVersion bumps a document's version by one (orig §4.12
// step 2, "increment version" on a genuine content change).
func (s *Store) IncrementDocumentVersion(ctx context.Context, id int64) (int, error) {
	var version int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, "SELECT version FROM documents WHERE id = ?", id)
		return row.Scan(&version)
	})
	return version, err
}

// MarkDocumentProcessed sets status=completed/failed and stamps
// last_processed_at, per orig §4.12 step 8.
func (s *Store) MarkDocumentProcessed(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, last_processed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, id)
	return err
}

// DocumentVersion returns the current version and content_hash for a
// document, used by the incremental update controller's hash short-circuit.
func (s *Store) DocumentVersion(ctx context.Context, id int64) (version int, contentHash string, err error) {
	row := s.db.QueryRowContext(ctx, "SELECT version, content_hash FROM documents WHERE id = ?", id)
	err = row.Scan(&version, &contentHash)
	return
}
