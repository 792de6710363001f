package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// ExternalEntityID computes the deterministic 16-hex-char id of an Entity
// from its normalized (name, type) pair (orig spec §3).
func ExternalEntityID(name, entityType string) string {
	key := strings.ToUpper(strings.TrimSpace(name)) + ":" + strings.ToUpper(strings.TrimSpace(entityType))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// UpsertEntityResolved is UpsertEntity extended with the resolver-era
// attributes: confidence (raised to the max across mentions), mention_count
// (incremented once per mention), and updated_at bookkeeping. Existing
// UpsertEntity/UpsertEntityAndLink remain the graph writer's plain MERGE
// (orig §4.5); this variant backs the extractor's per-mention writes.
func (s *Store) UpsertEntityResolved(ctx context.Context, e Entity, confidence float64) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO entities (name, entity_type, description, name_en, metadata, confidence, mention_count, aliases)
			VALUES (?, ?, ?, ?, ?, ?, 1, '[]')
			ON CONFLICT(name, entity_type) DO UPDATE SET
				description = COALESCE(entities.description, excluded.description),
				name_en = COALESCE(excluded.name_en, entities.name_en),
				metadata = excluded.metadata,
				confidence = MAX(entities.confidence, excluded.confidence),
				mention_count = entities.mention_count + 1,
				updated_at = CURRENT_TIMESTAMP
		`, e.Name, e.EntityType, e.Description, e.NameEN, e.Metadata, confidence)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if id == 0 {
			row := tx.QueryRowContext(ctx,
				"SELECT id FROM entities WHERE name = ? AND entity_type = ?", e.Name, e.EntityType)
			return row.Scan(&id)
		}
		return nil
	})
	return id, err
}

// EntityResolution carries the resolver-relevant columns for a candidate pair.
type EntityResolution struct {
	ID            int64
	Name          string
	EntityType    string
	Description   string
	Confidence    float64
	MentionCount  int
	Aliases       []string
}

// AllEntitiesForResolution returns every entity with its resolution
// attributes, used by the Resolver (orig §4.4) to enumerate same-type pairs.
func (s *Store) AllEntitiesForResolution(ctx context.Context) ([]EntityResolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, entity_type, COALESCE(description,''), confidence, mention_count, aliases
		FROM entities
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntityResolution
	for rows.Next() {
		var r EntityResolution
		var aliasJSON string
		if err := rows.Scan(&r.ID, &r.Name, &r.EntityType, &r.Description, &r.Confidence, &r.MentionCount, &aliasJSON); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(aliasJSON), &r.Aliases)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MergeEntities merges duplicate entities into primary, transactionally
// (orig §4.4 "Merge operation"):
//   - sums mention_count, takes max(confidence), appends duplicate names to aliases
//   - transfers inbound/outbound relationships, merging on (neighbor, edge_type):
//     max confidence, accumulated weight
//   - transfers MENTIONS (entity_chunks) and claim edges
//   - deletes the duplicate rows
//
// On any failure the transaction rolls back, leaving the duplicates' graph
// data intact, per the "merge must be transactional" requirement.
func (s *Store) MergeEntities(ctx context.Context, primaryID int64, duplicateIDs []int64, canonicalName string) error {
	if len(duplicateIDs) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, dupID := range duplicateIDs {
			var dupName string
			var dupConfidence float64
			var dupMentions int
			var dupAliasJSON string
			row := tx.QueryRowContext(ctx,
				"SELECT name, confidence, mention_count, aliases FROM entities WHERE id = ?", dupID)
			if err := row.Scan(&dupName, &dupConfidence, &dupMentions, &dupAliasJSON); err != nil {
				return fmt.Errorf("reading duplicate %d: %w", dupID, err)
			}
			var dupAliases []string
			_ = json.Unmarshal([]byte(dupAliasJSON), &dupAliases)

			// Merge relationships where dup is the source.
			if err := mergeRelationshipSide(ctx, tx, dupID, primaryID, true); err != nil {
				return err
			}
			// Merge relationships where dup is the target.
			if err := mergeRelationshipSide(ctx, tx, dupID, primaryID, false); err != nil {
				return err
			}

			// Transfer mentions (MENTIONS edges).
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO entity_chunks (entity_id, chunk_id) SELECT ?, chunk_id FROM entity_chunks WHERE entity_id = ?",
				primaryID, dupID); err != nil {
				return fmt.Errorf("transferring mentions: %w", err)
			}

			// Transfer claim edges (MAKES_CLAIM / ABOUT).
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO claim_entities (claim_id, entity_id, edge_type) SELECT claim_id, ?, edge_type FROM claim_entities WHERE entity_id = ?",
				primaryID, dupID); err != nil {
				return fmt.Errorf("transferring claim edges: %w", err)
			}

			// Transfer community membership.
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO entity_communities (entity_id, community_id, level, confidence) SELECT ?, community_id, level, confidence FROM entity_communities WHERE entity_id = ?",
				primaryID, dupID); err != nil {
				return fmt.Errorf("transferring community membership: %w", err)
			}

			// Fold primary's aggregate state: sum mentions, max confidence, union aliases.
			aliasSet := append(dupAliases, dupName)
			aliasJSON, _ := json.Marshal(aliasSet)
			if _, err := tx.ExecContext(ctx, `
				UPDATE entities SET
					mention_count = mention_count + ?,
					confidence = MAX(confidence, ?),
					aliases = (
						SELECT json_group_array(DISTINCT value) FROM (
							SELECT value FROM json_each(aliases)
							UNION SELECT value FROM json_each(?)
						)
					),
					updated_at = CURRENT_TIMESTAMP
				WHERE id = ?
			`, dupMentions, dupConfidence, string(aliasJSON), primaryID); err != nil {
				return fmt.Errorf("folding aggregate state: %w", err)
			}

			// Delete the duplicate last, after all edges have been transferred.
			if _, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", dupID); err != nil {
				return fmt.Errorf("deleting duplicate %d: %w", dupID, err)
			}
		}

		if canonicalName != "" {
			if _, err := tx.ExecContext(ctx, "UPDATE entities SET name = ? WHERE id = ?", canonicalName, primaryID); err != nil {
				return fmt.Errorf("renaming primary to canonical name: %w", err)
			}
		}
		return nil
	})
}

// mergeRelationshipSide re-points relationships touching dupID to primaryID
// on the given side (source when bySource, else target), merging with any
// existing (neighbor, edge_type) relationship already present on primary by
// taking max confidence and accumulating weight, then removing the
// now-redundant duplicate-side edge.
func mergeRelationshipSide(ctx context.Context, tx *sql.Tx, dupID, primaryID int64, bySource bool) error {
	col := "target_entity_id"
	moveCol := "source_entity_id"
	if !bySource {
		col = "source_entity_id"
		moveCol = "target_entity_id"
	}

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf("SELECT id, %s, relation_type, weight, confidence, description FROM relationships WHERE %s = ?", col, moveCol),
		dupID)
	if err != nil {
		return err
	}
	type rel struct {
		id                        int64
		neighbor                  int64
		relType, description      string
		weight, confidence        float64
	}
	var rels []rel
	for rows.Next() {
		var r rel
		if err := rows.Scan(&r.id, &r.neighbor, &r.relType, &r.weight, &r.confidence, &r.description); err != nil {
			rows.Close()
			return err
		}
		rels = append(rels, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range rels {
		var existingID int64
		var existingWeight, existingConfidence float64
		var row *sql.Row
		if bySource {
			row = tx.QueryRowContext(ctx,
				"SELECT id, weight, confidence FROM relationships WHERE source_entity_id = ? AND target_entity_id = ? AND relation_type = ?",
				primaryID, r.neighbor, r.relType)
		} else {
			row = tx.QueryRowContext(ctx,
				"SELECT id, weight, confidence FROM relationships WHERE source_entity_id = ? AND target_entity_id = ? AND relation_type = ?",
				r.neighbor, primaryID, r.relType)
		}
		err := row.Scan(&existingID, &existingWeight, &existingConfidence)
		switch {
		case err == sql.ErrNoRows:
			// Simple re-point.
			if bySource {
				if _, err := tx.ExecContext(ctx, "UPDATE relationships SET source_entity_id = ? WHERE id = ?", primaryID, r.id); err != nil {
					return err
				}
			} else {
				if _, err := tx.ExecContext(ctx, "UPDATE relationships SET target_entity_id = ? WHERE id = ?", primaryID, r.id); err != nil {
					return err
				}
			}
		case err != nil:
			return err
		default:
			maxConf := r.confidence
			if existingConfidence > maxConf {
				maxConf = existingConfidence
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE relationships SET weight = ?, confidence = ? WHERE id = ?",
				existingWeight+r.weight, maxConf, existingID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM relationships WHERE id = ?", r.id); err != nil {
				return err
			}
		}
	}
	return nil
}

// AllEntityNamesByMentionCount returns up to `limit` entity names ordered by
// mention_count desc, optionally filtered to entities mentioned within
// documentIDs. Used by ToG topic grounding (orig §4.10.1) and the Local
// Query Engine's top-K fallback (orig §4.8 step 1).
func (s *Store) AllEntityNamesByMentionCount(ctx context.Context, limit int, documentIDs []int64) ([]Entity, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT DISTINCT e.id, e.name, e.entity_type, COALESCE(e.description,''), e.confidence, e.mention_count
		FROM entities e`
	args := []interface{}{}
	if len(documentIDs) > 0 {
		ph := "?" + repeatPlaceholders(len(documentIDs)-1)
		query += fmt.Sprintf(`
			JOIN entity_chunks ec ON ec.entity_id = e.id
			JOIN chunks c ON c.id = ec.chunk_id
			WHERE c.document_id IN (%s)`, ph)
		for _, id := range documentIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY e.mention_count DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		var confidence float64
		var mentionCount int
		if err := rows.Scan(&e.ID, &e.Name, &e.EntityType, &e.Description, &confidence, &mentionCount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
