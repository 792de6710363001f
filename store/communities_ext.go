package store

import (
	"context"
	"database/sql"
	"encoding/json"
)

// CommunityRecord is the full orig §3 Community node, extending the plain
// Community row with the hierarchy/summarizer attributes added by
// migration 7 (parent_id, themes, significance, rating, member_count,
// summary_timestamp).
type CommunityRecord struct {
	ID               int64
	Level            int
	ParentID         *int64
	Summary          string
	Themes           []string
	Significance     string
	Rating           float64
	MemberCount      int
	SummaryTimestamp string
	EntityIDs        []int64
}

// InsertCommunityHierarchical creates (or replaces) a community node with
// its full hierarchy attributes and writes IN_COMMUNITY edges for every
// member, confidence=0.95 per orig §4.6 step 2.
func (s *Store) InsertCommunityHierarchical(ctx context.Context, level int, parentID *int64, entityIDs []int64) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		idsJSON, _ := json.Marshal(entityIDs)
		res, err := tx.ExecContext(ctx,
			"INSERT INTO communities (level, parent_id, entity_ids, member_count) VALUES (?, ?, ?, ?)",
			level, parentID, string(idsJSON), len(entityIDs))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for _, eid := range entityIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entity_communities (entity_id, community_id, level, confidence)
				VALUES (?, ?, ?, 0.95)
				ON CONFLICT(entity_id, community_id, level) DO UPDATE SET confidence = excluded.confidence
			`, eid, id, level); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

// SetCommunitySummary persists the structured summarizer output of orig §4.7.
func (s *Store) SetCommunitySummary(ctx context.Context, communityID int64, title, summary string, rating float64, significance string, themes []string) error {
	themesJSON, _ := json.Marshal(themes)
	_, err := s.db.ExecContext(ctx, `
		UPDATE communities SET
			summary = ?, themes = ?, rating = ?, significance = ?, summary_timestamp = CURRENT_TIMESTAMP
		WHERE id = ?
	`, combineTitleSummary(title, summary), string(themesJSON), rating, significance, communityID)
	return err
}

func combineTitleSummary(title, summary string) string {
	if title == "" {
		return summary
	}
	return title + "\n\n" + summary
}

// CommunitiesByLevelHierarchical returns communities at a level with their
// full hierarchy attributes, ordered leaves-first when level is descending
// by the caller.
func (s *Store) CommunitiesByLevelHierarchical(ctx context.Context, level int) ([]CommunityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, level, parent_id, COALESCE(summary,''), COALESCE(themes,'[]'),
			COALESCE(significance,''), COALESCE(rating,0), member_count, COALESCE(summary_timestamp,''), entity_ids
		FROM communities WHERE level = ?
	`, level)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommunityRecord
	for rows.Next() {
		var c CommunityRecord
		var parentID sql.NullInt64
		var themesJSON, idsJSON string
		if err := rows.Scan(&c.ID, &c.Level, &parentID, &c.Summary, &themesJSON,
			&c.Significance, &c.Rating, &c.MemberCount, &c.SummaryTimestamp, &idsJSON); err != nil {
			return nil, err
		}
		if parentID.Valid {
			c.ParentID = &parentID.Int64
		}
		_ = json.Unmarshal([]byte(themesJSON), &c.Themes)
		_ = json.Unmarshal([]byte(idsJSON), &c.EntityIDs)
		out = append(out, c)
	}
	return out, rows.Err()
}

// AllCommunitiesWithSummaries returns every community that has a non-empty
// summary, used by the global query engine's map-reduce and fallback paths
// (orig §4.9) to assemble its context.
func (s *Store) AllCommunitiesWithSummaries(ctx context.Context) ([]CommunityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, level, parent_id, COALESCE(summary,''), COALESCE(themes,'[]'),
			COALESCE(significance,''), COALESCE(rating,0), member_count, COALESCE(summary_timestamp,''), entity_ids
		FROM communities WHERE summary IS NOT NULL AND summary != ''
		ORDER BY rating DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommunityRecord
	for rows.Next() {
		var c CommunityRecord
		var parentID sql.NullInt64
		var themesJSON, idsJSON string
		if err := rows.Scan(&c.ID, &c.Level, &parentID, &c.Summary, &themesJSON,
			&c.Significance, &c.Rating, &c.MemberCount, &c.SummaryTimestamp, &idsJSON); err != nil {
			return nil, err
		}
		if parentID.Valid {
			c.ParentID = &parentID.Int64
		}
		_ = json.Unmarshal([]byte(themesJSON), &c.Themes)
		_ = json.Unmarshal([]byte(idsJSON), &c.EntityIDs)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCommunities returns the total number of community nodes, used to
// decide whether global query should run map-reduce or its single-call
// fallback (orig §4.9's T_mr threshold).
func (s *Store) CountCommunities(ctx context.Context) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM communities")
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MaxCommunityLevel returns the highest level with any community, or -1 if
// none exist.
func (s *Store) MaxCommunityLevel(ctx context.Context) (int, error) {
	var level sql.NullInt64
	row := s.db.QueryRowContext(ctx, "SELECT MAX(level) FROM communities")
	if err := row.Scan(&level); err != nil {
		return -1, err
	}
	if !level.Valid {
		return -1, nil
	}
	return int(level.Int64), nil
}

// PruneEmptyCommunities deletes community nodes with zero IN_COMMUNITY
// inbound edges, per orig §3's "Community nodes with zero IN_COMMUNITY
// inbound edges must be pruned after any detection run".
func (s *Store) PruneEmptyCommunities(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM communities WHERE id NOT IN (SELECT DISTINCT community_id FROM entity_communities)
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteEntityCommunityEdges removes IN_COMMUNITY edges for the given
// entities — step 2 of incremental community detection (orig §4.6).
func (s *Store) DeleteEntityCommunityEdges(ctx context.Context, entityIDs []int64) error {
	if len(entityIDs) == 0 {
		return nil
	}
	ph := "?" + repeatPlaceholders(len(entityIDs)-1)
	args := make([]interface{}, len(entityIDs))
	for i, id := range entityIDs {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM entity_communities WHERE entity_id IN ("+ph+")", args...)
	return err
}

// CommunitiesForEntities returns the distinct community ids that any of the
// given entities currently belong to — used to compute the "affected
// communities" set for incremental detection (orig §4.6/§4.12).
func (s *Store) CommunitiesForEntities(ctx context.Context, entityIDs []int64) ([]int64, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	ph := "?" + repeatPlaceholders(len(entityIDs)-1)
	args := make([]interface{}, len(entityIDs))
	for i, id := range entityIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT community_id FROM entity_communities WHERE entity_id IN ("+ph+")", args...)
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

// MembersOfCommunities returns the union of entity ids that are members of
// any of the given community ids.
func (s *Store) MembersOfCommunities(ctx context.Context, communityIDs []int64) ([]int64, error) {
	if len(communityIDs) == 0 {
		return nil, nil
	}
	ph := "?" + repeatPlaceholders(len(communityIDs)-1)
	args := make([]interface{}, len(communityIDs))
	for i, id := range communityIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT entity_id FROM entity_communities WHERE community_id IN ("+ph+")", args...)
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
