package store

import (
	"context"
	"fmt"
)

// RelationTypeFreq is one row of the relation-type histogram incident to a
// frontier (orig §4.10.2a).
type RelationTypeFreq struct {
	RelationType string
	Frequency    int
}

// RelationTypesIncidentTo returns the relation types touching any entity
// named in frontierNames, filtered to edges with confidence above
// minConfidence, ordered by frequency descending and capped at limit.
func (s *Store) RelationTypesIncidentTo(ctx context.Context, frontierNames []string, minConfidence float64, limit int) ([]RelationTypeFreq, error) {
	if len(frontierNames) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	ph := "?" + repeatPlaceholders(len(frontierNames)-1)
	args := make([]interface{}, 0, len(frontierNames)*2+2)
	for _, n := range frontierNames {
		args = append(args, n)
	}
	for _, n := range frontierNames {
		args = append(args, n)
	}
	args = append(args, minConfidence, limit)

	query := fmt.Sprintf(`
		SELECT r.relation_type, COUNT(*) AS freq
		FROM relationships r
		JOIN entities se ON se.id = r.source_entity_id
		JOIN entities te ON te.id = r.target_entity_id
		WHERE (se.name IN (%s) OR te.name IN (%s)) AND r.confidence > ?
		GROUP BY r.relation_type
		ORDER BY freq DESC
		LIMIT ?`, ph, ph)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RelationTypeFreq
	for rows.Next() {
		var f RelationTypeFreq
		if err := rows.Scan(&f.RelationType, &f.Frequency); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RelationExpansion is a candidate target entity reached from the frontier
// via a given relation type (orig §4.10.2c).
type RelationExpansion struct {
	SourceName string
	TargetID   int64
	TargetName string
	TargetType string
	Confidence float64
}

// ExpandRelation finds target entities reachable from any entity named in
// frontierNames via relationType edges (in either direction), optionally
// restricted to chunks belonging to documentIDs, ordered by edge confidence
// then target mention_count, capped at limit.
func (s *Store) ExpandRelation(ctx context.Context, frontierNames []string, relationType string, documentIDs []int64, limit int) ([]RelationExpansion, error) {
	if len(frontierNames) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	ph := "?" + repeatPlaceholders(len(frontierNames)-1)
	args := make([]interface{}, 0, len(frontierNames)+1)
	for _, n := range frontierNames {
		args = append(args, n)
	}
	args = append(args, relationType)

	docFilter := ""
	if len(documentIDs) > 0 {
		docPh := "?" + repeatPlaceholders(len(documentIDs)-1)
		docFilter = fmt.Sprintf(`
			AND te.id IN (
				SELECT ec.entity_id FROM entity_chunks ec
				JOIN chunks c ON c.id = ec.chunk_id
				WHERE c.document_id IN (%s)
			)`, docPh)
		for _, id := range documentIDs {
			args = append(args, id)
		}
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT se.name, te.id, te.name, te.entity_type, r.confidence
		FROM relationships r
		JOIN entities se ON se.id = r.source_entity_id
		JOIN entities te ON te.id = r.target_entity_id
		WHERE se.name IN (%s) AND r.relation_type = ? %s
		ORDER BY r.confidence DESC, te.mention_count DESC
		LIMIT ?`, ph, docFilter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RelationExpansion
	for rows.Next() {
		var e RelationExpansion
		if err := rows.Scan(&e.SourceName, &e.TargetID, &e.TargetName, &e.TargetType, &e.Confidence); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MentionSnippets returns up to limit chunk content strings the named
// entity is MENTIONED in, used to hydrate topic entities and build answer
// synthesis context (orig §4.10.1 / §4.10.3).
func (s *Store) MentionSnippets(ctx context.Context, entityName string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.content FROM entity_chunks ec
		JOIN entities e ON e.id = ec.entity_id
		JOIN chunks c ON c.id = ec.chunk_id
		WHERE e.name = ?
		LIMIT ?`, entityName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		out = append(out, content)
	}
	return out, rows.Err()
}
