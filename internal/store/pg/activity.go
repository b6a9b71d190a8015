package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"postdesk.io/internal/collab"
)

func (t *Tx) AppendActivity(ctx context.Context, rec collab.ActivityRecord) (collab.ActivityRecord, error) {
	metaJSON := []byte("{}")
	if len(rec.Metadata) > 0 {
		bytes, err := json.Marshal(rec.Metadata)
		if err != nil {
			return collab.ActivityRecord{}, fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = bytes
	}
	err := t.tx.QueryRowContext(ctx, `
		insert into activity (id, team_id, actor_id, action, entity_type, entity_id, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning seq
	`, rec.ID, rec.TeamID, rec.ActorID, rec.Action, rec.EntityType, rec.EntityID, metaJSON, rec.CreatedAt.UTC()).Scan(&rec.Seq)
	if err != nil {
		return collab.ActivityRecord{}, mapError(err, "append activity")
	}
	return rec, nil
}

func (t *Tx) ListActivity(ctx context.Context, teamID string, limit int, before *collab.ActivityCursor) ([]collab.ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const cols = `id, team_id, actor_id, action, entity_type, entity_id, metadata, created_at, seq`
	var (
		query string
		args  []any
	)
	if before == nil {
		query = `select ` + cols + ` from activity where team_id=$1 order by created_at desc, seq desc limit $2`
		args = []any{teamID, limit}
	} else {
		query = `select ` + cols + ` from activity
			where team_id=$1 and (created_at, seq) < ($2, $3)
			order by created_at desc, seq desc limit $4`
		args = []any{teamID, before.CreatedAt.UTC(), before.Seq, limit}
	}
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []collab.ActivityRecord
	for rows.Next() {
		var (
			rec     collab.ActivityRecord
			rawMeta []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TeamID, &rec.ActorID, &rec.Action, &rec.EntityType, &rec.EntityID,
			&rawMeta, &rec.CreatedAt, &rec.Seq); err != nil {
			return nil, err
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		rec.Metadata = map[string]string{}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
