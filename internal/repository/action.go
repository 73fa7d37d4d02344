package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evsched/evsched/internal/models"
)

// ActionRepository 厂商动作消息仓库
type ActionRepository struct {
	q Querier
}

// Emit 落库一条动作消息，由厂商适配器消费执行
func (r *ActionRepository) Emit(ctx context.Context, a *models.Action) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Created.IsZero() {
		a.Created = time.Now().UTC()
	}
	query := `
		INSERT INTO action (id, target_id, provider_name, action, data, created)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.q.Exec(ctx, query, a.ID, a.TargetID, a.ProviderName, a.Action, a.Data, a.Created)
	if err != nil {
		return fmt.Errorf("insert action: %w", classify(err))
	}
	return nil
}

// ListByTarget 按时间倒序列出目标的动作
func (r *ActionRepository) ListByTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]*models.Action, error) {
	query := `
		SELECT id, target_id, provider_name, action, data, created
		FROM action WHERE target_id = $1 ORDER BY created DESC LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", classify(err))
	}
	defer rows.Close()

	var actions []*models.Action
	for rows.Next() {
		a := &models.Action{}
		if err := rows.Scan(&a.ID, &a.TargetID, &a.ProviderName, &a.Action, &a.Data, &a.Created); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
