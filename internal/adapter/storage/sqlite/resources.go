package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/port"
)

func (s *Store) SaveResource(ctx context.Context, r domain.Resource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (id, capacity_class, slots, total_memory_mb, available_memory_mb, in_flight,
			health, blacklist_until, consecutive_failures, last_used_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			capacity_class = excluded.capacity_class,
			slots = excluded.slots,
			total_memory_mb = excluded.total_memory_mb,
			available_memory_mb = excluded.available_memory_mb,
			in_flight = excluded.in_flight,
			health = excluded.health,
			blacklist_until = excluded.blacklist_until,
			consecutive_failures = excluded.consecutive_failures,
			last_used_at = excluded.last_used_at,
			updated_at = excluded.updated_at`,
		r.ID, string(r.Class), r.Slots, r.TotalMemoryMB, r.AvailableMemoryMB, r.InFlight,
		string(r.Health), toMillis(r.BlacklistUntil), r.ConsecutiveFailures, toMillis(r.LastUsedAt),
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save resource %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) ListResources(ctx context.Context) ([]domain.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, capacity_class, slots, total_memory_mb, available_memory_mb, in_flight,
			health, blacklist_until, consecutive_failures, last_used_at
		FROM resources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var result []domain.Resource
	for rows.Next() {
		var (
			r                 domain.Resource
			class, health     string
			until, lastUsedAt int64
		)
		if err := rows.Scan(&r.ID, &class, &r.Slots, &r.TotalMemoryMB, &r.AvailableMemoryMB, &r.InFlight,
			&health, &until, &r.ConsecutiveFailures, &lastUsedAt); err != nil {
			return nil, err
		}
		r.Class = domain.CapacityClass(class)
		r.Health = domain.Health(health)
		r.BlacklistUntil = fromMillis(until)
		r.LastUsedAt = fromMillis(lastUsedAt)
		result = append(result, r)
	}
	return result, rows.Err()
}

var _ port.ResourceStore = (*Store)(nil)
