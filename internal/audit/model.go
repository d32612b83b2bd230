package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aquaflow/sensorhub/internal/data"
)

// Actions recorded on the trail. Only destructive operations are
// audited; reads and device submission are not.
const (
	ActionHistoryCleared = "history.cleared"
)

// Event is one administrative action. The trail is append-only and
// written best effort: a failed insert never blocks or fails the
// operation it records.
type Event struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"` // operator from the token
	RequestID string    `json:"requestId,omitempty"`
	ClientIP  string    `json:"clientIp,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Model struct {
	DB data.DBTX
}

func (m Model) Insert(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO admin_audit (id, action, subject, request_id, client_ip, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := m.DB.ExecContext(ctx, query,
		e.ID, e.Action, e.Subject, e.RequestID, e.ClientIP, e.Detail, e.CreatedAt)
	return err
}

// Recent returns the newest trail entries, most recent first.
func (m Model) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, action, subject, request_id, client_ip, detail, created_at
		FROM admin_audit
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := m.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Action, &e.Subject, &e.RequestID, &e.ClientIP, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
