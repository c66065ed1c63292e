package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// maxTemplateLength matches Telegram's message size cap.
const maxTemplateLength = 4096

// Fallback texts used when no active template of a kind exists, so the bot
// never goes silent because an admin emptied the template table.
const (
	fallbackReminderText = "⏰ Time to take your pills! Don't forget about your health."
	fallbackRewardText   = "✅ Well done! You took your pills. Keep it up!"
)

func (s *Store) CreateTemplate(ctx context.Context, kind TemplateKind, content string) (*Template, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("template content is empty")
	}
	if len(content) > maxTemplateLength {
		return nil, fmt.Errorf("template content exceeds %d characters", maxTemplateLength)
	}
	if kind != TemplateReminder && kind != TemplateReward {
		return nil, fmt.Errorf("unknown template kind %q", kind)
	}

	t := Template{
		ID:       uuid.NewString(),
		Kind:     kind,
		Content:  content,
		IsActive: true,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates(id, kind, content, is_active, created_at) VALUES(?,?,?,1,?)`,
		t.ID, t.Kind, t.Content, fmtTime(s.now()))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTemplates returns templates, optionally filtered by kind ("" = all).
func (s *Store) ListTemplates(ctx context.Context, kind TemplateKind) ([]Template, error) {
	q := `SELECT id, kind, content, is_active, created_at FROM templates`
	args := []any{}
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY kind, created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		var created string
		if err := rows.Scan(&t.ID, &t.Kind, &t.Content, &t.IsActive, &created); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RandomTemplate picks a random active template of the given kind, falling
// back to a built-in text when none exist.
func (s *Store) RandomTemplate(ctx context.Context, kind TemplateKind) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM templates WHERE kind = ? AND is_active = 1 ORDER BY RANDOM() LIMIT 1`,
		kind).Scan(&content)
	if err == nil {
		return content, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	switch kind {
	case TemplateReward:
		return fallbackRewardText, nil
	default:
		return fallbackReminderText, nil
	}
}
