package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func (s *Store) CreateQuiz(ctx context.Context, name, description string) (*Quiz, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("quiz name is empty")
	}

	q := Quiz{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		IsActive:    true,
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT id FROM quizzes WHERE name = ?`, name).Scan(&existing)
		if err == nil {
			return fmt.Errorf("%w: %q", ErrQuizExists, name)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO quizzes(id, name, description, is_active, created_at) VALUES(?,?,?,1,?)`,
			q.ID, q.Name, q.Description, fmtTime(s.now()))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Store) QuizByName(ctx context.Context, name string) (*Quiz, error) {
	var q Quiz
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT q.id, q.name, q.description, q.is_active, q.created_at,
		        (SELECT COUNT(1) FROM quiz_questions WHERE quiz_id = q.id)
		 FROM quizzes q WHERE q.name = ?`, name).
		Scan(&q.ID, &q.Name, &q.Description, &q.IsActive, &created, &q.QuestionCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	q.CreatedAt = parseTime(created)
	return &q, nil
}

func (s *Store) ListQuizzes(ctx context.Context) ([]Quiz, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.name, q.description, q.is_active, q.created_at,
		        (SELECT COUNT(1) FROM quiz_questions WHERE quiz_id = q.id)
		 FROM quizzes q WHERE q.is_active = 1 ORDER BY q.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Quiz
	for rows.Next() {
		var q Quiz
		var created string
		if err := rows.Scan(&q.ID, &q.Name, &q.Description, &q.IsActive, &created, &q.QuestionCount); err != nil {
			return nil, err
		}
		q.CreatedAt = parseTime(created)
		out = append(out, q)
	}
	return out, rows.Err()
}

// DeleteQuiz removes a quiz and its questions, returning how many questions
// went with it.
func (s *Store) DeleteQuiz(ctx context.Context, name string) (int, error) {
	q, err := s.QuizByName(ctx, name)
	if err != nil {
		return 0, err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM quiz_questions WHERE quiz_id = ?`, q.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM quizzes WHERE id = ?`, q.ID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return q.QuestionCount, nil
}

// CreateQuestion appends a question to a quiz. Options must contain at least
// two entries with exactly one marked correct; the 4-option rule for manually
// added questions is enforced at the command layer.
func (s *Store) CreateQuestion(ctx context.Context, quizName, text string, options []QuizOption) (*QuizQuestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("question text is empty")
	}
	if len(options) < 2 {
		return nil, errors.New("question needs at least two options")
	}
	correct := 0
	for _, o := range options {
		if o.Correct {
			correct++
		}
	}
	if correct != 1 {
		return nil, errors.New("question must have exactly one correct option")
	}

	q, err := s.QuizByName(ctx, quizName)
	if err != nil {
		return nil, err
	}

	optJSON, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}

	question := QuizQuestion{
		ID:      uuid.NewString(),
		QuizID:  q.ID,
		Text:    text,
		Options: options,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quiz_questions(id, quiz_id, question_text, options, created_at) VALUES(?,?,?,?,?)`,
		question.ID, question.QuizID, question.Text, string(optJSON), fmtTime(s.now()))
	if err != nil {
		return nil, err
	}
	return &question, nil
}

func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quiz_questions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) QuestionsByQuiz(ctx context.Context, quizName string) ([]QuizQuestion, error) {
	q, err := s.QuizByName(ctx, quizName)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, quiz_id, question_text, options, created_at
		 FROM quiz_questions WHERE quiz_id = ? ORDER BY created_at`, q.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QuizQuestion
	for rows.Next() {
		var qq QuizQuestion
		var optJSON, created string
		if err := rows.Scan(&qq.ID, &qq.QuizID, &qq.Text, &optJSON, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(optJSON), &qq.Options); err != nil {
			return nil, fmt.Errorf("question %s: corrupt options: %w", qq.ID, err)
		}
		qq.CreatedAt = parseTime(created)
		out = append(out, qq)
	}
	return out, rows.Err()
}
