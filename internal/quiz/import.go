package quiz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"pillbot/internal/storage"
)

// Import caps, mirroring what a chat UI can reasonably present.
const (
	maxImportQuestions = 200
	maxImportAnswers   = 10
)

type importFile struct {
	TestName  string           `json:"test_name"`
	Questions []importQuestion `json:"questions"`
}

type importQuestion struct {
	Question      string   `json:"question"`
	Answers       []string `json:"answers"`
	CorrectAnswer int      `json:"correct_answer"`
}

// ImportedQuestion is one validated question from an uploaded quiz file.
type ImportedQuestion struct {
	Text    string
	Options []storage.QuizOption
}

// ParseImport validates an uploaded quiz JSON document:
//
//	{"test_name": "...", "questions": [{"question": "...", "answers": [...], "correct_answer": 0}]}
//
// correct_answer is a zero-based index into answers. Every validation error
// names the offending question so the uploader can fix the file.
func ParseImport(data []byte) (name string, questions []ImportedQuestion, err error) {
	var f importFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return "", nil, fmt.Errorf("invalid quiz file: %w", err)
	}

	f.TestName = strings.TrimSpace(f.TestName)
	if f.TestName == "" {
		return "", nil, fmt.Errorf("quiz file is missing test_name")
	}
	if len(f.Questions) == 0 {
		return "", nil, fmt.Errorf("quiz file has no questions")
	}
	if len(f.Questions) > maxImportQuestions {
		return "", nil, fmt.Errorf("quiz file has %d questions, limit is %d", len(f.Questions), maxImportQuestions)
	}

	out := make([]ImportedQuestion, 0, len(f.Questions))
	for i, q := range f.Questions {
		text := strings.TrimSpace(q.Question)
		if text == "" {
			return "", nil, fmt.Errorf("question %d: empty text", i+1)
		}
		if len(q.Answers) < 2 {
			return "", nil, fmt.Errorf("question %d: needs at least 2 answers, has %d", i+1, len(q.Answers))
		}
		if len(q.Answers) > maxImportAnswers {
			return "", nil, fmt.Errorf("question %d: has %d answers, limit is %d", i+1, len(q.Answers), maxImportAnswers)
		}
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Answers) {
			return "", nil, fmt.Errorf("question %d: correct_answer %d out of range [0, %d]", i+1, q.CorrectAnswer, len(q.Answers)-1)
		}

		opts := make([]storage.QuizOption, 0, len(q.Answers))
		for j, a := range q.Answers {
			a = strings.TrimSpace(a)
			if a == "" {
				return "", nil, fmt.Errorf("question %d: answer %d is empty", i+1, j+1)
			}
			opts = append(opts, storage.QuizOption{Text: a, Correct: j == q.CorrectAnswer})
		}
		out = append(out, ImportedQuestion{Text: text, Options: opts})
	}
	return f.TestName, out, nil
}
