package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pillbot/internal/quiz"
	"pillbot/internal/storage"
	"pillbot/internal/transport"
	"pillbot/pkg/logx"
)

// manualQuestionOptions is the fixed option count for questions added via
// /addquestion. Imported quizzes may use 2..10 options.
const manualQuestionOptions = 4

func (b *Bot) cmdCreateQuiz(ctx context.Context, m *transport.Message, args string) {
	name, description, _ := strings.Cut(strings.TrimSpace(args), " ")
	if name == "" {
		b.reply(ctx, m.ChatID, "Usage: /createquiz <name> [description]")
		return
	}

	q, err := b.store.CreateQuiz(ctx, name, strings.TrimSpace(description))
	if errors.Is(err, storage.ErrQuizExists) {
		b.reply(ctx, m.ChatID, fmt.Sprintf("Quiz %q already exists.", name))
		return
	}
	if err != nil {
		b.reply(ctx, m.ChatID, fmt.Sprintf("Could not create the quiz: %v", err))
		return
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf("Quiz %q created. Add questions with /addquestion.", q.Name))
}

func (b *Bot) cmdListQuizzes(ctx context.Context, m *transport.Message) {
	list, err := b.store.ListQuizzes(ctx)
	if err != nil {
		b.log.Error("listing quizzes failed", logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not list quizzes.")
		return
	}
	if len(list) == 0 {
		b.reply(ctx, m.ChatID, "No quizzes yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Quizzes:\n")
	for _, q := range list {
		fmt.Fprintf(&sb, "\n• %s (%d questions)", q.Name, q.QuestionCount)
		if q.Description != "" {
			fmt.Fprintf(&sb, "\n  %s", q.Description)
		}
	}
	sb.WriteString("\n\nStart one with /startquiz <name>.")
	b.reply(ctx, m.ChatID, sb.String())
}

func (b *Bot) cmdDeleteQuiz(ctx context.Context, m *transport.Message, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		b.reply(ctx, m.ChatID, "Usage: /deletequiz <name>")
		return
	}
	n, err := b.store.DeleteQuiz(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, m.ChatID, fmt.Sprintf("No quiz named %q.", name))
		return
	}
	if err != nil {
		b.log.Error("deleting quiz failed", logx.String("quiz", name), logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not delete the quiz.")
		return
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf("Quiz %q deleted along with %d questions.", name, n))
}

func (b *Bot) cmdAddQuestion(ctx context.Context, m *transport.Message, args string) {
	const usage = "Usage: /addquestion <quiz> | <question> | a1 | a2 | a3 | a4 | correct(1-4)"

	parts := strings.Split(args, "|")
	if len(parts) != manualQuestionOptions+3 {
		b.reply(ctx, m.ChatID, usage)
		return
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	quizName, question := parts[0], parts[1]
	answers := parts[2 : 2+manualQuestionOptions]
	correct, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || correct < 1 || correct > manualQuestionOptions {
		b.reply(ctx, m.ChatID, usage)
		return
	}

	opts := make([]storage.QuizOption, 0, manualQuestionOptions)
	for i, a := range answers {
		if a == "" {
			b.reply(ctx, m.ChatID, usage)
			return
		}
		opts = append(opts, storage.QuizOption{Text: a, Correct: i == correct-1})
	}

	q, err := b.store.CreateQuestion(ctx, quizName, question, opts)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, m.ChatID, fmt.Sprintf("No quiz named %q. Create it with /createquiz.", quizName))
		return
	}
	if err != nil {
		b.reply(ctx, m.ChatID, fmt.Sprintf("Could not add the question: %v", err))
		return
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf("Question added to %q (id %s).", quizName, q.ID))
}

func (b *Bot) cmdListQuestions(ctx context.Context, m *transport.Message, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		b.reply(ctx, m.ChatID, "Usage: /listquestions <quiz>")
		return
	}
	questions, err := b.store.QuestionsByQuiz(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, m.ChatID, fmt.Sprintf("No quiz named %q.", name))
		return
	}
	if err != nil {
		b.log.Error("listing questions failed", logx.String("quiz", name), logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not list questions.")
		return
	}
	if len(questions) == 0 {
		b.reply(ctx, m.ChatID, fmt.Sprintf("Quiz %q has no questions yet.", name))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Questions in %q:\n", name)
	for i, q := range questions {
		fmt.Fprintf(&sb, "\n%d. %s (id %s)\n", i+1, q.Text, q.ID)
		for j, o := range q.Options {
			mark := " "
			if o.Correct {
				mark = "✓"
			}
			fmt.Fprintf(&sb, "  %s %s) %s\n", mark, optionLabel(j), o.Text)
		}
	}
	b.reply(ctx, m.ChatID, sb.String())
}

func (b *Bot) cmdDeleteQuestion(ctx context.Context, m *transport.Message, args string) {
	id := strings.TrimSpace(args)
	if id == "" {
		b.reply(ctx, m.ChatID, "Usage: /deletequestion <id> (see /listquestions)")
		return
	}
	err := b.store.DeleteQuestion(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, m.ChatID, "No question with that id.")
		return
	}
	if err != nil {
		b.log.Error("deleting question failed", logx.String("question", id), logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not delete the question.")
		return
	}
	b.reply(ctx, m.ChatID, "Question deleted.")
}

func (b *Bot) cmdImportQuizHint(ctx context.Context, m *transport.Message) {
	b.reply(ctx, m.ChatID, `Send me a .json file shaped like:

{"test_name": "anatomy", "questions": [
  {"question": "...", "answers": ["a", "b", "c"], "correct_answer": 0}
]}

correct_answer is the zero-based index into answers.`)
}

// handleDocument treats any .json document from an admin as a quiz import.
func (b *Bot) handleDocument(ctx context.Context, d *transport.Document) {
	if !b.isAdmin(d.Message.FromID) {
		return
	}
	if !strings.HasSuffix(strings.ToLower(d.FileName), ".json") {
		return
	}

	data, err := b.adapter.DownloadFile(ctx, d.FileID)
	if err != nil {
		b.log.Error("quiz file download failed", logx.String("file", d.FileName), logx.Err(err))
		b.reply(ctx, d.Message.ChatID, "Could not download the file, please try again.")
		return
	}

	name, questions, err := quiz.ParseImport(data)
	if err != nil {
		b.reply(ctx, d.Message.ChatID, fmt.Sprintf("Import failed: %v", err))
		return
	}

	if _, err := b.store.CreateQuiz(ctx, name, ""); err != nil && !errors.Is(err, storage.ErrQuizExists) {
		b.reply(ctx, d.Message.ChatID, fmt.Sprintf("Import failed: %v", err))
		return
	}
	added := 0
	for _, q := range questions {
		if _, err := b.store.CreateQuestion(ctx, name, q.Text, q.Options); err != nil {
			b.reply(ctx, d.Message.ChatID, fmt.Sprintf(
				"Import stopped after %d questions: %v", added, err))
			return
		}
		added++
	}
	b.reply(ctx, d.Message.ChatID, fmt.Sprintf("Imported quiz %q with %d questions.", name, added))
}

func (b *Bot) cmdStartQuiz(ctx context.Context, m *transport.Message, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		b.reply(ctx, m.ChatID, "Usage: /startquiz <name> (see /listquizzes)")
		return
	}

	questions, err := b.store.QuestionsByQuiz(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, m.ChatID, fmt.Sprintf("No quiz named %q.", name))
		return
	}
	if err != nil {
		b.log.Error("loading quiz failed", logx.String("quiz", name), logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not load the quiz.")
		return
	}
	if len(questions) == 0 {
		b.reply(ctx, m.ChatID, fmt.Sprintf("Quiz %q has no questions yet.", name))
		return
	}

	s, err := b.quizzes.Start(m.FromID, m.ChatID, name, questions)
	if errors.Is(err, quiz.ErrSessionActive) {
		b.reply(ctx, m.ChatID, "Finish or /cancelquiz your current quiz first.")
		return
	}
	if err != nil {
		b.reply(ctx, m.ChatID, fmt.Sprintf("Could not start the quiz: %v", err))
		return
	}

	b.sendQuestion(ctx, m.ChatID, s)
}

func (b *Bot) cmdCancelQuiz(ctx context.Context, m *transport.Message) {
	if err := b.quizzes.Cancel(m.FromID, m.ChatID); errors.Is(err, quiz.ErrNoSession) {
		b.reply(ctx, m.ChatID, "You have no quiz running.")
		return
	}
	b.reply(ctx, m.ChatID, "Quiz cancelled.")
}

// sendQuestion renders the session's current question with one answer button
// per option.
func (b *Bot) sendQuestion(ctx context.Context, chatID int64, s *quiz.Session) {
	q := s.Current()
	if q == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question %d/%d:\n\n%s\n\n", s.Index+1, len(s.Questions), q.Text)
	for i, o := range q.Options {
		fmt.Fprintf(&sb, "%s) %s\n", optionLabel(i), o.Text)
	}

	_, err := b.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, sb.String(),
		&transport.SendOptions{ReplyMarkupAdapter: quizMarkup(len(q.Options))})
	if err != nil {
		b.log.Warn("sending question failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}
