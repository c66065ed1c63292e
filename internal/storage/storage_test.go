package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"pillbot/pkg/logx"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testUser(t *testing.T, s *Store) *User {
	t.Helper()
	u, err := s.UpsertUser(context.Background(), 100, "alice", "Alice", "")
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return u
}

func TestUpsertUserIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u1, err := s.UpsertUser(ctx, 100, "alice", "Alice", "")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	u2, err := s.UpsertUser(ctx, 100, "alice2", "Alice", "Smith")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if u1.ID != u2.ID {
		t.Fatalf("upsert created a second user: %s vs %s", u1.ID, u2.ID)
	}
	if u2.Username != "alice2" || u2.LastName != "Smith" {
		t.Fatalf("profile not refreshed: %+v", u2)
	}
	if u2.MaxDelayMinutes != DefaultDelayMinutes {
		t.Fatalf("default max delay = %d", u2.MaxDelayMinutes)
	}
}

func TestOneActiveSchedulePerUserChat(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s)

	sc, err := s.CreateSchedule(ctx, u.ID, 555, []string{"09:00", "21:00"}, false)
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	if _, err := s.CreateSchedule(ctx, u.ID, 555, []string{"10:00"}, false); !errors.Is(err, ErrScheduleExists) {
		t.Fatalf("expected ErrScheduleExists, got %v", err)
	}
	// Different chat is fine.
	if _, err := s.CreateSchedule(ctx, u.ID, 556, []string{"10:00"}, false); err != nil {
		t.Fatalf("create in other chat: %v", err)
	}

	if err := s.DeactivateSchedule(ctx, sc.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := s.CreateSchedule(ctx, u.ID, 555, []string{"11:00"}, false); err != nil {
		t.Fatalf("create after deactivate: %v", err)
	}

	if _, err := s.ActiveSchedule(ctx, u.ID, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReminderConfirmFlow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s)
	sc, err := s.CreateSchedule(ctx, u.ID, 1, []string{"09:00"}, false)
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	r, err := s.CreateReminder(ctx, sc.ID, 0)
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	if r.Status != StatusPending || r.RetryCount != 0 || r.Sent() {
		t.Fatalf("fresh reminder: %+v", r)
	}

	delay := 20
	if err := s.ConfirmReminder(ctx, r.ID, &delay); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	got, err := s.ReminderByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != StatusConfirmed || got.ActualConfirmedAt == nil || got.DelayMinutes == nil || *got.DelayMinutes != 20 {
		t.Fatalf("confirmed reminder: %+v", got)
	}

	if err := s.ConfirmReminder(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Missed is a no-op on a terminal reminder.
	if err := s.MarkReminderMissed(ctx, r.ID); err != nil {
		t.Fatalf("missed on confirmed should be a no-op: %v", err)
	}
	got, _ = s.ReminderByID(ctx, r.ID)
	if got.Status != StatusConfirmed {
		t.Fatalf("terminal state mutated: %s", got.Status)
	}
}

func TestIncrementRetryCount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s)
	sc, _ := s.CreateSchedule(ctx, u.ID, 1, []string{"09:00"}, false)
	r, _ := s.CreateReminder(ctx, sc.ID, 0)

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementRetryCount(ctx, r.ID)
		if err != nil {
			t.Fatalf("increment %d: %v", want, err)
		}
		if got.RetryCount != want {
			t.Fatalf("retry count = %d, want %d", got.RetryCount, want)
		}
	}
	if _, err := s.IncrementRetryCount(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimNextInSequence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s)
	sc, _ := s.CreateSchedule(ctx, u.ID, 1, []string{"09:00", "14:00", "21:00"}, true)
	for i := 0; i < 3; i++ {
		if _, err := s.CreateReminder(ctx, sc.ID, i); err != nil {
			t.Fatalf("create reminder %d: %v", i, err)
		}
	}

	claimed, err := s.ClaimNextInSequence(ctx, sc.ID, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.SequenceOrder != 1 || claimed.Status != StatusProcessing {
		t.Fatalf("claimed = %+v", claimed)
	}

	// A duplicate confirmation cannot claim the same reminder again.
	second, err := s.ClaimNextInSequence(ctx, sc.ID, 0)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != nil {
		t.Fatalf("second claim should find nothing, got order %d", second.SequenceOrder)
	}

	// Sent: processing -> pending with message id.
	if err := s.MarkReminderSent(ctx, claimed.ID, 777); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	sent, _ := s.ReminderByID(ctx, claimed.ID)
	if sent.Status != StatusPending || sent.MessageID != 777 {
		t.Fatalf("after send: %+v", sent)
	}
	if ok, _ := s.HasSentUnconfirmed(ctx, sc.ID); !ok {
		t.Fatal("HasSentUnconfirmed = false after send")
	}

	first, err := s.FirstPendingReminder(ctx, sc.ID)
	if err != nil || first == nil || first.SequenceOrder != 0 {
		t.Fatalf("first pending = %+v, %v", first, err)
	}
}

func TestReleaseClaim(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s)
	sc, _ := s.CreateSchedule(ctx, u.ID, 1, []string{"09:00", "14:00"}, true)
	s.CreateReminder(ctx, sc.ID, 0)
	s.CreateReminder(ctx, sc.ID, 1)

	claimed, _ := s.ClaimNextInSequence(ctx, sc.ID, 0)
	if claimed == nil {
		t.Fatal("nothing claimed")
	}
	if err := s.ReleaseClaim(ctx, claimed.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, _ := s.ReminderByID(ctx, claimed.ID)
	if got.Status != StatusPending {
		t.Fatalf("released reminder status = %s", got.Status)
	}
}

func TestResetProcessingAndSentUnconfirmed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s)
	sc, _ := s.CreateSchedule(ctx, u.ID, 42, []string{"09:00", "14:00"}, true)
	r0, _ := s.CreateReminder(ctx, sc.ID, 0)
	s.CreateReminder(ctx, sc.ID, 1)

	if err := s.SetReminderMessage(ctx, r0.ID, 321); err != nil {
		t.Fatalf("set message: %v", err)
	}
	claimed, _ := s.ClaimNextInSequence(ctx, sc.ID, 0)
	if claimed == nil {
		t.Fatal("nothing claimed")
	}

	n, err := s.ResetProcessing(ctx)
	if err != nil || n != 1 {
		t.Fatalf("reset processing = %d, %v", n, err)
	}

	sends, err := s.SentUnconfirmed(ctx)
	if err != nil {
		t.Fatalf("sent unconfirmed: %v", err)
	}
	if len(sends) != 1 || sends[0].Reminder.ID != r0.ID || sends[0].ChatID != 42 {
		t.Fatalf("sends = %+v", sends)
	}
}

func TestCancelPendingReminders(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s)
	sc, _ := s.CreateSchedule(ctx, u.ID, 1, []string{"09:00", "14:00"}, true)
	s.CreateReminder(ctx, sc.ID, 0)
	r1, _ := s.CreateReminder(ctx, sc.ID, 1)
	s.ConfirmReminder(ctx, r1.ID, nil)

	n, err := s.CancelPendingReminders(ctx, sc.ID)
	if err != nil || n != 1 {
		t.Fatalf("cancelled = %d, %v", n, err)
	}
	if ok, _ := s.HasPendingReminders(ctx, sc.ID); ok {
		t.Fatal("pending reminders remain after cancel")
	}
}

func TestSetMaxDelayBounds(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s)

	for _, bad := range []int{0, 4, 1441, -5} {
		if err := s.SetMaxDelay(ctx, u.TelegramID, bad); !errors.Is(err, ErrInvalidDelay) {
			t.Fatalf("SetMaxDelay(%d): expected ErrInvalidDelay, got %v", bad, err)
		}
	}
	if err := s.SetMaxDelay(ctx, u.TelegramID, 90); err != nil {
		t.Fatalf("SetMaxDelay(90): %v", err)
	}
	if got := s.MaxDelayMinutes(ctx, u.ID); got != 90 {
		t.Fatalf("MaxDelayMinutes = %d", got)
	}
	if got := s.MaxDelayMinutes(ctx, "no-such-user"); got != DefaultDelayMinutes {
		t.Fatalf("default MaxDelayMinutes = %d", got)
	}
}

func TestSetCustomStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s)

	if u.CustomStatus != "" {
		t.Fatalf("fresh user has status %q", u.CustomStatus)
	}

	if err := s.SetCustomStatus(ctx, u.TelegramID, "pill champion"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, err := s.UserByTelegramID(ctx, u.TelegramID)
	if err != nil || got.CustomStatus != "pill champion" {
		t.Fatalf("status = %q, %v", got.CustomStatus, err)
	}

	// Empty string clears it.
	if err := s.SetCustomStatus(ctx, u.TelegramID, ""); err != nil {
		t.Fatalf("clear status: %v", err)
	}
	got, _ = s.UserByTelegramID(ctx, u.TelegramID)
	if got.CustomStatus != "" {
		t.Fatalf("status after clear = %q", got.CustomStatus)
	}

	if err := s.SetCustomStatus(ctx, 424242, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestTemplates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Fallback when the table is empty.
	text, err := s.RandomTemplate(ctx, TemplateReminder)
	if err != nil || text == "" {
		t.Fatalf("fallback template: %q, %v", text, err)
	}

	tpl, err := s.CreateTemplate(ctx, TemplateReminder, "take your meds")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	got, err := s.RandomTemplate(ctx, TemplateReminder)
	if err != nil || got != "take your meds" {
		t.Fatalf("random template = %q, %v", got, err)
	}

	if _, err := s.CreateTemplate(ctx, TemplateReminder, "   "); err == nil {
		t.Fatal("expected error for empty content")
	}
	if _, err := s.CreateTemplate(ctx, "bogus", "x"); err == nil {
		t.Fatal("expected error for unknown kind")
	}

	list, err := s.ListTemplates(ctx, TemplateReminder)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %+v, %v", list, err)
	}
	if err := s.DeleteTemplate(ctx, tpl.ID); err != nil {
		t.Fatalf("delete template: %v", err)
	}
	if err := s.DeleteTemplate(ctx, tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRandomTemplateReturnsQueryErrors(t *testing.T) {
	s := testStore(t)

	// A real database failure must surface, not vanish into the fallback.
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.RandomTemplate(context.Background(), TemplateReminder); err == nil {
		t.Fatal("expected an error from a closed store, got fallback text")
	}
}

func TestQuizzes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.CreateQuiz(ctx, "health", "about pills"); err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	if _, err := s.CreateQuiz(ctx, "health", ""); !errors.Is(err, ErrQuizExists) {
		t.Fatalf("expected ErrQuizExists, got %v", err)
	}

	opts := []QuizOption{{Text: "a"}, {Text: "b", Correct: true}, {Text: "c"}, {Text: "d"}}
	if _, err := s.CreateQuestion(ctx, "health", "pick one", opts); err != nil {
		t.Fatalf("create question: %v", err)
	}
	if _, err := s.CreateQuestion(ctx, "health", "bad", []QuizOption{{Text: "only"}}); err == nil {
		t.Fatal("expected error for single option")
	}
	if _, err := s.CreateQuestion(ctx, "health", "bad", []QuizOption{{Text: "a", Correct: true}, {Text: "b", Correct: true}}); err == nil {
		t.Fatal("expected error for two correct options")
	}
	if _, err := s.CreateQuestion(ctx, "missing", "q", opts); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	qs, err := s.QuestionsByQuiz(ctx, "health")
	if err != nil || len(qs) != 1 || len(qs[0].Options) != 4 {
		t.Fatalf("questions = %+v, %v", qs, err)
	}

	n, err := s.DeleteQuiz(ctx, "health")
	if err != nil || n != 1 {
		t.Fatalf("delete quiz = %d, %v", n, err)
	}
	if _, err := s.QuizByName(ctx, "health"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
