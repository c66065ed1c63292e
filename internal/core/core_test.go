package core

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pillbot/internal/scheduler"
	"pillbot/internal/storage"
	"pillbot/internal/transport"
	"pillbot/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	deleted  []transport.MessageRef
	answers  []string
	fileData []byte
	nextID   int
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	return nil
}

func (f *fakeAdapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return f.fileData, nil
}

func (f *fakeAdapter) lastSent(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatalf("nothing was sent")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeAdapter) lastAnswer(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		t.Fatalf("no callback was answered")
	}
	return f.answers[len(f.answers)-1]
}

const (
	testUserID  = int64(1001)
	testAdminID = int64(9001)
	testChatID  = int64(-500)
)

func newTestBot(t *testing.T) (*Bot, *fakeAdapter, *storage.Store) {
	t.Helper()

	store, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	adapter := &fakeAdapter{}
	rt := scheduler.New(scheduler.Config{RetryInterval: time.Hour, MaxRetries: 3},
		store, ReminderSender{Adapter: adapter}, logx.Nop())
	t.Cleanup(rt.StopAll)

	b := NewBot(BotConfig{
		Store:    store,
		Adapter:  adapter,
		Runtime:  rt,
		AdminIDs: []int64{testAdminID},
	})
	return b, adapter, store
}

func msg(from int64, text string) transport.Update {
	return transport.Update{
		Kind: transport.UpdateMessage,
		Message: &transport.Message{
			ID: 1, ChatID: testChatID, FromID: from,
			FromUsername: "tester", FromFirst: "Test", Text: text,
		},
	}
}

func callback(from int64, messageID int, data string) transport.Update {
	return transport.Update{
		Kind: transport.UpdateCallback,
		Callback: &transport.Callback{
			ID: "cb1", FromID: from, ChatID: testChatID, MessageID: messageID, Data: data,
		},
	}
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in       string
		cmd, arg string
	}{
		{"/start", "/start", ""},
		{"/setreminder 08:00,12:00", "/setreminder", "08:00,12:00"},
		{"/help@pillbot", "/help", ""},
		{"/SETDELAY 90", "/setdelay", "90"},
		{"hello there", "", ""},
		{"  /whoami  ", "/whoami", ""},
	}
	for _, tc := range cases {
		cmd, arg := splitCommand(tc.in)
		if cmd != tc.cmd || arg != tc.arg {
			t.Fatalf("splitCommand(%q) = (%q, %q), want (%q, %q)", tc.in, cmd, arg, tc.cmd, tc.arg)
		}
	}
}

func TestStartAndSetReminder(t *testing.T) {
	b, adapter, store := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, msg(testUserID, "/start"))
	if !strings.Contains(adapter.lastSent(t), "Hi Test") {
		t.Fatalf("greeting missing: %q", adapter.lastSent(t))
	}

	b.HandleUpdate(ctx, msg(testUserID, "/setreminder 08:00,12:00,20:00"))
	if !strings.Contains(adapter.lastSent(t), "Schedule saved") {
		t.Fatalf("save confirmation missing: %q", adapter.lastSent(t))
	}

	u, err := store.UserByTelegramID(ctx, testUserID)
	if err != nil {
		t.Fatalf("user not created: %v", err)
	}
	sc, err := store.ActiveSchedule(ctx, u.ID, testChatID)
	if err != nil {
		t.Fatalf("schedule not created: %v", err)
	}
	if len(sc.Times) != 3 || sc.Times[1] != "12:00" {
		t.Fatalf("schedule times = %v", sc.Times)
	}
	if recurring, _, _ := b.runtime.TimerCounts(); recurring != 3 {
		t.Fatalf("registered triggers = %d, want 3", recurring)
	}

	// A second schedule in the same chat is rejected.
	b.HandleUpdate(ctx, msg(testUserID, "/setreminder 09:00"))
	if !strings.Contains(adapter.lastSent(t), "already have a schedule") {
		t.Fatalf("duplicate schedule reply: %q", adapter.lastSent(t))
	}
}

func TestSetReminderRejectsBadTimes(t *testing.T) {
	b, adapter, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, msg(testUserID, "/setreminder 8am,25:00"))
	if !strings.Contains(adapter.lastSent(t), "not valid") {
		t.Fatalf("validation reply: %q", adapter.lastSent(t))
	}
}

func TestDeleteReminderCancelsEverything(t *testing.T) {
	b, adapter, store := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, msg(testUserID, "/start"))
	b.HandleUpdate(ctx, msg(testUserID, "/setreminder 08:00,12:00"))

	u, _ := store.UserByTelegramID(ctx, testUserID)
	sc, _ := store.ActiveSchedule(ctx, u.ID, testChatID)
	rem, err := store.CreateReminder(ctx, sc.ID, 0)
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	b.HandleUpdate(ctx, msg(testUserID, "/deletereminder"))
	if !strings.Contains(adapter.lastSent(t), "deleted") {
		t.Fatalf("delete reply: %q", adapter.lastSent(t))
	}

	if _, err := store.ActiveSchedule(ctx, u.ID, testChatID); err == nil {
		t.Fatalf("schedule still active after delete")
	}
	got, err := store.ReminderByID(ctx, rem.ID)
	if err != nil {
		t.Fatalf("reminder lookup: %v", err)
	}
	if got.Status != storage.StatusCancelled {
		t.Fatalf("reminder status = %s, want cancelled", got.Status)
	}
	if recurring, _, _ := b.runtime.TimerCounts(); recurring != 0 {
		t.Fatalf("triggers after delete = %d, want 0", recurring)
	}
}

func TestConfirmCallback(t *testing.T) {
	b, adapter, store := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, msg(testUserID, "/start"))
	b.HandleUpdate(ctx, msg(testUserID, "/setreminder 08:00,12:00"))

	u, _ := store.UserByTelegramID(ctx, testUserID)
	sc, _ := store.ActiveSchedule(ctx, u.ID, testChatID)
	rem, err := store.CreateReminder(ctx, sc.ID, 0)
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	if err := store.SetReminderMessage(ctx, rem.ID, 55); err != nil {
		t.Fatalf("set message: %v", err)
	}

	// Someone else's press is refused.
	b.HandleUpdate(ctx, callback(testAdminID, 55, cbConfirmPrefix+rem.ID))
	if !strings.Contains(adapter.lastAnswer(t), "not yours") {
		t.Fatalf("foreign press answer: %q", adapter.lastAnswer(t))
	}
	if got, _ := store.ReminderByID(ctx, rem.ID); got.Status != storage.StatusPending {
		t.Fatalf("foreign press changed status to %s", got.Status)
	}

	// The owner's press confirms.
	b.HandleUpdate(ctx, callback(testUserID, 55, cbConfirmPrefix+rem.ID))
	got, err := store.ReminderByID(ctx, rem.ID)
	if err != nil {
		t.Fatalf("reminder lookup: %v", err)
	}
	if got.Status != storage.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", got.Status)
	}
	if got.ActualConfirmedAt == nil || got.DelayMinutes == nil {
		t.Fatalf("confirmation bookkeeping missing: %+v", got)
	}

	adapter.mu.Lock()
	deleted := len(adapter.deleted)
	adapter.mu.Unlock()
	if deleted != 1 || adapter.deleted[0].MessageID != 55 {
		t.Fatalf("reminder message not cleaned up: %+v", adapter.deleted)
	}
	// The reward reply went out after the confirm.
	if adapter.lastSent(t) == "" {
		t.Fatalf("no reward sent")
	}

	// A second press is a no-op.
	b.HandleUpdate(ctx, callback(testUserID, 55, cbConfirmPrefix+rem.ID))
	if !strings.Contains(adapter.lastAnswer(t), "Already confirmed") {
		t.Fatalf("double press answer: %q", adapter.lastAnswer(t))
	}
}

func TestConfirmTriggersSequentialContinuation(t *testing.T) {
	b, _, store := newTestBot(t)
	ctx := context.Background()

	// Pin both clocks so the continuation math is deterministic: confirming
	// the 08:00 slot at 08:30 puts the next fire at 09:30, in the future.
	now := time.Date(2026, 3, 10, 8, 30, 0, 0, time.Local)
	b.now = func() time.Time { return now }
	b.runtime.SetClock(func() time.Time { return now })
	store.SetClock(func() time.Time { return now })

	b.HandleUpdate(ctx, msg(testUserID, "/start"))
	b.HandleUpdate(ctx, msg(testUserID, "/sequential on"))
	b.HandleUpdate(ctx, msg(testUserID, "/setreminder 08:00,09:00"))

	u, _ := store.UserByTelegramID(ctx, testUserID)
	sc, err := store.ActiveSchedule(ctx, u.ID, testChatID)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !sc.Sequential {
		t.Fatalf("schedule not sequential")
	}

	// Creating a sequential schedule seeds today's chain.
	first, err := store.FirstPendingReminder(ctx, sc.ID)
	if err != nil || first == nil {
		t.Fatalf("chain not seeded: %v %v", first, err)
	}
	if first.SequenceOrder != 0 {
		t.Fatalf("first order = %d, want 0", first.SequenceOrder)
	}

	if err := store.SetReminderMessage(ctx, first.ID, 55); err != nil {
		t.Fatalf("set message: %v", err)
	}
	b.HandleUpdate(ctx, callback(testUserID, 55, cbConfirmPrefix+first.ID))

	got, _ := store.ReminderByID(ctx, first.ID)
	if got.Status != storage.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", got.Status)
	}
	if got.DelayMinutes == nil || *got.DelayMinutes != 30 {
		t.Fatalf("delay = %v, want 30", got.DelayMinutes)
	}

	// The next reminder in the chain is claimed with a continuation armed.
	if _, _, continuations := b.runtime.TimerCounts(); continuations != 1 {
		t.Fatalf("continuation timers = %d, want 1", continuations)
	}
}

func TestAdminGate(t *testing.T) {
	b, adapter, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, msg(testUserID, "/listmessages"))
	if !strings.Contains(adapter.lastSent(t), "administrators only") {
		t.Fatalf("gate reply: %q", adapter.lastSent(t))
	}

	b.HandleUpdate(ctx, msg(testAdminID, "/addreminder Take your pills now!"))
	if !strings.Contains(adapter.lastSent(t), "template added") {
		t.Fatalf("admin add reply: %q", adapter.lastSent(t))
	}
}

func TestCustomStatusCommands(t *testing.T) {
	b, adapter, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, msg(testUserID, "/start"))

	// Not available to regular users.
	b.HandleUpdate(ctx, msg(testUserID, "/setstatus 1001 sneaky"))
	if !strings.Contains(adapter.lastSent(t), "administrators only") {
		t.Fatalf("gate reply: %q", adapter.lastSent(t))
	}

	b.HandleUpdate(ctx, msg(testAdminID, "/setstatus 1001 Pill champion 🏆"))
	if !strings.Contains(adapter.lastSent(t), "Pill champion") {
		t.Fatalf("set reply: %q", adapter.lastSent(t))
	}

	b.HandleUpdate(ctx, msg(testUserID, "/whoami"))
	if got := adapter.lastSent(t); !strings.Contains(got, "Status: Pill champion 🏆") {
		t.Fatalf("whoami without status line: %q", got)
	}

	b.HandleUpdate(ctx, msg(testAdminID, "/clearstatus 1001"))
	if !strings.Contains(adapter.lastSent(t), "cleared") {
		t.Fatalf("clear reply: %q", adapter.lastSent(t))
	}
	b.HandleUpdate(ctx, msg(testUserID, "/whoami"))
	if got := adapter.lastSent(t); strings.Contains(got, "Status:") {
		t.Fatalf("whoami still shows a status: %q", got)
	}

	// Unknown targets and malformed arguments get usage-style replies.
	b.HandleUpdate(ctx, msg(testAdminID, "/setstatus 424242 ghost"))
	if !strings.Contains(adapter.lastSent(t), "No user") {
		t.Fatalf("unknown target reply: %q", adapter.lastSent(t))
	}
	b.HandleUpdate(ctx, msg(testAdminID, "/setstatus 1001"))
	if !strings.Contains(adapter.lastSent(t), "Usage") {
		t.Fatalf("missing text reply: %q", adapter.lastSent(t))
	}
	b.HandleUpdate(ctx, msg(testAdminID, "/clearstatus not-a-number"))
	if !strings.Contains(adapter.lastSent(t), "Usage") {
		t.Fatalf("bad id reply: %q", adapter.lastSent(t))
	}
}

func TestQuizFlow(t *testing.T) {
	b, adapter, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, msg(testAdminID, "/createquiz meds basics"))
	b.HandleUpdate(ctx, msg(testAdminID, "/addquestion meds | with food? | yes | no | sometimes | never | 1"))
	if !strings.Contains(adapter.lastSent(t), "Question added") {
		t.Fatalf("add question reply: %q", adapter.lastSent(t))
	}

	b.HandleUpdate(ctx, msg(testUserID, "/startquiz meds"))
	if !strings.Contains(adapter.lastSent(t), "with food?") {
		t.Fatalf("question not sent: %q", adapter.lastSent(t))
	}

	// Wrong option first: rejected quiz answers name the right one.
	b.HandleUpdate(ctx, callback(testUserID, 10, cbQuizPrefix+"1"))
	if ans := adapter.lastAnswer(t); !strings.Contains(ans, "Wrong") || !strings.Contains(ans, "yes") {
		t.Fatalf("wrong-answer toast: %q", ans)
	}
	if !strings.Contains(adapter.lastSent(t), "Quiz finished") {
		t.Fatalf("summary missing: %q", adapter.lastSent(t))
	}

	// Session is gone; quiz can restart.
	b.HandleUpdate(ctx, msg(testUserID, "/startquiz meds"))
	if !strings.Contains(adapter.lastSent(t), "with food?") {
		t.Fatalf("restart failed: %q", adapter.lastSent(t))
	}

	b.HandleUpdate(ctx, msg(testUserID, "/cancelquiz"))
	if !strings.Contains(adapter.lastSent(t), "cancelled") {
		t.Fatalf("cancel reply: %q", adapter.lastSent(t))
	}
}

func TestQuizImportDocument(t *testing.T) {
	b, adapter, store := newTestBot(t)
	ctx := context.Background()

	adapter.fileData = []byte(`{
		"test_name": "imported",
		"questions": [
			{"question": "q1", "answers": ["a", "b"], "correct_answer": 1},
			{"question": "q2", "answers": ["x", "y", "z"], "correct_answer": 0}
		]
	}`)

	doc := transport.Update{
		Kind: transport.UpdateDocument,
		Document: &transport.Document{
			Message:  transport.Message{ChatID: testChatID, FromID: testAdminID},
			FileName: "quiz.json",
			FileID:   "file1",
		},
	}
	b.HandleUpdate(ctx, doc)
	if !strings.Contains(adapter.lastSent(t), "Imported quiz") {
		t.Fatalf("import reply: %q", adapter.lastSent(t))
	}

	questions, err := store.QuestionsByQuiz(ctx, "imported")
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("imported questions = %d, want 2", len(questions))
	}

	// Non-admin documents are ignored.
	doc.Document.Message.FromID = testUserID
	before := len(adapter.sent)
	b.HandleUpdate(ctx, doc)
	if len(adapter.sent) != before {
		t.Fatalf("non-admin import produced a reply")
	}
}
