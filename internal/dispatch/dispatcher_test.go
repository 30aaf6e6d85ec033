package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"remindd/internal/model"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

type sentMessage struct {
	recipient string
	subject   string
	body      string
}

// fakeSender records sends and can fail the first N attempts.
type fakeSender struct {
	failFirst int
	sent      []sentMessage
}

func (f *fakeSender) Send(_ context.Context, recipient, subject, body string) error {
	if f.failFirst > 0 {
		f.failFirst--
		return errors.New("smtp: connection refused")
	}
	f.sent = append(f.sent, sentMessage{recipient, subject, body})
	return nil
}

type fixture struct {
	svc    *Service
	store  storage.Store
	sender *fakeSender
	orgID  int64
	userID int64
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "remindd.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	orgID, err := st.CreateOrganization(ctx, model.Organization{Name: "acme", IsActive: true})
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	userID, err := st.CreateUser(ctx, model.User{Email: "dev@acme.test", DisplayName: "Dev", OrgID: orgID})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	sender := &fakeSender{}
	return &fixture{
		svc:    New(cfg, st, sender, logx.Nop()),
		store:  st,
		sender: sender,
		orgID:  orgID,
		userID: userID,
	}
}

func (f *fixture) seed(t *testing.T, n model.Notification) {
	t.Helper()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := f.store.CreateNotification(context.Background(), n); err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}
}

func (f *fixture) undelivered(t *testing.T) []model.Notification {
	t.Helper()
	got, err := f.store.ListUndelivered(context.Background(), 100)
	if err != nil {
		t.Fatalf("ListUndelivered: %v", err)
	}
	return got
}

func TestRunDeliversAndMarks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	occ := now.Add(time.Hour)

	f.seed(t, model.Notification{
		ID: "r1", EventID: 1, UserID: f.userID,
		Type: model.NotifReminder, OccurrenceStart: &occ, Message: "planning",
	})

	if err := f.svc.Run(ctx, now); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(f.sender.sent))
	}
	msg := f.sender.sent[0]
	if msg.recipient != "dev@acme.test" {
		t.Fatalf("recipient = %q", msg.recipient)
	}
	if !strings.Contains(msg.subject, "planning") || !strings.Contains(msg.body, "10:00") {
		t.Fatalf("rendered payload: subject=%q body=%q", msg.subject, msg.body)
	}
	if left := f.undelivered(t); len(left) != 0 {
		t.Fatalf("record not marked delivered: %v", left)
	}
}

func TestRunStaleReminderSkippedButMarked(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{ReminderCutoff: time.Minute})
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	started := now.Add(-10 * time.Minute)
	imminent := now.Add(30 * time.Second)
	fine := now.Add(10 * time.Minute)
	f.seed(t, model.Notification{ID: "started", UserID: f.userID, Type: model.NotifReminder, OccurrenceStart: &started, Message: "a", CreatedAt: now.Add(-3 * time.Minute)})
	f.seed(t, model.Notification{ID: "imminent", UserID: f.userID, Type: model.NotifReminder, OccurrenceStart: &imminent, Message: "b", CreatedAt: now.Add(-2 * time.Minute)})
	f.seed(t, model.Notification{ID: "fine", UserID: f.userID, Type: model.NotifReminder, OccurrenceStart: &fine, Message: "c", CreatedAt: now.Add(-time.Minute)})

	if err := f.svc.Run(ctx, now); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.sender.sent) != 1 || f.sender.sent[0].subject != "Reminder: c" {
		t.Fatalf("sent = %+v, want only the fresh reminder", f.sender.sent)
	}
	// Stale records are completed, not left for retry.
	if left := f.undelivered(t); len(left) != 0 {
		t.Fatalf("stale records left undelivered: %v", left)
	}
}

func TestRunSkipsSandboxTenant(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	sandboxOrg, err := f.store.CreateOrganization(ctx, model.Organization{Name: "demo", IsActive: true, IsSandbox: true})
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	sandboxUser, err := f.store.CreateUser(ctx, model.User{Email: "demo@acme.test", OrgID: sandboxOrg})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	f.seed(t, model.Notification{ID: "s1", UserID: sandboxUser, Type: model.NotifInvite, Message: "kickoff"})

	if err := f.svc.Run(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatalf("sandbox tenant received mail: %+v", f.sender.sent)
	}
	if left := f.undelivered(t); len(left) != 0 {
		t.Fatal("sandbox record left undelivered")
	}
}

func TestRunSkipsPlaceholderDomain(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{SkipDomains: []string{"example.com"}})
	ctx := context.Background()

	seedUser, err := f.store.CreateUser(ctx, model.User{Email: "alice@Example.COM", OrgID: f.orgID})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	f.seed(t, model.Notification{ID: "p1", UserID: seedUser, Type: model.NotifUpdate, Message: "moved"})

	if err := f.svc.Run(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatalf("placeholder domain received mail: %+v", f.sender.sent)
	}
	if left := f.undelivered(t); len(left) != 0 {
		t.Fatal("placeholder record left undelivered")
	}
}

func TestRunMissingRecipientSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.seed(t, model.Notification{ID: "m1", UserID: 99999, Type: model.NotifInvite, Message: "ghost"})

	if err := f.svc.Run(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatalf("sent to missing recipient: %+v", f.sender.sent)
	}
	if left := f.undelivered(t); len(left) != 0 {
		t.Fatal("missing-recipient record left undelivered")
	}
}

func TestRunSendFailureLeavesUndelivered(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.sender.failFirst = 1
	ctx := context.Background()

	f.seed(t, model.Notification{ID: "f1", UserID: f.userID, Type: model.NotifInvite, Message: "retreat"})

	if err := f.svc.Run(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("failed send was recorded as sent")
	}
	if left := f.undelivered(t); len(left) != 1 {
		t.Fatalf("record must stay undelivered for retry, got %d", len(left))
	}

	// Next run retries and succeeds.
	if err := f.svc.Run(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("Run (retry): %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("retry sent = %d, want 1", len(f.sender.sent))
	}
	if left := f.undelivered(t); len(left) != 0 {
		t.Fatal("record not marked after successful retry")
	}
}

func TestRunNoPayloadTypeCompletedUnsent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.seed(t, model.Notification{ID: "rm1", UserID: f.userID, Type: model.NotifRemoved})

	if err := f.svc.Run(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatalf("payload-less type was sent: %+v", f.sender.sent)
	}
	if left := f.undelivered(t); len(left) != 0 {
		t.Fatal("payload-less record left undelivered")
	}
}

func TestRenderTypes(t *testing.T) {
	t.Parallel()
	occ := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		n           model.Notification
		wantOK      bool
		wantSubject string
	}{
		{"reminder", model.Notification{Type: model.NotifReminder, Message: "sync", OccurrenceStart: &occ}, true, "Reminder: sync"},
		{"invite", model.Notification{Type: model.NotifInvite, Message: "sync"}, true, "Invitation: sync"},
		{"update", model.Notification{Type: model.NotifUpdate, Message: "sync"}, true, "Updated: sync"},
		{"cancelled", model.Notification{Type: model.NotifCancelled, Message: "sync"}, true, "Cancelled: sync"},
		{"declined", model.Notification{Type: model.NotifDeclined, Message: "sync"}, true, "Invitation declined"},
		{"announcement", model.Notification{Type: model.NotifAnnouncement, Message: "downtime"}, true, "Announcement"},
		{"removed", model.Notification{Type: model.NotifRemoved, Message: "sync"}, false, ""},
		{"unknown empty", model.Notification{Type: "mystery"}, false, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			subject, _, ok := render(tt.n)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && subject != tt.wantSubject {
				t.Fatalf("subject = %q, want %q", subject, tt.wantSubject)
			}
		})
	}
}

func TestMatchesDomain(t *testing.T) {
	t.Parallel()
	domains := []string{"example.com", "Example.org"}
	tests := []struct {
		email string
		want  bool
	}{
		{"a@example.com", true},
		{"a@EXAMPLE.COM", true},
		{"a@example.org", true},
		{"a@acme.test", false},
		{"no-at-sign", true},
	}
	for _, tt := range tests {
		if got := matchesDomain(tt.email, domains); got != tt.want {
			t.Errorf("matchesDomain(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}
