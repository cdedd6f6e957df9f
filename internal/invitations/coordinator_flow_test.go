package invitations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mguest/inspectd/internal/chat"
	"github.com/mguest/inspectd/internal/crm"
	"github.com/mguest/inspectd/internal/events"
	"github.com/mguest/inspectd/internal/store"
	"github.com/mguest/inspectd/platform/apperr"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/logger"
)

type testConfig struct {
	statuses config.StatusIDs
}

func (c testConfig) GetTaskTemplateIDs() []int64         { return nil }
func (c testConfig) GetStatusIDs() config.StatusIDs      { return c.statuses }
func (c testConfig) GetFieldIDs() config.FieldIDs        { return config.FieldIDs{} }
func (c testConfig) GetWebAppBaseURL() string            { return "" }
func (c testConfig) GetWebAppSecret() string             { return "" }
func (c testConfig) GetReconcileInterval() time.Duration { return time.Second }
func (c testConfig) GetReconcileBatch() int              { return 50 }

type fakeTaskStore struct {
	mu      sync.Mutex
	rows    map[int64]*store.Task
	prompts map[int64][2]int64
}

func newFakeTaskStore(tasks ...store.Task) *fakeTaskStore {
	f := &fakeTaskStore{rows: make(map[int64]*store.Task), prompts: make(map[int64][2]int64)}
	for i := range tasks {
		row := tasks[i]
		f.rows[row.TaskID] = &row
	}
	return f
}

func (f *fakeTaskStore) GetByID(_ context.Context, taskID int64) (*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[taskID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "task not found")
	}
	cp := *row
	return &cp, nil
}

func (f *fakeTaskStore) SetAssignedGuest(_ context.Context, taskID, guestID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[taskID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "task not found")
	}
	g := guestID
	row.AssignedGuestID = &g
	row.Status = store.StatusAssigned
	return nil
}

func (f *fakeTaskStore) SetAssignmentPrompt(_ context.Context, taskID, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts[taskID] = [2]int64{chatID, messageID}
	return nil
}

func (f *fakeTaskStore) ListAssigned(_ context.Context, limit int) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Task
	for _, row := range f.rows {
		if row.AssignedGuestID == nil {
			continue
		}
		out = append(out, *row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeTaskStore) assignedGuest(taskID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[taskID]
	if !ok || row.AssignedGuestID == nil {
		return 0
	}
	return *row.AssignedGuestID
}

type fakeInvitationStore struct {
	mu   sync.Mutex
	rows []store.Invitation
}

func (f *fakeInvitationStore) Insert(_ context.Context, inv store.Invitation) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, inv)
	return inv.ID, nil
}

func (f *fakeInvitationStore) Withdraw(_ context.Context, taskID, telegramID, _ int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		row := &f.rows[i]
		if row.TaskID != taskID || row.TelegramID != telegramID || row.WithdrawnAt != nil {
			continue
		}
		now := time.Now()
		row.WithdrawnAt = &now
		return true, nil
	}
	return false, nil
}

func (f *fakeInvitationStore) WithdrawExcept(_ context.Context, taskID, keepGuestID int64) ([]store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var withdrawn []store.Invitation
	for i := range f.rows {
		row := &f.rows[i]
		if row.TaskID != taskID || row.GuestID == keepGuestID || row.WithdrawnAt != nil {
			continue
		}
		now := time.Now()
		row.WithdrawnAt = &now
		withdrawn = append(withdrawn, *row)
	}
	return withdrawn, nil
}

func (f *fakeInvitationStore) ActiveCount(_ context.Context, taskID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for i := range f.rows {
		if f.rows[i].TaskID == taskID && f.rows[i].WithdrawnAt == nil {
			n++
		}
	}
	return n, nil
}

type fakeGuestDirectory struct {
	byContact map[int64]int64
}

func (f *fakeGuestDirectory) ContactByTelegram(_ context.Context, telegramID int64) (int64, error) {
	for contactID, tg := range f.byContact {
		if tg == telegramID {
			return contactID, nil
		}
	}
	return 0, apperr.New(apperr.KindNotFound, "guest not registered")
}

func (f *fakeGuestDirectory) TelegramIDByContact(_ context.Context, contactID int64) (int64, error) {
	tg, ok := f.byContact[contactID]
	if !ok {
		return 0, apperr.New(apperr.KindNotFound, "guest not registered")
	}
	return tg, nil
}

type fakeCRM struct {
	mu          sync.Mutex
	assignees   map[string][]crm.ContactRef
	hidden      bool
	setCalls    int
	comments    []string
	statusCalls []int64
}

func (f *fakeCRM) GetTask(_ context.Context, _, _ string) (*crm.TaskSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hidden {
		return nil, apperr.New(apperr.KindNotFound, "task not visible")
	}
	return &crm.TaskSnapshot{}, nil
}

func (f *fakeCRM) GetAssignees(_ context.Context, ref string) ([]crm.ContactRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hidden {
		return nil, apperr.New(apperr.KindNotFound, "task not visible")
	}
	return f.assignees[ref], nil
}

func (f *fakeCRM) SetExecutors(_ context.Context, ref string, contactIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hidden {
		return apperr.New(apperr.KindNotFound, "task not visible")
	}
	f.setCalls++
	refs := make([]crm.ContactRef, 0, len(contactIDs))
	for _, id := range contactIDs {
		refs = append(refs, crm.ContactRef{ID: id, Raw: crm.ContactKey(id)})
	}
	if f.assignees == nil {
		f.assignees = make(map[string][]crm.ContactRef)
	}
	f.assignees[ref] = refs
	return nil
}

func (f *fakeCRM) UpdateStatus(_ context.Context, _ string, statusID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusID)
	return nil
}

func (f *fakeCRM) AddComment(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, text)
	return nil
}

func (f *fakeCRM) executorCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls
}

type sentMessage struct {
	chatID   int64
	text     string
	keyboard *chat.InlineKeyboard
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int64
	sent    []sentMessage
	deleted [][2]int64
}

func (f *fakeMessenger) Enabled() bool { return true }

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string) (chat.Message, error) {
	return f.record(chatID, text, nil)
}

func (f *fakeMessenger) SendMessageWithKeyboard(_ context.Context, chatID int64, text string, keyboard *chat.InlineKeyboard) (chat.Message, error) {
	return f.record(chatID, text, keyboard)
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, [2]int64{chatID, messageID})
	return nil
}

func (f *fakeMessenger) record(chatID int64, text string, keyboard *chat.InlineKeyboard) (chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, keyboard: keyboard})
	return chat.Message{MessageID: f.nextID, Chat: chat.Chat{ID: chatID}}, nil
}

func (f *fakeMessenger) countText(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.text == text {
			n++
		}
	}
	return n
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) countName(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

func newTestCoordinator(tasks *fakeTaskStore, invites *fakeInvitationStore, guests *fakeGuestDirectory, crmClient *fakeCRM, bot *fakeMessenger, bus *recordingBus) *Coordinator {
	cfg := testConfig{statuses: config.StatusIDs{WaitingVisit: 113, WaitingForm: 114}}
	return NewCoordinator(tasks, invites, guests, crmClient, bot, bus, cfg, cfg, cfg, logger.New("test"))
}

func seedInvitation(invites *fakeInvitationStore, taskID, guestID, telegramID, messageID int64) {
	id := messageID
	invites.rows = append(invites.rows, store.Invitation{
		ID:         int64(len(invites.rows) + 1),
		TaskID:     taskID,
		GuestID:    guestID,
		TelegramID: telegramID,
		ChatID:     telegramID,
		MessageID:  &id,
	})
}

func TestDispatch_RecordsInvitationsAndReportsUnmapped(t *testing.T) {
	tasks := newFakeTaskStore(store.Task{TaskID: 17859014, Nomber: "86190", RestaurantName: "Хинкальная №1", Status: store.StatusPending})
	invites := &fakeInvitationStore{}
	guests := &fakeGuestDirectory{byContact: map[int64]int64{427: 555}}
	crmClient := &fakeCRM{}
	bot := &fakeMessenger{}
	bus := &recordingBus{}
	c := newTestCoordinator(tasks, invites, guests, crmClient, bot, bus)

	task, err := tasks.GetByID(context.Background(), 17859014)
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	sent, err := c.Dispatch(context.Background(), task, []int64{427, 991}, "")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 delivered invitation, got %d", sent)
	}

	if len(invites.rows) != 1 {
		t.Fatalf("expected 1 invitation row, got %d", len(invites.rows))
	}
	row := invites.rows[0]
	if row.TaskID != 17859014 || row.GuestID != 427 || row.ChatID != 555 {
		t.Fatalf("unexpected invitation row: %+v", row)
	}

	if len(bot.sent) != 1 {
		t.Fatalf("expected 1 chat message, got %d", len(bot.sent))
	}
	kb := bot.sent[0].keyboard
	if kb == nil || len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("expected a two-button keyboard, got %+v", kb)
	}
	if kb.InlineKeyboard[0][0].CallbackData != "accept|17859014" {
		t.Fatalf("unexpected accept callback: %q", kb.InlineKeyboard[0][0].CallbackData)
	}
	if kb.InlineKeyboard[0][1].CallbackData != "decline|17859014" {
		t.Fatalf("unexpected decline callback: %q", kb.InlineKeyboard[0][1].CallbackData)
	}

	if got := bus.countName("invitations.guests.unmapped"); got != 1 {
		t.Fatalf("expected 1 unmapped-guests event, got %d", got)
	}
}

func TestAccept_ExactlyOneWinnerUnderContention(t *testing.T) {
	tasks := newFakeTaskStore(store.Task{TaskID: 17859014, Nomber: "86190", Status: store.StatusPending})
	invites := &fakeInvitationStore{}
	seedInvitation(invites, 17859014, 427, 555, 11)
	seedInvitation(invites, 17859014, 428, 666, 12)
	guests := &fakeGuestDirectory{byContact: map[int64]int64{427: 555, 428: 666}}
	crmClient := &fakeCRM{}
	bot := &fakeMessenger{}
	bus := &recordingBus{}
	c := newTestCoordinator(tasks, invites, guests, crmClient, bot, bus)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := c.Accept(context.Background(), 17859014, 555, 555, 11); err != nil {
			t.Errorf("accept 427: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := c.Accept(context.Background(), 17859014, 666, 666, 12); err != nil {
			t.Errorf("accept 428: %v", err)
		}
	}()
	wg.Wait()

	if got := crmClient.executorCalls(); got != 1 {
		t.Fatalf("expected exactly one executor assignment, got %d", got)
	}
	winner := tasks.assignedGuest(17859014)
	if winner != 427 && winner != 428 {
		t.Fatalf("expected guest 427 or 428 assigned, got %d", winner)
	}
	if !crm.ContainsContact(crmClient.assignees["86190"], winner) {
		t.Fatalf("CRM assignees %+v missing winner %d", crmClient.assignees["86190"], winner)
	}
	if got := bot.countText(msgAlreadyAssigned); got != 1 {
		t.Fatalf("expected exactly one already-assigned reply, got %d", got)
	}
	active, _ := invites.ActiveCount(context.Background(), 17859014)
	if active != 1 {
		t.Fatalf("expected only the winner's invitation to stay active, got %d", active)
	}
}

func TestAccept_ReservesLocallyWhenTaskNotVisible(t *testing.T) {
	tasks := newFakeTaskStore(store.Task{TaskID: 17859014, Nomber: "86190", Status: store.StatusPending})
	invites := &fakeInvitationStore{}
	seedInvitation(invites, 17859014, 427, 555, 11)
	seedInvitation(invites, 17859014, 428, 666, 12)
	guests := &fakeGuestDirectory{byContact: map[int64]int64{427: 555, 428: 666}}
	crmClient := &fakeCRM{hidden: true}
	bot := &fakeMessenger{}
	bus := &recordingBus{}
	c := newTestCoordinator(tasks, invites, guests, crmClient, bot, bus)

	if err := c.Accept(context.Background(), 17859014, 555, 555, 11); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if got := tasks.assignedGuest(17859014); got != 427 {
		t.Fatalf("expected local assignment to guest 427, got %d", got)
	}
	if got := crmClient.executorCalls(); got != 0 {
		t.Fatalf("expected no successful executor assignment, got %d", got)
	}
	if got := bot.countText(msgReserved); got != 1 {
		t.Fatalf("expected the reserved notice once, got %d", got)
	}
	active, _ := invites.ActiveCount(context.Background(), 17859014)
	if active != 1 {
		t.Fatalf("expected competing invitations withdrawn, active=%d", active)
	}
}

func TestReconcileOnce_CompletesPendingAssignment(t *testing.T) {
	guestID := int64(427)
	tasks := newFakeTaskStore(store.Task{TaskID: 17859014, Nomber: "86190", Status: store.StatusAssigned, AssignedGuestID: &guestID})
	invites := &fakeInvitationStore{}
	guests := &fakeGuestDirectory{byContact: map[int64]int64{427: 555}}
	crmClient := &fakeCRM{}
	bot := &fakeMessenger{}
	bus := &recordingBus{}
	c := newTestCoordinator(tasks, invites, guests, crmClient, bot, bus)

	if err := c.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if got := crmClient.executorCalls(); got != 1 {
		t.Fatalf("expected one executor assignment, got %d", got)
	}
	if !crm.ContainsContact(crmClient.assignees["86190"], 427) {
		t.Fatalf("CRM assignees %+v missing guest 427", crmClient.assignees["86190"])
	}
	if len(crmClient.statusCalls) != 2 || crmClient.statusCalls[0] != 113 || crmClient.statusCalls[1] != 114 {
		t.Fatalf("expected status transitions [113 114], got %v", crmClient.statusCalls)
	}
	if got := bot.countText(msgReconciledNoForm); got != 1 {
		t.Fatalf("expected the reconciled notice once, got %d", got)
	}
	if _, ok := tasks.prompts[17859014]; !ok {
		t.Fatal("expected the survey prompt coordinates to be recorded")
	}
}

func TestReconcileOnce_SkipsTaskAlreadyAssignedInCRM(t *testing.T) {
	guestID := int64(427)
	tasks := newFakeTaskStore(store.Task{TaskID: 17859014, Nomber: "86190", Status: store.StatusAssigned, AssignedGuestID: &guestID})
	invites := &fakeInvitationStore{}
	guests := &fakeGuestDirectory{byContact: map[int64]int64{427: 555}}
	crmClient := &fakeCRM{assignees: map[string][]crm.ContactRef{
		"86190": {{ID: 427, Raw: "contact:427"}},
	}}
	bot := &fakeMessenger{}
	bus := &recordingBus{}
	c := newTestCoordinator(tasks, invites, guests, crmClient, bot, bus)

	if err := c.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if got := crmClient.executorCalls(); got != 0 {
		t.Fatalf("expected no executor assignment, got %d", got)
	}
	if len(bot.sent) != 0 {
		t.Fatalf("expected no chat messages, got %d", len(bot.sent))
	}
}

func TestDecline_LastDeclineNotifiesAdminOnce(t *testing.T) {
	tasks := newFakeTaskStore(store.Task{TaskID: 17859014, Nomber: "86190", Status: store.StatusPending})
	invites := &fakeInvitationStore{}
	seedInvitation(invites, 17859014, 427, 555, 11)
	seedInvitation(invites, 17859014, 428, 666, 12)
	guests := &fakeGuestDirectory{byContact: map[int64]int64{427: 555, 428: 666}}
	crmClient := &fakeCRM{}
	bot := &fakeMessenger{}
	bus := &recordingBus{}
	c := newTestCoordinator(tasks, invites, guests, crmClient, bot, bus)

	if err := c.Decline(context.Background(), 17859014, 555, 555, 11); err != nil {
		t.Fatalf("first decline: %v", err)
	}
	if got := bus.countName("invitations.exhausted"); got != 0 {
		t.Fatalf("exhausted event before the last decline: %d", got)
	}

	if err := c.Decline(context.Background(), 17859014, 666, 666, 12); err != nil {
		t.Fatalf("second decline: %v", err)
	}
	if err := c.Decline(context.Background(), 17859014, 666, 666, 12); err != nil {
		t.Fatalf("repeated decline: %v", err)
	}

	if got := bus.countName("invitations.exhausted"); got != 1 {
		t.Fatalf("expected exactly one exhausted event, got %d", got)
	}
	declinedComments := 0
	for _, comment := range crmClient.comments {
		if comment == commentAllDeclined {
			declinedComments++
		}
	}
	if declinedComments != 1 {
		t.Fatalf("expected exactly one all-declined comment, got %d", declinedComments)
	}
}
