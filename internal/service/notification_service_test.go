package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"policypal/internal/config"
	"policypal/internal/models"
	"policypal/internal/repository"
)

type fakeNotificationRepo struct {
	records   map[string]*models.Notification
	createErr error
	saveErr   error
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{records: map[string]*models.Notification{}}
}

func (r *fakeNotificationRepo) Create(_ context.Context, n *models.Notification) error {
	if r.createErr != nil {
		return r.createErr
	}
	clone := *n
	r.records[n.ID] = &clone
	return nil
}

func (r *fakeNotificationRepo) FindByID(_ context.Context, id string) (*models.Notification, error) {
	n, ok := r.records[id]
	if !ok {
		return nil, errors.New("not found")
	}
	clone := *n
	return &clone, nil
}

func (r *fakeNotificationRepo) Save(_ context.Context, n *models.Notification) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	clone := *n
	r.records[n.ID] = &clone
	return nil
}

func (r *fakeNotificationRepo) ListByUser(_ context.Context, userID string, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	var out []models.Notification
	for _, n := range r.records {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.IsRead {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeNotificationRepo) FindDue(_ context.Context, now time.Time) ([]models.Notification, error) {
	var out []models.Notification
	for _, n := range r.records {
		if n.Status != models.StatusPending {
			continue
		}
		if n.ScheduledAt != nil && n.ScheduledAt.After(now) {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

func (r *fakeNotificationRepo) FindRetryable(_ context.Context, maxRetryCount int) ([]models.Notification, error) {
	var out []models.Notification
	for _, n := range r.records {
		if n.Status == models.StatusFailed && n.RetryCount < maxRetryCount {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (r *fakeNotificationRepo) MarkAsRead(_ context.Context, id, userID string, readAt time.Time) (bool, error) {
	n, ok := r.records[id]
	if !ok || n.UserID != userID || n.IsRead {
		return false, nil
	}
	n.IsRead = true
	n.ReadAt = &readAt
	n.Status = models.StatusRead
	return true, nil
}

func (r *fakeNotificationRepo) MarkAllAsRead(_ context.Context, userID string, readAt time.Time) (int64, error) {
	var count int64
	for _, n := range r.records {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &readAt
			n.Status = models.StatusRead
			count++
		}
	}
	return count, nil
}

func (r *fakeNotificationRepo) Delete(_ context.Context, id, userID string) (bool, error) {
	n, ok := r.records[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	delete(r.records, id)
	return true, nil
}

func (r *fakeNotificationRepo) DeleteAll(_ context.Context, userID string) (int64, error) {
	var count int64
	for id, n := range r.records {
		if n.UserID == userID {
			delete(r.records, id)
			count++
		}
	}
	return count, nil
}

type fakePreferenceRepo struct {
	byUser  map[string]*models.NotificationPreferences
	creates int
}

func newFakePreferenceRepo() *fakePreferenceRepo {
	return &fakePreferenceRepo{byUser: map[string]*models.NotificationPreferences{}}
}

func (r *fakePreferenceRepo) FindByUser(_ context.Context, userID string) (*models.NotificationPreferences, error) {
	p, ok := r.byUser[userID]
	if !ok {
		return nil, repository.ErrPreferencesNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *fakePreferenceRepo) Create(_ context.Context, p *models.NotificationPreferences) error {
	r.creates++
	clone := *p
	r.byUser[p.UserID] = &clone
	return nil
}

func (r *fakePreferenceRepo) Save(_ context.Context, p *models.NotificationPreferences) error {
	clone := *p
	r.byUser[p.UserID] = &clone
	return nil
}

type fakeUserRepo struct {
	users map[string]*models.User
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

type fakePusher struct {
	rooms    []string
	payloads []interface{}
	err      error
}

func (p *fakePusher) PushToRoom(_ context.Context, room string, payload interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.rooms = append(p.rooms, room)
	p.payloads = append(p.payloads, payload)
	return nil
}

type fakeEmailer struct {
	calls  int
	to     []string
	result bool
}

func (e *fakeEmailer) SendNotificationEmail(_ context.Context, to string, _ *models.Notification, _ *models.User) bool {
	e.calls++
	e.to = append(e.to, to)
	return e.result
}

type fixture struct {
	svc     *NotificationService
	repo    *fakeNotificationRepo
	prefs   *fakePreferenceRepo
	pusher  *fakePusher
	emailer *fakeEmailer
}

func newFixture() *fixture {
	repo := newFakeNotificationRepo()
	prefs := newFakePreferenceRepo()
	users := &fakeUserRepo{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "alice@example.com", FirstName: "Alice", LastName: "Nguyen"},
	}}
	pusher := &fakePusher{}
	emailer := &fakeEmailer{result: true}
	cfg := &config.Config{SweepInterval: time.Minute, MaxRetryCount: 5}
	svc := NewNotificationService(cfg, repo, prefs, users, pusher, emailer, zap.NewNop())
	return &fixture{svc: svc, repo: repo, prefs: prefs, pusher: pusher, emailer: emailer}
}

func (f *fixture) setPreferences(p *models.NotificationPreferences) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	f.prefs.byUser[p.UserID] = p
}

func basicInput(userID string, notificationType models.NotificationType) *CreateNotificationInput {
	return &CreateNotificationInput{
		UserID:  userID,
		Type:    notificationType,
		Title:   "Policy Expiring Soon",
		Message: "Your policy expires in 7 days.",
	}
}

func TestCreateNotification_AllChannelsDisabledSkips(t *testing.T) {
	f := newFixture()
	prefs := models.DefaultPreferences("user-1")
	prefs.TypePreferences = models.TypePreferences{
		models.TypeComplianceCheckCompleted: {Email: false, InApp: false, Push: false},
	}
	f.setPreferences(prefs)

	n, err := f.svc.CreateNotification(context.Background(), basicInput("user-1", models.TypeComplianceCheckCompleted))

	require.NoError(t, err)
	assert.Nil(t, n)
	assert.Empty(t, f.repo.records, "nothing should be persisted")
	assert.Zero(t, f.emailer.calls)
	assert.Empty(t, f.pusher.rooms)
}

func TestCreateNotification_DeliversOnBothChannels(t *testing.T) {
	f := newFixture()

	n, err := f.svc.CreateNotification(context.Background(), basicInput("user-1", models.TypePolicyExpiring))

	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, models.StatusSent, n.Status)
	assert.NotNil(t, n.SentAt)
	assert.NotNil(t, n.DeliveredAt)
	assert.Equal(t, models.PriorityMedium, n.Priority)
	assert.Equal(t, models.ChannelBoth, n.Channel)

	assert.Equal(t, []string{"user:user-1"}, f.pusher.rooms)
	assert.Equal(t, []string{"alice@example.com"}, f.emailer.to)

	stored, err := f.repo.FindByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, stored.Status)
}

func TestCreateNotification_FutureScheduleStaysPending(t *testing.T) {
	f := newFixture()
	in := basicInput("user-1", models.TypePolicyExpiring)
	scheduled := time.Now().Add(time.Hour)
	in.ScheduledAt = &scheduled

	n, err := f.svc.CreateNotification(context.Background(), in)

	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, models.StatusPending, n.Status)
	assert.Zero(t, f.emailer.calls)
	assert.Empty(t, f.pusher.rooms)
}

func TestCreateNotification_EmailDisabledSendsInAppOnly(t *testing.T) {
	f := newFixture()
	prefs := models.DefaultPreferences("user-1")
	prefs.EmailEnabled = false
	f.setPreferences(prefs)

	in := basicInput("user-1", models.TypePolicyExpiring)
	in.Priority = models.PriorityHigh
	n, err := f.svc.CreateNotification(context.Background(), in)

	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, models.StatusSent, n.Status)
	assert.Zero(t, f.emailer.calls, "email dispatcher must not be called")
	assert.Equal(t, []string{"user:user-1"}, f.pusher.rooms)
	assert.Nil(t, n.DeliveredAt)
}

func TestCreateNotification_PushFailureAbsorbedAsFailed(t *testing.T) {
	f := newFixture()
	f.pusher.err = errors.New("serialization failure")

	n, err := f.svc.CreateNotification(context.Background(), basicInput("user-1", models.TypeWelcome))

	require.NoError(t, err, "delivery failure must not reach the producer")
	require.NotNil(t, n)
	assert.Equal(t, models.StatusFailed, n.Status)
	assert.Equal(t, 1, n.RetryCount)
	assert.Contains(t, n.ErrorMessage, "serialization failure")
	assert.Zero(t, f.emailer.calls, "push failure aborts the attempt before email")
}

func TestCreateNotification_EmailFailureAbsorbedAsFailed(t *testing.T) {
	f := newFixture()
	f.emailer.result = false

	n, err := f.svc.CreateNotification(context.Background(), basicInput("user-1", models.TypeWelcome))

	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, models.StatusFailed, n.Status)
	assert.Equal(t, 1, n.RetryCount)
	assert.Equal(t, "email delivery failed", n.ErrorMessage)
}

func TestProcessNotification_NeverMovesStatusBackward(t *testing.T) {
	f := newFixture()
	readAt := time.Now()
	n := &models.Notification{
		ID:      uuid.NewString(),
		UserID:  "user-1",
		Type:    models.TypeWelcome,
		Status:  models.StatusRead,
		IsRead:  true,
		ReadAt:  &readAt,
		Title:   "Welcome",
		Message: "Welcome to PolicyPal",
	}
	require.NoError(t, f.repo.Create(context.Background(), n))

	f.svc.ProcessNotification(context.Background(), n)

	stored, err := f.repo.FindByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, stored.Status)
}

func TestProcessPending_OnlyDueRecords(t *testing.T) {
	f := newFixture()
	future := time.Now().Add(time.Hour)

	unscheduled := &models.Notification{
		ID: uuid.NewString(), UserID: "user-1", Type: models.TypeWelcome,
		Title: "a", Message: "b", Status: models.StatusPending,
	}
	scheduled := &models.Notification{
		ID: uuid.NewString(), UserID: "user-1", Type: models.TypeWelcome,
		Title: "a", Message: "b", Status: models.StatusPending, ScheduledAt: &future,
	}
	require.NoError(t, f.repo.Create(context.Background(), unscheduled))
	require.NoError(t, f.repo.Create(context.Background(), scheduled))

	f.svc.ProcessPending(context.Background())

	processed, _ := f.repo.FindByID(context.Background(), unscheduled.ID)
	untouched, _ := f.repo.FindByID(context.Background(), scheduled.ID)
	assert.Equal(t, models.StatusSent, processed.Status)
	assert.Equal(t, models.StatusPending, untouched.Status)
}

func TestProcessPending_RetriesFailedUnderCap(t *testing.T) {
	f := newFixture()

	retryable := &models.Notification{
		ID: uuid.NewString(), UserID: "user-1", Type: models.TypeWelcome,
		Title: "a", Message: "b", Status: models.StatusFailed, RetryCount: 2,
	}
	exhausted := &models.Notification{
		ID: uuid.NewString(), UserID: "user-1", Type: models.TypeWelcome,
		Title: "a", Message: "b", Status: models.StatusFailed, RetryCount: 5,
	}
	require.NoError(t, f.repo.Create(context.Background(), retryable))
	require.NoError(t, f.repo.Create(context.Background(), exhausted))

	f.svc.ProcessPending(context.Background())

	recovered, _ := f.repo.FindByID(context.Background(), retryable.ID)
	dead, _ := f.repo.FindByID(context.Background(), exhausted.ID)
	assert.Equal(t, models.StatusSent, recovered.Status)
	assert.Equal(t, models.StatusFailed, dead.Status)
	assert.Equal(t, 5, dead.RetryCount)
}

func TestMarkAsRead_Idempotent(t *testing.T) {
	f := newFixture()
	n := &models.Notification{
		ID: uuid.NewString(), UserID: "user-1", Type: models.TypeWelcome,
		Title: "a", Message: "b", Status: models.StatusSent,
	}
	require.NoError(t, f.repo.Create(context.Background(), n))

	first, err := f.svc.MarkAsRead(context.Background(), n.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := f.svc.MarkAsRead(context.Background(), n.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, second)

	stored, _ := f.repo.FindByID(context.Background(), n.ID)
	assert.True(t, stored.IsRead)
	assert.NotNil(t, stored.ReadAt)
	assert.Equal(t, models.StatusRead, stored.Status)
}

func TestMarkAsRead_ScopedToOwner(t *testing.T) {
	f := newFixture()
	n := &models.Notification{
		ID: uuid.NewString(), UserID: "user-1", Type: models.TypeWelcome,
		Title: "a", Message: "b", Status: models.StatusSent,
	}
	require.NoError(t, f.repo.Create(context.Background(), n))

	updated, err := f.svc.MarkAsRead(context.Background(), n.ID, "user-2")
	require.NoError(t, err)
	assert.False(t, updated)

	deleted, err := f.svc.DeleteNotification(context.Background(), n.ID, "user-2")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestGetPreferences_CreatesDefaultsOnFirstRead(t *testing.T) {
	f := newFixture()

	prefs, err := f.svc.GetPreferences(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, prefs.EmailEnabled)
	assert.True(t, prefs.InAppEnabled)
	assert.Equal(t, models.FrequencyImmediate, prefs.EmailFrequency)
	assert.Equal(t, "UTC", prefs.Timezone)
	assert.Equal(t, 1, f.prefs.creates)

	_, err = f.svc.GetPreferences(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.prefs.creates, "second read must not create again")
}

func TestUpdatePreferences_PartialRoundTrip(t *testing.T) {
	f := newFixture()

	_, err := f.svc.UpdatePreferences(context.Background(), "user-1", &UpdatePreferencesInput{
		TypePreferences: models.TypePreferences{
			models.TypeWelcome: {Email: true, InApp: false, Push: true},
		},
	})
	require.NoError(t, err)

	prefs, err := f.svc.GetPreferences(context.Background(), "user-1")
	require.NoError(t, err)

	toggles, ok := prefs.TypePreferences[models.TypeWelcome]
	require.True(t, ok)
	assert.True(t, toggles.Email)
	assert.False(t, toggles.InApp)
	assert.True(t, toggles.Push)

	// Unspecified fields keep their defaults.
	assert.True(t, prefs.EmailEnabled)
	assert.Equal(t, "09:00", prefs.EmailTime)
}

func TestUpdatePreferences_GlobalToggle(t *testing.T) {
	f := newFixture()
	off := false

	prefs, err := f.svc.UpdatePreferences(context.Background(), "user-1", &UpdatePreferencesInput{
		EmailEnabled: &off,
	})
	require.NoError(t, err)
	assert.False(t, prefs.EmailEnabled)
	assert.True(t, prefs.InAppEnabled)
}

func TestChannelRules(t *testing.T) {
	prefs := models.DefaultPreferences("user-1")

	assert.True(t, shouldCreate(models.TypeWelcome, prefs))
	assert.True(t, shouldSendInApp(models.TypeWelcome, prefs))
	assert.True(t, shouldSendEmail(models.TypeWelcome, prefs))

	prefs.TypePreferences = models.TypePreferences{
		models.TypeWelcome: {Email: false, InApp: true, Push: false},
	}
	assert.True(t, shouldCreate(models.TypeWelcome, prefs))
	assert.True(t, shouldSendInApp(models.TypeWelcome, prefs))
	assert.False(t, shouldSendEmail(models.TypeWelcome, prefs))

	prefs.InAppEnabled = false
	assert.False(t, shouldSendInApp(models.TypeWelcome, prefs))

	prefs.TypePreferences[models.TypeWelcome] = models.ChannelToggles{}
	assert.False(t, shouldCreate(models.TypeWelcome, prefs))
}

func TestNotifyPolicyExpiring_ProducerHelper(t *testing.T) {
	f := newFixture()

	err := f.svc.NotifyPolicyExpiring(context.Background(), "user-1", "policy-9", "Data Retention", 7)
	require.NoError(t, err)

	list, err := f.svc.GetUserNotifications(context.Background(), "user-1", 10, 0, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.TypePolicyExpiring, list[0].Type)
	assert.Equal(t, models.PriorityHigh, list[0].Priority)
	assert.Equal(t, "policy-9", list[0].PolicyID)
	assert.Equal(t, "7", list[0].Metadata["daysUntilExpiry"])
	assert.Contains(t, list[0].Message, "Data Retention")
}
