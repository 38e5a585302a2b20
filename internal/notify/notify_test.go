package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/apperr"
	"campusattend/internal/model"
	"campusattend/internal/queue"
	"campusattend/internal/repo"
	"campusattend/internal/repo/memory"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Mail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, mail Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
	return m.err
}

func seed(t *testing.T, st *memory.Store, users ...model.User) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(r repo.Repos) error {
		for i := range users {
			if err := r.Users.Create(context.Background(), &users[i]); err != nil {
				return err
			}
		}
		return nil
	}))
}

// Sunday 2024-03-03 18:00 UTC, so tomorrow is monday.
var sunday = time.Date(2024, 3, 3, 18, 0, 0, 0, time.UTC)

func newService(t *testing.T, mailer Mailer) (*Service, *memory.Store) {
	st := memory.New()
	seed(t, st,
		model.User{UserID: "F1", Name: "Dr Rao", Email: "f1@uni.edu", Profile: model.Faculty{Department: "CSE"}},
		model.User{UserID: "F2", Name: "Dr Iyer", Email: "f2@uni.edu", Profile: model.Faculty{Department: "CSE"}},
		model.User{UserID: "S1", Name: "Asha", Email: "s1@uni.edu", Profile: model.Student{Year: "2", Branch: "CSE"}},
		model.User{UserID: "S2", Name: "Ravi", Email: "s2@uni.edu", Profile: model.Student{Year: "2", Branch: "ECE"}},
	)
	svc := NewService(st, mailer, time.UTC, nil)
	svc.Now = func() time.Time { return sunday }
	return svc, st
}

func TestRecordLateness(t *testing.T) {
	_, st := newService(t, nil)
	ctx := context.Background()

	var n *model.Notification
	require.NoError(t, st.WithTx(ctx, func(r repo.Repos) error {
		s1, _ := r.Users.GetByUserID(ctx, "S1")
		var err error
		n, err = RecordLateness(ctx, r, *s1, "period1", sunday)
		return err
	}))
	require.NotNil(t, n)
	assert.Equal(t, "F1", n.FacultyID, "earliest registered faculty of the branch")
	assert.Equal(t, "Student Asha is late for period1 class.", n.Message)

	require.NoError(t, st.WithTx(ctx, func(r repo.Repos) error {
		s2, _ := r.Users.GetByUserID(ctx, "S2")
		var err error
		n, err = RecordLateness(ctx, r, *s2, "period1", sunday)
		return err
	}))
	assert.Nil(t, n, "no faculty in ECE")
}

func TestUnreadAndMarkRead(t *testing.T) {
	svc, st := newService(t, nil)
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(r repo.Repos) error {
		for i, msg := range []string{"old", "new"} {
			n := &model.Notification{FacultyID: "F1", StudentID: "S1", Message: msg, CreatedAt: sunday.Add(time.Duration(i) * time.Minute)}
			if err := r.Notifications.Insert(ctx, n); err != nil {
				return err
			}
		}
		return r.Notifications.Insert(ctx, &model.Notification{ID: "other", FacultyID: "F2", StudentID: "S1", Message: "x", CreatedAt: sunday})
	}))

	list, err := svc.Unread(ctx, "F1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].Message)

	_, err = svc.Unread(ctx, "S1")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	assert.True(t, apperr.Is(svc.MarkRead(ctx, "F1", ""), apperr.KindValidation))
	assert.True(t, apperr.Is(svc.MarkRead(ctx, "F1", "missing"), apperr.KindNotFound))
	assert.True(t, apperr.Is(svc.MarkRead(ctx, "F1", "other"), apperr.KindNotFound), "belongs to F2")

	require.NoError(t, svc.MarkRead(ctx, "F1", list[0].ID))
	list, err = svc.Unread(ctx, "F1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "old", list[0].Message)
}

func TestUpcomingClasses(t *testing.T) {
	mailer := &recordingMailer{}
	svc, st := newService(t, mailer)
	ctx := context.Background()

	_, err := svc.UpcomingClasses(ctx, "S1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	require.NoError(t, st.WithTx(ctx, func(r repo.Repos) error {
		for _, e := range []model.TimetableEntry{
			{UserID: "S1", Day: "monday", Period: "period2", StartTime: "10:00", EndTime: "11:00", BlockName: "B"},
			{UserID: "S1", Day: "monday", Period: "period1", StartTime: "09:00", EndTime: "10:00", BlockName: "A"},
			{UserID: "S1", Day: "tuesday", Period: "period1", StartTime: "09:00", EndTime: "10:00", BlockName: "A"},
		} {
			e := e
			if err := r.Timetable.Upsert(ctx, &e); err != nil {
				return err
			}
		}
		return nil
	}))

	classes, err := svc.UpcomingClasses(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, "period1", classes[0].Period)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "s1@uni.edu", mailer.sent[0].To)
	assert.Equal(t, "Upcoming Classes", mailer.sent[0].Subject)
	assert.Equal(t, "You have 2 classes tomorrow:\nperiod1 at 09:00 in A\nperiod2 at 10:00 in B", mailer.sent[0].Body)
}

func TestUpcomingClasses_MailFailureIsNotFatal(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("relay down")}
	svc, st := newService(t, mailer)
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(r repo.Repos) error {
		return r.Timetable.Upsert(ctx, &model.TimetableEntry{UserID: "S1", Day: "monday", Period: "p1", StartTime: "09:00", EndTime: "10:00"})
	}))
	_, err := svc.UpcomingClasses(ctx, "S1")
	assert.NoError(t, err)
}

func TestSendDigests(t *testing.T) {
	mailer := &recordingMailer{}
	svc, st := newService(t, mailer)
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(r repo.Repos) error {
		return r.Timetable.Upsert(ctx, &model.TimetableEntry{UserID: "S2", Day: "monday", Period: "lab", StartTime: "14:00", EndTime: "16:00", BlockName: "L"})
	}))

	n, err := svc.SendDigests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "s2@uni.edu", mailer.sent[0].To)
}

func TestQueueMailerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := queue.NewInMemory(1)
	require.NoError(t, NewQueueMailer(q).Send(ctx, Mail{To: "a@b.c", Subject: "Hi", Body: "there"}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	got, err := DecodeMailJob(<-msgs)
	require.NoError(t, err)
	assert.Equal(t, Mail{To: "a@b.c", Subject: "Hi", Body: "there"}, got)

	_, err = DecodeMailJob(queue.Message{Type: "other"})
	assert.Error(t, err)
	_, err = DecodeMailJob(queue.Message{Type: MailJobType, Body: []byte(`{}`)})
	assert.Error(t, err)
}

func TestConsumeMail(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := queue.NewInMemory(4)
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "other", Body: []byte("x")}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: MailJobType, Body: []byte("not json")}))
	require.NoError(t, NewQueueMailer(q).Send(ctx, Mail{To: "a@b.c", Subject: "Hi"}))

	mailer := &recordingMailer{}
	done := make(chan error, 1)
	go func() { done <- ConsumeMail(ctx, q, mailer, nil) }()

	require.Eventually(t, func() bool {
		mailer.mu.Lock()
		defer mailer.mu.Unlock()
		return len(mailer.sent) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, "a@b.c", mailer.sent[0].To)
}
