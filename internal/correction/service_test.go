package correction

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/apperr"
	"campusattend/internal/model"
	"campusattend/internal/repo"
	"campusattend/internal/repo/memory"
)

var now = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(r repo.Repos) error {
		for _, u := range []model.User{
			{UserID: "F1", Name: "Dr Rao", Email: "f1@uni.edu", Profile: model.Faculty{Department: "CSE"}},
			{UserID: "S1", Name: "Asha", Email: "s1@uni.edu", Profile: model.Student{Year: "2", Branch: "CSE"}},
			{UserID: "S2", Name: "Ravi", Email: "s2@uni.edu", Profile: model.Student{Year: "2", Branch: "CSE"}},
		} {
			u := u
			if err := r.Users.Create(ctx, &u); err != nil {
				return err
			}
		}
		out := now.Add(-time.Hour)
		d := 50
		return r.Attendance.Insert(ctx, &model.AttendanceRecord{
			ID: "rec-1", UserID: "S1", CheckIn: now.Add(-2 * time.Hour), CheckOut: &out, Duration: &d, Status: model.StatusPresent, Period: "period1",
		})
	}))
	return st
}

func newService(t *testing.T, strict bool) (*Service, *memory.Store) {
	st := newStore(t)
	svc := NewService(st, strict, nil)
	svc.Now = func() time.Time { return now }
	return svc, st
}

func TestSubmit_RequiresFields(t *testing.T) {
	svc, _ := newService(t, true)
	_, err := svc.Submit(context.Background(), "S1", "", "wrong")
	assert.Equal(t, "Attendance ID and reason are required.", apperr.As(err).Message)
}

func TestSubmit_LegacyAcceptsUnknownRecord(t *testing.T) {
	svc, _ := newService(t, false)
	req, err := svc.Submit(context.Background(), "S1", "does-not-exist", "I was there")
	require.NoError(t, err)
	assert.Equal(t, model.CorrectionPending, req.Status)
	assert.Equal(t, "does-not-exist", req.AttendanceID)
}

func TestSubmit_StrictChecksOwnership(t *testing.T) {
	svc, _ := newService(t, true)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "S1", "does-not-exist", "I was there")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = svc.Submit(ctx, "S2", "rec-1", "not mine")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	req, err := svc.Submit(ctx, "S1", "rec-1", "I was late, not absent")
	require.NoError(t, err)
	assert.Equal(t, "S1", req.UserID)
}

func TestPending_FacultyOnlyOldestFirst(t *testing.T) {
	svc, _ := newService(t, true)
	ctx := context.Background()

	_, err := svc.Pending(ctx, "S1")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	first, err := svc.Submit(ctx, "S1", "rec-1", "one")
	require.NoError(t, err)
	svc.Now = func() time.Time { return now.Add(time.Minute) }
	_, err = svc.Submit(ctx, "S1", "rec-1", "two")
	require.NoError(t, err)

	list, err := svc.Pending(ctx, "F1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
}

func TestDecide(t *testing.T) {
	svc, st := newService(t, true)
	ctx := context.Background()
	req, err := svc.Submit(ctx, "S1", "rec-1", "should be late")
	require.NoError(t, err)

	_, err = svc.Decide(ctx, "S1", Decision{RequestID: req.ID, Decision: "approved"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.Decide(ctx, "F1", Decision{RequestID: req.ID, Decision: "maybe"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Decide(ctx, "F1", Decision{RequestID: req.ID, Decision: "approved", NewStatus: "excused"})
	assert.Equal(t, "Invalid status", apperr.As(err).Message)

	_, err = svc.Decide(ctx, "F1", Decision{RequestID: "missing", Decision: "approved"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	svc.Now = func() time.Time { return now.Add(time.Hour) }
	decided, err := svc.Decide(ctx, "F1", Decision{RequestID: req.ID, Decision: "Approved", NewStatus: "late"})
	require.NoError(t, err)
	assert.Equal(t, model.CorrectionApproved, decided.Status)
	require.NotNil(t, decided.ReviewedBy)
	assert.Equal(t, "F1", *decided.ReviewedBy)
	assert.Equal(t, now.Add(time.Hour), decided.UpdatedAt)

	require.NoError(t, st.View(ctx, func(r repo.Repos) error {
		rec, err := r.Attendance.Get(ctx, "rec-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusLate, rec.Status)
		return nil
	}))

	_, err = svc.Decide(ctx, "F1", Decision{RequestID: req.ID, Decision: "rejected"})
	e := apperr.As(err)
	require.NotNil(t, e)
	assert.Equal(t, apperr.KindState, e.Kind)

	list, err := svc.Pending(ctx, "F1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDecide_ApprovalRollsBackWhenRecordMissing(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()
	req, err := svc.Submit(ctx, "S1", "ghost", "legacy request")
	require.NoError(t, err)

	_, err = svc.Decide(ctx, "F1", Decision{RequestID: req.ID, Decision: "approved", NewStatus: "present"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	list, err := svc.Pending(ctx, "F1")
	require.NoError(t, err)
	require.Len(t, list, 1, "the decision was rolled back")

	rejected, err := svc.Decide(ctx, "F1", Decision{RequestID: req.ID, Decision: "rejected"})
	require.NoError(t, err)
	assert.Equal(t, model.CorrectionRejected, rejected.Status)
}

// lockingCorrections counts locking reads.
type lockingCorrections struct {
	repo.CorrectionRepo
	locks *atomic.Int32
}

func (c lockingCorrections) GetForUpdate(ctx context.Context, id string) (*model.CorrectionRequest, error) {
	c.locks.Add(1)
	return c.CorrectionRepo.GetForUpdate(ctx, id)
}

type lockCountingStore struct {
	*memory.Store
	locks *atomic.Int32
}

func (s lockCountingStore) WithTx(ctx context.Context, fn func(repo.Repos) error) error {
	return s.Store.WithTx(ctx, func(r repo.Repos) error {
		r.Corrections = lockingCorrections{r.Corrections, s.locks}
		return fn(r)
	})
}

func TestDecide_ConcurrentReviewersOneWins(t *testing.T) {
	st := newStore(t)
	locks := &atomic.Int32{}
	svc := NewService(lockCountingStore{st, locks}, true, nil)
	svc.Now = func() time.Time { return now }
	ctx := context.Background()

	req, err := svc.Submit(ctx, "S1", "rec-1", "marked absent by mistake")
	require.NoError(t, err)

	verdicts := []string{"approved", "rejected", "approved", "rejected"}
	errs := make([]error, len(verdicts))
	var wg sync.WaitGroup
	for i, v := range verdicts {
		wg.Add(1)
		go func(i int, v string) {
			defer wg.Done()
			_, errs[i] = svc.Decide(ctx, "F1", Decision{RequestID: req.ID, Decision: v})
		}(i, v)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.Equal(t, apperr.KindState, apperr.KindOf(err))
	}
	assert.Equal(t, 1, wins)
	assert.EqualValues(t, len(verdicts), locks.Load(), "every decision reads the request with a lock")
}
