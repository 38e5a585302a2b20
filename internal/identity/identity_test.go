package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"campusattend/internal/apperr"
	"campusattend/internal/auth"
	"campusattend/internal/model"
	"campusattend/internal/notify"
	"campusattend/internal/repo/memory"
)

const strongPassword = "Ledger!Orchid-Canyon42"

type captureMailer struct {
	mu   sync.Mutex
	sent []notify.Mail
}

func (m *captureMailer) Send(_ context.Context, mail notify.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
	return nil
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	mailer *captureMailer
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		mailer: &captureMailer{},
		now:    time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.store, f.mailer, Config{
		Issuer:     "campusattend",
		SigningKey: "k",
		BcryptCost: bcrypt.MinCost,
	}, nil)
	f.svc.Now = func() time.Time { return f.now }
	return f
}

func student(id, email string) Registration {
	return Registration{UserID: id, Name: "Asha", Role: "student", Email: email, Password: strongPassword, Year: "2", Branch: "CSE"}
}

func TestValidPassword(t *testing.T) {
	assert.False(t, ValidPassword("abc12345"), "no upper case")
	assert.False(t, ValidPassword("ABC12345"), "no lower case")
	assert.False(t, ValidPassword("Abcdefgh"), "no digit")
	assert.False(t, ValidPassword("Ab1"), "too short")
	assert.True(t, ValidPassword("Abcd1234"))
	assert.True(t, ValidPassword("Ab1"+strings.Repeat("x", MaxPasswordBytes-3)), "exactly at the bcrypt limit")
	assert.False(t, ValidPassword("Ab1"+strings.Repeat("x", MaxPasswordBytes-2)), "over the bcrypt limit")
	assert.False(t, ValidPassword("Ab1"+strings.Repeat("é", 35)), "limit counts bytes, not characters")
}

func TestCheckStrength(t *testing.T) {
	ok, suggestions := CheckStrength("Abcd1234")
	assert.False(t, ok)
	assert.NotEmpty(t, suggestions)

	ok, suggestions = CheckStrength(strongPassword)
	assert.True(t, ok)
	assert.Empty(t, suggestions)
}

func TestRegister_CheckOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, student("S1", "s1@uni.edu"))
	require.NoError(t, err)

	tests := []struct {
		name string
		in   Registration
		msg  string
	}{
		{"duplicate id wins over everything", Registration{UserID: "S1", Role: "alien", Password: "x"}, "User ID already exists."},
		{"bad role", Registration{UserID: "S2", Role: "admin", Password: strongPassword}, "Role must be student or faculty."},
		{"invalid password before strength", Registration{UserID: "S2", Role: "student", Password: "abc12345"}, "Password does not meet complexity requirements."},
		{"weak password", Registration{UserID: "S2", Role: "student", Password: "Abcd1234"}, "Password is not strong enough"},
		{"student fields", Registration{UserID: "S2", Name: "n", Email: "e@x", Role: "student", Password: strongPassword, Year: "2"}, "Year and branch are required for students."},
		{"faculty fields", Registration{UserID: "F2", Name: "n", Email: "e@x", Role: "Faculty", Password: strongPassword}, "Department is required for faculty."},
		{"duplicate email", student("S2", "S1@uni.edu"), "Email already registered."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.in)
			e := apperr.As(err)
			require.NotNil(t, e)
			assert.Equal(t, apperr.KindValidation, e.Kind)
			assert.Equal(t, tt.msg, e.Message)
		})
	}
}

func TestRegister_WeakPasswordCarriesSuggestions(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), Registration{UserID: "S2", Role: "student", Password: "Abcd1234"})
	e := apperr.As(err)
	require.NotNil(t, e)
	assert.NotEmpty(t, e.Suggestions)
}

func TestRegister_CreatesVariantAndActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.svc.Register(ctx, Registration{UserID: "F1", Name: "Dr Rao", Role: "faculty", Email: "f1@uni.edu", Password: strongPassword, Department: "CSE", Year: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleFaculty, u.Role())
	assert.Equal(t, model.Faculty{Department: "CSE"}, u.Profile)
	assert.NotEqual(t, strongPassword, u.PasswordHash)

	acts := f.store.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, "register", acts[0].Type)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, student("S1", "s1@uni.edu"))
	require.NoError(t, err)

	_, _, err = f.svc.Login(ctx, "", strongPassword)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, _, err = f.svc.Login(ctx, "S1", "wrong")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	_, _, err = f.svc.Login(ctx, "nobody", strongPassword)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	tok, u, err := f.svc.Login(ctx, "s1@uni.edu", strongPassword)
	require.NoError(t, err)
	assert.Equal(t, "S1", u.UserID)
	assert.Equal(t, f.now.Add(24*time.Hour), tok.ExpiresAt)

	claims, err := auth.Parse(tok.AccessToken, "k", "campusattend")
	require.NoError(t, err)
	assert.Equal(t, "S1", claims.UserID)
	assert.Equal(t, "student", claims.Role)
}

func TestPasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, student("S1", "s1@uni.edu"))
	require.NoError(t, err)

	_, err = f.svc.ForgotPassword(ctx, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.ForgotPassword(ctx, "nobody")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	token, err := f.svc.ForgotPassword(ctx, "S1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	require.Len(t, f.mailer.sent, 1)
	assert.Contains(t, f.mailer.sent[0].Body, token)

	const next = "Quartz#Meadow-Lantern77"
	assert.True(t, apperr.Is(f.svc.ResetPassword(ctx, "S1", "", next), apperr.KindValidation))

	err = f.svc.ResetPassword(ctx, "S1", token+"x", next)
	assert.Equal(t, "Invalid or expired reset token.", apperr.As(err).Message)

	err = f.svc.ResetPassword(ctx, "S1", token, "abc12345")
	assert.Equal(t, "Password does not meet complexity requirements.", apperr.As(err).Message)

	require.NoError(t, f.svc.ResetPassword(ctx, "S1", token, next))
	_, _, err = f.svc.Login(ctx, "S1", next)
	require.NoError(t, err)

	err = f.svc.ResetPassword(ctx, "S1", token, next)
	assert.Equal(t, "Invalid or expired reset token.", apperr.As(err).Message, "token is single use")
}

func TestPasswordReset_ExpiredTokenRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, student("S1", "s1@uni.edu"))
	require.NoError(t, err)

	token, err := f.svc.ForgotPassword(ctx, "S1")
	require.NoError(t, err)

	f.now = f.now.Add(61 * time.Minute)
	err = f.svc.ResetPassword(ctx, "S1", token, "Quartz#Meadow-Lantern77")
	e := apperr.As(err)
	require.NotNil(t, e)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Equal(t, "Invalid or expired reset token.", e.Message)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, student("S1", "s1@uni.edu"))
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, "S1", "wrong", "Quartz#Meadow-Lantern77")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	require.NoError(t, f.svc.ChangePassword(ctx, "S1", strongPassword, "Quartz#Meadow-Lantern77"))
	_, _, err = f.svc.Login(ctx, "S1", "Quartz#Meadow-Lantern77")
	assert.NoError(t, err)
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, student("S1", "s1@uni.edu"))
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, Registration{UserID: "F1", Name: "Dr Rao", Role: "faculty", Email: "f1@uni.edu", Password: strongPassword, Department: "CSE"})
	require.NoError(t, err)

	_, err = f.svc.Profile(ctx, "F1", model.RoleStudent)
	assert.Equal(t, "Student not found", apperr.As(err).Message)

	branch := "ECE"
	dept := "MECH"
	u, err := f.svc.UpdateProfile(ctx, "S1", model.RoleStudent, ProfileUpdate{Branch: &branch, Department: &dept})
	require.NoError(t, err)
	assert.Equal(t, model.Student{Year: "2", Branch: "ECE"}, u.Profile)

	taken := "F1@uni.edu"
	_, err = f.svc.UpdateProfile(ctx, "S1", model.RoleStudent, ProfileUpdate{Email: &taken})
	assert.Equal(t, "Email already registered.", apperr.As(err).Message)

	got, err := f.svc.Profile(ctx, "S1", model.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, "s1@uni.edu", got.Email)
}

func TestUpdateProfile_RejectsBlankGroupingFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, student("S1", "s1@uni.edu"))
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, Registration{UserID: "F1", Name: "Dr Rao", Role: "faculty", Email: "f1@uni.edu", Password: strongPassword, Department: "CSE"})
	require.NoError(t, err)

	blank, spaces := "", "   "
	for name, upd := range map[string]ProfileUpdate{
		"blank branch": {Branch: &blank},
		"spaces year":  {Year: &spaces},
	} {
		_, err := f.svc.UpdateProfile(ctx, "S1", model.RoleStudent, upd)
		require.Error(t, err, name)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), name)
		assert.Equal(t, "Year and branch are required for students.", apperr.As(err).Message, name)
	}

	for _, dept := range []string{"", "  "} {
		dept := dept
		_, err := f.svc.UpdateProfile(ctx, "F1", model.RoleFaculty, ProfileUpdate{Department: &dept})
		assert.Equal(t, "Department is required for faculty.", apperr.As(err).Message)
	}

	got, err := f.svc.Profile(ctx, "F1", model.RoleFaculty)
	require.NoError(t, err)
	assert.Equal(t, model.Faculty{Department: "CSE"}, got.Profile, "rejected updates leave the profile unchanged")

	padded := "  ECE "
	u, err := f.svc.UpdateProfile(ctx, "S1", model.RoleStudent, ProfileUpdate{Branch: &padded})
	require.NoError(t, err)
	assert.Equal(t, model.Student{Year: "2", Branch: "ECE"}, u.Profile)
}

func TestPasswordOverBcryptLimitIsValidationError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := strings.Repeat(strongPassword, 4)
	require.Greater(t, len(long), MaxPasswordBytes)
	const want = "Password must be at most 72 bytes."

	reg := student("S1", "s1@uni.edu")
	reg.Password = long
	_, err := f.svc.Register(ctx, reg)
	require.Error(t, err)
	e := apperr.As(err)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Equal(t, 400, e.HTTPStatus())
	assert.Equal(t, want, e.Message)

	_, err = f.svc.Register(ctx, student("S1", "s1@uni.edu"))
	require.NoError(t, err)

	assert.Equal(t, want, apperr.As(f.svc.ChangePassword(ctx, "S1", strongPassword, long)).Message)

	token, err := f.svc.ForgotPassword(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, want, apperr.As(f.svc.ResetPassword(ctx, "S1", token, long)).Message)
}
