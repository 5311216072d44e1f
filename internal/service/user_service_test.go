package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/kanchana_server/internal/model"
	"github.com/qs3c/kanchana_server/internal/model/dto"
	"github.com/qs3c/kanchana_server/internal/repository"
	"github.com/qs3c/kanchana_server/internal/testutil"
)

func setupUserService(t *testing.T) (*UserService, func(opts ...func(*model.User)) *model.User, func(userID int64, mode string, count int)) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	svc := NewUserService(repository.NewUserRepository(db), repository.NewModeUsageRepository(db), testConfig())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }

	newUser := func(opts ...func(*model.User)) *model.User { return testutil.TestUser(t, db, opts...) }
	newUsage := func(userID int64, mode string, count int) { testutil.TestModeUsage(t, db, userID, mode, count) }
	return svc, newUser, newUsage
}

func TestUserService_GetProfile(t *testing.T) {
	svc, newUser, newUsage := setupUserService(t)

	user := newUser(testutil.WithTier(model.TierPremium), testutil.WithVoiceUsage("2026-03-01", 90))
	newUsage(user.ID, "Lovely", 5)
	newUsage(user.ID, "Horror", 2)

	info, err := svc.GetProfile(user.ID)
	require.NoError(t, err)

	assert.Equal(t, user.ID, info.ID)
	assert.True(t, info.IsPremium)
	assert.False(t, info.IsHost)
	assert.Equal(t, map[string]int{"Lovely": 5, "Horror": 2}, info.ModeMessageCounts)
	assert.Equal(t, 90, info.VoiceSecondsToday)
	assert.NotEmpty(t, info.Email)
}

func TestUserService_GetProfile_NotFound(t *testing.T) {
	svc, _, _ := setupUserService(t)

	_, err := svc.GetProfile(99999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserService_GetProfile_StaleVoiceDay(t *testing.T) {
	svc, newUser, _ := setupUserService(t)

	user := newUser(testutil.WithHost(), testutil.WithVoiceUsage("2026-02-27", 200))

	info, err := svc.GetProfile(user.ID)
	require.NoError(t, err)
	assert.True(t, info.IsHost)
	assert.Equal(t, 0, info.VoiceSecondsToday)
	assert.Empty(t, info.ModeMessageCounts)
}

func TestUserService_UpdateProfile(t *testing.T) {
	svc, newUser, _ := setupUserService(t)
	user := newUser()

	mode := "Shayari"
	info, err := svc.UpdateProfile(user.ID, &dto.UpdateProfileRequest{PreferredMode: &mode})
	require.NoError(t, err)
	assert.Equal(t, "Shayari", info.PreferredMode)

	bad := "Angry"
	_, err = svc.UpdateProfile(user.ID, &dto.UpdateProfileRequest{PreferredMode: &bad})
	assert.ErrorIs(t, err, ErrInvalidMode)

	empty := " "
	info, err = svc.UpdateProfile(user.ID, &dto.UpdateProfileRequest{PreferredMode: &empty})
	require.NoError(t, err)
	assert.Equal(t, "", info.PreferredMode)

	info, err = svc.UpdateProfile(user.ID, &dto.UpdateProfileRequest{})
	require.NoError(t, err)
	assert.Equal(t, "", info.PreferredMode)

	_, err = svc.UpdateProfile(99999, &dto.UpdateProfileRequest{PreferredMode: &mode})
	assert.ErrorIs(t, err, ErrUserNotFound)
}
