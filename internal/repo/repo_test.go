package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proconfianza/server/internal/db/dbtest"
)

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(dbtest.Open(t))
}

func seedAdmin(t *testing.T, s *Store) uuid.UUID {
	t.Helper()
	admin, err := s.Users.EnsureAdmin(context.Background(), "+34670709259", t0)
	require.NoError(t, err)
	return admin.ID
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "ABC123", NormalizeCode("  abc123 "))
	assert.Equal(t, "MI_PRIMERA_INVITACION", NormalizeCode("mi_primera_invitacion"))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestUserRepo_CreateAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	adminID := seedAdmin(t, s)

	code := "ABC123"
	u, err := s.Users.Create(ctx, NewUser{
		PhoneNumber:        "+34600000001",
		InvitedBy:          &adminID,
		InvitationCodeUsed: &code,
		CreatedAt:          t0,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.True(t, u.IsVerified, "users are created verified")
	assert.False(t, u.IsAdmin)
	require.NotNil(t, u.InvitedBy)
	assert.Equal(t, adminID, *u.InvitedBy)
	require.NotNil(t, u.InvitationCodeUsed)
	assert.Equal(t, "ABC123", *u.InvitationCodeUsed)
	assert.True(t, t0.Equal(u.CreatedAt), "created_at round trip: %v", u.CreatedAt)

	found, err := s.Users.FindByPhone(ctx, "+34600000001")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	byID, err := s.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "+34600000001", byID.PhoneNumber)

	_, err = s.Users.FindByPhone(ctx, "+34600000009")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepo_CreateDuplicatePhone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Users.Create(ctx, NewUser{PhoneNumber: "+34600000001", CreatedAt: t0})
	require.NoError(t, err)

	_, err = s.Users.Create(ctx, NewUser{PhoneNumber: "+34600000001", CreatedAt: t0})
	assert.ErrorIs(t, err, ErrDuplicatePhone)
}

func TestUserRepo_CreateConcurrentSamePhone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Users.Create(ctx, NewUser{PhoneNumber: "+34600000002", CreatedAt: t0})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicatePhone)
	}
	assert.Equal(t, 1, created, "exactly one insert may win")
}

func TestUserRepo_EnsureAdminIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Users.EnsureAdmin(ctx, "+34670709259", t0)
	require.NoError(t, err)
	assert.True(t, first.IsAdmin)
	assert.True(t, first.IsVerified)

	second, err := s.Users.EnsureAdmin(ctx, "+34670709259", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = s.Users.Create(ctx, NewUser{PhoneNumber: "+34600000003", CreatedAt: t0})
	require.NoError(t, err)
	promoted, err := s.Users.EnsureAdmin(ctx, "+34600000003", t0)
	require.NoError(t, err)
	assert.True(t, promoted.IsAdmin)
}

func TestInvitationRepo_LookupAndRedeem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	adminID := seedAdmin(t, s)

	inv, err := s.Invitations.Create(ctx, " abc123 ", adminID, t0)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", inv.Code)
	assert.True(t, inv.IsActive)
	assert.False(t, inv.Redeemed())

	active, err := s.Invitations.LookupActive(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, active.ID)

	user, err := s.Users.Create(ctx, NewUser{PhoneNumber: "+34600000004", CreatedAt: t0})
	require.NoError(t, err)

	redeemed, err := s.Invitations.Redeem(ctx, "ABC123", user.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, redeemed.IsActive)
	require.NotNil(t, redeemed.UsedBy)
	assert.Equal(t, user.ID, *redeemed.UsedBy)
	require.NotNil(t, redeemed.UsedAt)
	assert.True(t, redeemed.Redeemed())

	_, err = s.Invitations.LookupActive(ctx, "ABC123")
	assert.ErrorIs(t, err, ErrNotFound, "redeemed invitations are not active")

	_, err = s.Invitations.Redeem(ctx, "ABC123", user.ID, t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	_, err = s.Invitations.Redeem(ctx, "NOPE", user.ID, t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvitationRepo_CreateDuplicateCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	adminID := seedAdmin(t, s)

	_, err := s.Invitations.Create(ctx, "DUP", adminID, t0)
	require.NoError(t, err)
	_, err = s.Invitations.Create(ctx, "dup", adminID, t0)
	assert.ErrorIs(t, err, ErrDuplicateCode, "codes compare case-insensitively")
}

func TestInvitationRepo_ConcurrentRedeem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	adminID := seedAdmin(t, s)

	_, err := s.Invitations.Create(ctx, "RACE", adminID, t0)
	require.NoError(t, err)

	const n = 10
	users := make([]uuid.UUID, n)
	for i := range users {
		u, err := s.Users.Create(ctx, NewUser{PhoneNumber: "+3461000000" + string(rune('0'+i)), CreatedAt: t0})
		require.NoError(t, err)
		users[i] = u.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Invitations.Redeem(ctx, "RACE", users[i], t0)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyUsed)
	}
	assert.Equal(t, 1, wins)
}

func TestVerificationRepo_ReplaceKeepsOneRowPerPhone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	phone := "+34600000005"

	first, err := s.Verifications.Replace(ctx, phone, "hash-1", t0, t0.Add(10*time.Minute))
	require.NoError(t, err)
	_, err = s.Verifications.IncrementAttempt(ctx, first.ID)
	require.NoError(t, err)

	second, err := s.Verifications.Replace(ctx, phone, "hash-2", t0.Add(time.Minute), t0.Add(11*time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "a new code is a new instance")
	assert.Equal(t, "hash-2", second.CodeHash)
	assert.Equal(t, 0, second.Attempts, "attempts reset on replace")
	assert.False(t, second.Used)

	got, err := s.Verifications.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = s.Verifications.IncrementAttempt(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound, "superseded instance is unreachable")
}

func TestVerificationRepo_AttemptsUsedAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	phone := "+34600000006"

	vc, err := s.Verifications.Replace(ctx, phone, "hash", t0, t0.Add(10*time.Minute))
	require.NoError(t, err)

	n, err := s.Verifications.IncrementAttempt(ctx, vc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Verifications.IncrementAttempt(ctx, vc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Verifications.MarkUsed(ctx, vc.ID))
	assert.ErrorIs(t, s.Verifications.MarkUsed(ctx, vc.ID), ErrNotFound, "a code is consumed once")

	got, err := s.Verifications.GetForUpdate(ctx, phone)
	require.NoError(t, err)
	assert.True(t, got.Used)
	assert.True(t, t0.Add(10*time.Minute).Equal(got.ExpiresAt))

	require.NoError(t, s.Verifications.Delete(ctx, vc.ID))
	_, err = s.Verifications.Get(ctx, phone)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerificationRepo_PurgeDead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Verifications.Replace(ctx, "+34600000007", "expired", t0, t0.Add(10*time.Minute))
	require.NoError(t, err)
	used, err := s.Verifications.Replace(ctx, "+34600000008", "used", t0, t0.Add(48*time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.Verifications.MarkUsed(ctx, used.ID))
	_, err = s.Verifications.Replace(ctx, "+34600000009", "live", t0.Add(2*time.Hour), t0.Add(3*time.Hour))
	require.NoError(t, err)

	n, err := s.Verifications.PurgeDead(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Verifications.Get(ctx, "+34600000009")
	assert.NoError(t, err, "live code survives the purge")
}

func TestStore_InTxRollsBackEveryRepo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	adminID := seedAdmin(t, s)
	_, err := s.Invitations.Create(ctx, "TXCODE", adminID, t0)
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx *Store) error {
		u, err := tx.Users.Create(ctx, NewUser{PhoneNumber: "+34600000010", CreatedAt: t0})
		if err != nil {
			return err
		}
		if _, err := tx.Invitations.Redeem(ctx, "TXCODE", u.ID, t0); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = s.Users.FindByPhone(ctx, "+34600000010")
	assert.ErrorIs(t, err, ErrNotFound, "user insert rolled back")
	inv, err := s.Invitations.LookupActive(ctx, "TXCODE")
	require.NoError(t, err, "invitation still active after rollback")
	assert.Nil(t, inv.UsedBy)
}
