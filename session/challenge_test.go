package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdrys/lanyard/devserver"
	"github.com/mdrys/lanyard/store"
)

const otpUser = "grace"

func newChallengeEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t, nil, nil)
	secret, err := devserver.GenerateTOTPSecret()
	require.NoError(t, err)
	require.NoError(t, env.srv.AddAccount(devserver.Account{
		Username:   otpUser,
		Email:      "grace@example.com",
		TOTPSecret: secret,
	}, testPassword))
	require.NoError(t, env.mgr.Start(t.Context()))
	return env
}

func beginChallenge(t *testing.T, env *testEnv) {
	t.Helper()
	out, err := env.mgr.Login(t.Context(), otpUser, testPassword)
	require.NoError(t, err)
	require.Equal(t, LoginChallengeRequired, out.Status)
	require.Equal(t, otpUser, out.Username)
}

func TestManager_ChallengeFlow(t *testing.T) {
	env := newChallengeEnv(t)
	beginChallenge(t, env)

	assert.Equal(t, StatePendingChallenge, env.mgr.State())
	assert.Equal(t, otpUser, env.mgr.PendingChallengeUsername())

	// The challenge is durable: a restart must resume at the code prompt.
	marker, err := env.st.Get(store.KeyPendingChallenge)
	require.NoError(t, err)
	assert.Equal(t, otpUser, marker)

	code, ok := env.srv.CurrentOTP(otpUser)
	require.True(t, ok)
	out, err := env.mgr.VerifyChallenge(t.Context(), code)
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, StateAuthenticated, env.mgr.State())

	_, err = env.st.Get(store.KeyPendingChallenge)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_ChallengeWrongCode(t *testing.T) {
	env := newChallengeEnv(t)
	beginChallenge(t, env)

	out, err := env.mgr.VerifyChallenge(t.Context(), "000000")
	require.NoError(t, err)
	assert.False(t, out.Verified)
	assert.Equal(t, "Invalid one-time code", out.Reason)

	// A rejected code leaves the challenge open for another attempt.
	assert.Equal(t, StatePendingChallenge, env.mgr.State())
	assert.Equal(t, otpUser, env.mgr.PendingChallengeUsername())
}

func TestManager_ChallengeCodeNormalization(t *testing.T) {
	env := newChallengeEnv(t)
	beginChallenge(t, env)

	// Authenticator apps display codes with a separating space.
	code, ok := env.srv.CurrentOTP(otpUser)
	require.True(t, ok)
	require.Len(t, code, 6)
	spaced := " " + code[:3] + " " + code[3:] + " "

	out, err := env.mgr.VerifyChallenge(t.Context(), spaced)
	require.NoError(t, err)
	assert.True(t, out.Verified)
}

func TestManager_ChallengeCancel(t *testing.T) {
	env := newChallengeEnv(t)
	beginChallenge(t, env)

	env.mgr.CancelChallenge()
	assert.Equal(t, StateAnonymous, env.mgr.State())
	assert.Empty(t, env.mgr.PendingChallengeUsername())
	_, err := env.st.Get(store.KeyPendingChallenge)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Cancel with nothing pending is a no-op.
	env.mgr.CancelChallenge()
	assert.Equal(t, StateAnonymous, env.mgr.State())
}

func TestManager_ChallengeColdStartResume(t *testing.T) {
	env := newChallengeEnv(t)
	beginChallenge(t, env)
	env.mgr.Close()

	mgr2 := NewManager(env.api, env.st)
	t.Cleanup(mgr2.Close)
	require.NoError(t, mgr2.Start(t.Context()))
	assert.Equal(t, StatePendingChallenge, mgr2.State())
	assert.Equal(t, otpUser, mgr2.PendingChallengeUsername())

	code, ok := env.srv.CurrentOTP(otpUser)
	require.True(t, ok)
	out, err := mgr2.VerifyChallenge(t.Context(), code)
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, StateAuthenticated, mgr2.State())
}

func TestManager_RejectedLoginKeepsPendingChallenge(t *testing.T) {
	env := newChallengeEnv(t)
	beginChallenge(t, env)

	// A failed login attempt over an open challenge must not strand the
	// session between states: the challenge stays open, in memory and in
	// the store alike.
	out, err := env.mgr.Login(t.Context(), testUser, "wrong")
	require.NoError(t, err)
	assert.Equal(t, LoginRejected, out.Status)

	assert.Equal(t, StatePendingChallenge, env.mgr.State())
	assert.Equal(t, otpUser, env.mgr.PendingChallengeUsername())
	marker, err := env.st.Get(store.KeyPendingChallenge)
	require.NoError(t, err)
	assert.Equal(t, otpUser, marker)

	// A restart over the same store agrees with the pre-restart state.
	env.mgr.Close()
	mgr2 := NewManager(env.api, env.st)
	t.Cleanup(mgr2.Close)
	require.NoError(t, mgr2.Start(t.Context()))
	assert.Equal(t, StatePendingChallenge, mgr2.State())

	// The open challenge is still resolvable.
	code, ok := env.srv.CurrentOTP(otpUser)
	require.True(t, ok)
	vout, err := mgr2.VerifyChallenge(t.Context(), code)
	require.NoError(t, err)
	assert.True(t, vout.Verified)
}

func TestManager_VerifyWithoutChallenge(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	require.NoError(t, env.mgr.Start(t.Context()))

	_, err := env.mgr.VerifyChallenge(t.Context(), "123456")
	assert.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestManager_ChallengeThenProfile(t *testing.T) {
	env := newChallengeEnv(t)
	beginChallenge(t, env)

	code, ok := env.srv.CurrentOTP(otpUser)
	require.True(t, ok)
	out, err := env.mgr.VerifyChallenge(t.Context(), code)
	require.NoError(t, err)
	require.True(t, out.Verified)

	require.Eventually(t, func() bool {
		return env.mgr.Profile() != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, otpUser, env.mgr.Profile().Username)
}
