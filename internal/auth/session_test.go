package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRoundTrip(t *testing.T) {
	issuer := NewSessionIssuer([]byte("test-secret-key-0123456789abcdef"), time.Hour)
	user := &User{ID: 1, Username: "alice", IsAdmin: true}

	token, err := issuer.Issue(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims := issuer.Verify(token)
	require.NotNil(t, claims, "свежий токен должен проходить проверку")
	assert.Equal(t, "alice", claims.UserName)
	assert.True(t, claims.IsAdmin)
}

func TestExpiredTokenTreatedAsAbsent(t *testing.T) {
	issuer := NewSessionIssuer([]byte("test-secret-key-0123456789abcdef"), -time.Hour)
	token, err := issuer.Issue(&User{Username: "bob"})
	require.NoError(t, err)

	assert.Nil(t, issuer.Verify(token), "просроченный токен трактуется как отсутствующий")
}

func TestTamperedTokenRejected(t *testing.T) {
	issuer := NewSessionIssuer([]byte("test-secret-key-0123456789abcdef"), time.Hour)
	other := NewSessionIssuer([]byte("another-secret-key-fedcba98765432"), time.Hour)

	token, err := other.Issue(&User{Username: "mallory", IsAdmin: true})
	require.NoError(t, err)

	assert.Nil(t, issuer.Verify(token), "токен с чужой подписью должен отклоняться")
	assert.Nil(t, issuer.Verify(""), "пустой токен трактуется как отсутствующий")
	assert.Nil(t, issuer.Verify("не jwt вовсе"))
}

func TestRegistrarPolicies(t *testing.T) {
	public := NewRegistrar(PolicyPublic, nil)
	assert.NoError(t, public.Allow(""), "публичная политика пускает всех")

	invite := NewRegistrar(PolicyInviteOnly, []string{"code-1"})
	assert.NoError(t, invite.Allow("code-1"))
	assert.ErrorIs(t, invite.Allow("wrong"), ErrInvalidInviteCode)
	assert.ErrorIs(t, invite.Allow(""), ErrInvalidInviteCode)

	closed := NewRegistrar(PolicyClosed, nil)
	assert.ErrorIs(t, closed.Allow("code-1"), ErrRegistrationClosed)
}

func TestParsePolicy(t *testing.T) {
	for s, want := range map[string]RegistrationPolicy{
		"":            PolicyPublic,
		"public":      PolicyPublic,
		"invite_only": PolicyInviteOnly,
		"closed":      PolicyClosed,
	} {
		got, err := ParsePolicy(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParsePolicy("nonsense")
	assert.Error(t, err)
}

func TestMemoryUserRepo(t *testing.T) {
	repo := NewMemoryUserRepo()

	hash, err := HashPassword("pw123")
	require.NoError(t, err)

	created, err := repo.CreateUser("Alice", hash, false)
	require.NoError(t, err)
	assert.Equal(t, "alice", created.Username, "имена нормализуются к нижнему регистру")

	_, err = repo.CreateUser("alice", hash, false)
	assert.ErrorIs(t, err, ErrUserExists)

	user, err := repo.ValidateCredentials("ALICE", "pw123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	_, err = repo.ValidateCredentials("alice", "wrong")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = repo.GetUserByUsername("ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
