package lobby

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-who-backend/internal/auth"
	"github.com/DoyleJ11/guess-who-backend/internal/catalog"
	"github.com/DoyleJ11/guess-who-backend/internal/engine"
	"github.com/DoyleJ11/guess-who-backend/internal/roomcode"
	"github.com/DoyleJ11/guess-who-backend/internal/secret"
	"github.com/DoyleJ11/guess-who-backend/internal/session"
)

type commits chan session.Commit

func (c commits) Committed(commit session.Commit) { c <- commit }

// helper: wait for a commit carrying eventType so tests never hang
func recvEvent(t *testing.T, ch commits, eventType engine.EventType, within time.Duration) session.Commit {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case c := <-ch:
			if engine.ContainsEvent(c.Events, eventType) {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
			return session.Commit{} // unreachable
		}
	}
}

type fixture struct {
	store   *session.Store
	mgr     *Manager
	commits commits
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	return newFixtureWithCodes(t, nil, opts...)
}

func newFixtureWithCodes(t *testing.T, codeOpts []roomcode.Option, opts ...Option) fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Timers outlive individual tests, so nothing here may log through t.
	log := zap.NewNop()
	rec := make(commits, 64)
	st := session.NewStore(ctx, log, session.WithListener(rec))
	static, err := catalog.NewStatic()
	require.NoError(t, err)

	mgr := NewManager(st, roomcode.NewAllocator(st, codeOpts...), secret.NewAssigner(static, secret.WithSeed(1, 1)), log, opts...)
	return fixture{store: st, mgr: mgr, commits: rec}
}

func (f fixture) room(t *testing.T) string {
	t.Helper()
	st, err := f.mgr.Create(context.Background(), engine.Rules{CharacterSetID: catalog.DefaultSet})
	require.NoError(t, err)
	require.True(t, roomcode.Valid(st.Code))
	return st.Code
}

func (f fixture) join(t *testing.T, code, user, name, handle string) Seat {
	t.Helper()
	seat, err := f.mgr.Join(context.Background(), JoinRequest{
		Code:     code,
		Identity: auth.Identity{UserID: user},
		Name:     name,
		Handle:   handle,
	})
	require.NoError(t, err)
	return seat
}

func (f fixture) readyUp(t *testing.T, code string, seats ...Seat) {
	t.Helper()
	for _, s := range seats {
		_, err := f.mgr.SetReady(context.Background(), code, s.Participant.ID, true)
		require.NoError(t, err)
	}
}

func TestManager_CreateThenJoin(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)

	host := f.join(t, code, "u-host", "Hana", "c1")
	assert.Equal(t, engine.RoleHost, host.Participant.Role)
	assert.True(t, strings.HasPrefix(host.Token, code+"."))
	assert.Equal(t, HashToken(host.Token), host.Participant.TokenHash)

	player := f.join(t, code, "u-player", "Pim", "c2")
	assert.Equal(t, engine.RolePlayer, player.Participant.Role)
	assert.NotEqual(t, host.Participant.ID, player.Participant.ID)
	assert.Equal(t, 2, player.Commit.Version)

	_, err := f.mgr.Join(context.Background(), JoinRequest{Code: code, Identity: auth.Identity{UserID: "u-3"}, Name: "Third", Handle: "c3"})
	assert.ErrorIs(t, err, engine.ErrRoomFull)
}

func TestManager_JoinUnknownRoom(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Join(context.Background(), JoinRequest{Code: "ZZZZZ", Identity: auth.Identity{UserID: "u"}, Name: "A"})
	assert.ErrorIs(t, err, engine.ErrRoomNotFound)
}

func TestManager_JoinFallsBackToIdentityName(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	seat, err := f.mgr.Join(context.Background(), JoinRequest{
		Code:     strings.ToLower(code),
		Identity: auth.Identity{UserID: "u1", DisplayName: "Ｇｕｅｓｔ  Ann"},
		Handle:   "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Guest Ann", seat.Participant.DisplayName)
}

func TestManager_SameUserRejoinReattaches(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	first := f.join(t, code, "u-host", "Hana", "c1")
	again := f.join(t, code, "u-host", "Hana", "c9")

	assert.Equal(t, first.Participant.ID, again.Participant.ID)
	assert.NotEqual(t, first.Token, again.Token)
	assert.Equal(t, "c9", again.Participant.Handle)
	assert.Len(t, again.Commit.State.Participants, 1)
}

func TestManager_StartRequiresHostAndReady(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	host := f.join(t, code, "u-host", "Hana", "c1")

	_, err := f.mgr.Start(context.Background(), code, host.Participant.ID)
	assert.ErrorIs(t, err, engine.ErrInsufficientPlayers)

	player := f.join(t, code, "u-player", "Pim", "c2")
	_, err = f.mgr.Start(context.Background(), code, host.Participant.ID)
	assert.ErrorIs(t, err, engine.ErrNotReady)

	f.readyUp(t, code, host, player)
	_, err = f.mgr.Start(context.Background(), code, player.Participant.ID)
	assert.ErrorIs(t, err, engine.ErrNotHost)

	c, err := f.mgr.Start(context.Background(), code, host.Participant.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPlaying, c.State.Status)
	require.NotNil(t, c.State.Round)
	assert.Equal(t, 1, c.State.Round.Number)
	assert.Equal(t, host.Participant.ID, c.State.Round.ActiveID)
	assert.Len(t, c.State.Board, 24)
	assert.Len(t, c.State.Secrets, 2)

	_, err = f.mgr.Start(context.Background(), code, host.Participant.ID)
	assert.ErrorIs(t, err, engine.ErrAlreadyAssigned)
}

func TestManager_SetReadyTwiceIsNoOp(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	host := f.join(t, code, "u-host", "Hana", "c1")

	c1, err := f.mgr.SetReady(context.Background(), code, host.Participant.ID, true)
	require.NoError(t, err)
	c2, err := f.mgr.SetReady(context.Background(), code, host.Participant.ID, true)
	require.NoError(t, err)

	assert.Equal(t, c1.Version, c2.Version)
	assert.Empty(t, c2.Events)
	assert.True(t, c2.State.Participants[0].Ready)
}

func TestManager_ReconnectRotatesToken(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	host := f.join(t, code, "u-host", "Hana", "c1")
	require.NoError(t, f.mgr.Disconnect(context.Background(), code, host.Participant.ID, "c1"))

	back, err := f.mgr.Reconnect(context.Background(), host.Token, "c2")
	require.NoError(t, err)
	assert.Equal(t, host.Participant.ID, back.Participant.ID)
	assert.Equal(t, engine.PresenceConnected, back.Participant.Presence)
	assert.NotEqual(t, host.Token, back.Token)

	_, err = f.mgr.Reconnect(context.Background(), host.Token, "c3")
	assert.ErrorIs(t, err, engine.ErrInvalidToken, "old token must not work twice")

	_, err = f.mgr.Reconnect(context.Background(), "garbage", "c3")
	assert.ErrorIs(t, err, engine.ErrInvalidToken)

	// A join bearing the token is a reconnect, not a new seat.
	viaJoin, err := f.mgr.Join(context.Background(), JoinRequest{Code: code, Token: back.Token, Handle: "c4"})
	require.NoError(t, err)
	assert.Equal(t, host.Participant.ID, viaJoin.Participant.ID)
	assert.Len(t, viaJoin.Commit.State.Participants, 1)
}

func TestManager_GraceExpiryForfeitsMidMatch(t *testing.T) {
	f := newFixture(t, WithReconnectGrace(30*time.Millisecond))
	code := f.room(t)
	host := f.join(t, code, "u-host", "Hana", "c1")
	player := f.join(t, code, "u-player", "Pim", "c2")
	f.readyUp(t, code, host, player)
	_, err := f.mgr.Start(context.Background(), code, host.Participant.ID)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Disconnect(context.Background(), code, player.Participant.ID, "c2"))

	c := recvEvent(t, f.commits, engine.EvtMatchFinished, time.Second)
	assert.Equal(t, engine.StatusFinished, c.State.Status)
	assert.Equal(t, host.Participant.ID, c.State.WinnerID)
	assert.Equal(t, "forfeit", c.State.EndReason)
}

func TestManager_ReconnectInsideGraceKeepsMatch(t *testing.T) {
	f := newFixture(t, WithReconnectGrace(80*time.Millisecond))
	code := f.room(t)
	host := f.join(t, code, "u-host", "Hana", "c1")
	player := f.join(t, code, "u-player", "Pim", "c2")
	f.readyUp(t, code, host, player)
	_, err := f.mgr.Start(context.Background(), code, host.Participant.ID)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Disconnect(context.Background(), code, player.Participant.ID, "c2"))
	_, err = f.mgr.Reconnect(context.Background(), player.Token, "c3")
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	v, err := f.store.Snapshot(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPlaying, v.State.Status)
}

func TestManager_LeaveMidMatchMarksDisconnected(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	host := f.join(t, code, "u-host", "Hana", "c1")
	player := f.join(t, code, "u-player", "Pim", "c2")
	f.readyUp(t, code, host, player)
	_, err := f.mgr.Start(context.Background(), code, host.Participant.ID)
	require.NoError(t, err)

	c, err := f.mgr.Leave(context.Background(), code, player.Participant.ID)
	require.NoError(t, err)
	require.Len(t, c.State.Participants, 2)
	assert.Equal(t, engine.PresenceDisconnected, c.State.Participants[1].Presence)
}

func TestManager_EmptyLobbyIsEvictedAndCodeReleased(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	host := f.join(t, code, "u-host", "Hana", "c1")

	_, err := f.mgr.Leave(context.Background(), code, host.Participant.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !f.store.Exists(code) }, time.Second, 10*time.Millisecond)
	_, err = f.mgr.Join(context.Background(), JoinRequest{Code: code, Identity: auth.Identity{UserID: "u"}, Name: "A"})
	assert.ErrorIs(t, err, engine.ErrRoomNotFound)
}

func TestManager_UnjoinedLobbyExpires(t *testing.T) {
	f := newFixture(t, WithLobbyTTL(20*time.Millisecond))
	code := f.room(t)

	c := recvEvent(t, f.commits, engine.EvtSessionCancelled, time.Second)
	assert.Equal(t, code, c.Code)
	assert.Equal(t, "abandoned", c.State.EndReason)
}

func TestManager_ReusedCodeKeepsItsOwnLobbyTTL(t *testing.T) {
	const ttl = 300 * time.Millisecond
	// One-letter alphabet: every room gets AAAAA.
	f := newFixtureWithCodes(t, []roomcode.Option{roomcode.WithAlphabet("A", roomcode.Length)}, WithLobbyTTL(ttl))

	first := f.room(t)
	host := f.join(t, first, "u-host", "Hana", "c1")
	_, err := f.mgr.Leave(context.Background(), first, host.Participant.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !f.store.Exists(first) }, time.Second, 10*time.Millisecond)

	// Open the second room well inside the first room's TTL.
	time.Sleep(ttl / 2)
	var (
		second  engine.State
		created time.Time
	)
	require.Eventually(t, func() bool {
		created = time.Now()
		second, err = f.mgr.Create(context.Background(), engine.Rules{CharacterSetID: catalog.DefaultSet})
		return err == nil
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, first, second.Code)

	c := recvEvent(t, f.commits, engine.EvtSessionCancelled, 2*time.Second)
	assert.Equal(t, second.Code, c.Code)
	assert.GreaterOrEqual(t, time.Since(created), ttl, "the first room's timer cancelled the second room")
}

func TestCleanName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  Ann  ", "Ann"},
		{"Ｈａｎａ", "Hana"},
		{"a\tb\x00c", "a bc"},
		{strings.Repeat("x", 40), strings.Repeat("x", MaxNameLen)},
		{"é", "é"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanName(tt.in), "input %q", tt.in)
	}
}
