package framework

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playtable/gameserver/internal/config"
	"github.com/playtable/gameserver/internal/game"
	"github.com/playtable/gameserver/internal/games/tictactoe"
	"github.com/playtable/gameserver/internal/protocol"
)

func testConfig() config.Server {
	cfg := config.Default()
	cfg.GameTimeout = 1 // keep admission timeouts short in tests
	cfg.Log = config.LogConfig{}
	return cfg
}

func newTestFramework(classes ...game.Class) *Framework {
	if len(classes) == 0 {
		classes = []game.Class{tictactoe.Class()}
	}
	return NewFramework(testConfig(), game.NewRegistry(classes...))
}

// joinPair fills a fresh two-player TicTacToe session and returns both join
// payloads.
func joinPair(t *testing.T, fw *Framework, token string) (a, b map[string]any) {
	t.Helper()

	var wg sync.WaitGroup
	responses := make([]protocol.Response, 2)
	for i, name := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			responses[i] = fw.Handle(context.Background(), map[string]any{
				"type": "join", "game": "TicTacToe", "token": token,
				"players": 2, "name": name,
			})
		}(i, name)
	}
	wg.Wait()

	for _, resp := range responses {
		require.False(t, resp.IsError(), "join failed: %v", resp)
	}

	a = responses[0]["data"].(map[string]any)
	b = responses[1]["data"].(map[string]any)
	return a, b
}

func TestHandleMissingType(t *testing.T) {
	fw := newTestFramework()

	resp := fw.Handle(context.Background(), map[string]any{})
	assert.Equal(t, "framework: key 'type' of type str missing", resp["message"])

	resp = fw.Handle(context.Background(), map[string]any{"type": 42})
	assert.Equal(t, "framework: key 'type' of type str invalid", resp["message"])
}

func TestHandleInvalidType(t *testing.T) {
	fw := newTestFramework()

	resp := fw.Handle(context.Background(), map[string]any{"type": "dance"})
	assert.Equal(t, "framework: invalid request type", resp["message"])
}

func TestJoinValidation(t *testing.T) {
	fw := newTestFramework()
	ctx := context.Background()

	tests := []struct {
		name    string
		req     map[string]any
		message string
	}{
		{
			name:    "unknown game",
			req:     map[string]any{"type": "join", "game": "Poker", "token": "t", "name": "", "players": 2},
			message: "framework: no such game",
		},
		{
			name:    "missing session without players",
			req:     map[string]any{"type": "join", "game": "TicTacToe", "token": "t", "name": ""},
			message: "framework: no such game session",
		},
		{
			name:    "too few players",
			req:     map[string]any{"type": "join", "game": "TicTacToe", "token": "t", "name": "", "players": 1},
			message: "framework: invalid number of players",
		},
		{
			name:    "too many players",
			req:     map[string]any{"type": "join", "game": "TicTacToe", "token": "t", "name": "", "players": 3},
			message: "framework: invalid number of players",
		},
		{
			name:    "missing token",
			req:     map[string]any{"type": "join", "game": "TicTacToe", "name": "", "players": 2},
			message: "framework: key 'token' of type str missing",
		},
		{
			name:    "mistyped players",
			req:     map[string]any{"type": "join", "game": "TicTacToe", "token": "t", "name": "", "players": "two"},
			message: "framework: key 'players' of type int invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := fw.Handle(ctx, tt.req)
			assert.Equal(t, tt.message, resp["message"])
		})
	}
}

func TestJoinTwoPlayers(t *testing.T) {
	fw := newTestFramework()
	a, b := joinPair(t, fw, "t1")

	idA := a["player_id"].(int)
	idB := b["player_id"].(int)
	assert.ElementsMatch(t, []int{0, 1}, []int{idA, idB})
	assert.Len(t, a["key"], 5)
	assert.Len(t, b["key"], 5)
	assert.NotEqual(t, a["key"], b["key"])
	assert.Equal(t, testConfig().RequestSizeMax, a["request_size_max"])
}

func TestJoinTimeout(t *testing.T) {
	fw := newTestFramework()

	resp := fw.Handle(context.Background(), map[string]any{
		"type": "join", "game": "TicTacToe", "token": "lonely",
		"players": 2, "name": "a",
	})
	assert.Equal(t, "framework: timeout while waiting for others to join", resp["message"])

	// The timed-out session must not be visible to later requests.
	resp = fw.Handle(context.Background(), map[string]any{
		"type": "join", "game": "TicTacToe", "token": "lonely", "name": "b",
	})
	assert.Equal(t, "framework: no such game session", resp["message"])
	assert.Equal(t, 0, fw.SessionCount())
}

func TestJoinDuplicateName(t *testing.T) {
	fw := newTestFramework()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fw.Handle(context.Background(), map[string]any{
			"type": "join", "game": "TicTacToe", "token": "t", "players": 2, "name": "a",
		})
	}()

	require.Eventually(t, func() bool { return fw.SessionCount() == 1 },
		time.Second, 5*time.Millisecond)

	resp := fw.Handle(context.Background(), map[string]any{
		"type": "join", "game": "TicTacToe", "token": "t", "name": "a",
	})
	assert.Equal(t, "framework: name already in use", resp["message"])

	// A distinct name still completes the session.
	resp = fw.Handle(context.Background(), map[string]any{
		"type": "join", "game": "TicTacToe", "token": "t", "name": "b",
	})
	assert.False(t, resp.IsError())
	wg.Wait()
}

func TestJoinFullSessionWithoutPlayers(t *testing.T) {
	fw := newTestFramework()
	joinPair(t, fw, "t1")

	resp := fw.Handle(context.Background(), map[string]any{
		"type": "join", "game": "TicTacToe", "token": "t1", "name": "c",
	})
	assert.Equal(t, "framework: game is already full", resp["message"])
}

func TestJoinOverwritesFullSession(t *testing.T) {
	fw := newTestFramework()
	a, _ := joinPair(t, fw, "t1")

	var wg sync.WaitGroup
	for _, name := range []string{"x", "y"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			resp := fw.Handle(context.Background(), map[string]any{
				"type": "join", "game": "TicTacToe", "token": "t1",
				"players": 2, "name": name,
			})
			assert.False(t, resp.IsError(), "replacement join failed: %v", resp)
		}(name)
	}
	wg.Wait()

	// The old credentials are now useless against the fresh session.
	resp := fw.Handle(context.Background(), map[string]any{
		"type": "move", "game": "TicTacToe", "token": "t1",
		"player_id": a["player_id"], "key": a["key"],
		"move": map[string]any{"position": 0},
	})
	assert.Equal(t, "framework: invalid key", resp["message"])
}

func TestMoveValidation(t *testing.T) {
	fw := newTestFramework()
	a, _ := joinPair(t, fw, "t1")
	ctx := context.Background()

	resp := fw.Handle(ctx, map[string]any{
		"type": "move", "game": "TicTacToe", "token": "t1",
		"player_id": a["player_id"], "key": a["key"],
	})
	assert.Equal(t, "framework: key 'move' of type map missing", resp["message"])

	resp = fw.Handle(ctx, map[string]any{
		"type": "move", "game": "TicTacToe", "token": "nope",
		"player_id": a["player_id"], "key": a["key"], "move": map[string]any{},
	})
	assert.Equal(t, "framework: no such game session", resp["message"])

	resp = fw.Handle(ctx, map[string]any{
		"type": "move", "game": "TicTacToe", "token": "t1",
		"player_id": a["player_id"], "key": "wrong", "move": map[string]any{},
	})
	assert.Equal(t, "framework: invalid key", resp["message"])
}

func TestMoveTurnEnforcement(t *testing.T) {
	fw := newTestFramework()
	a, b := joinPair(t, fw, "t1")
	ctx := context.Background()

	// Ask the board whose turn it is.
	state := fw.Handle(ctx, map[string]any{
		"type": "state", "game": "TicTacToe", "token": "t1",
		"player_id": a["player_id"], "key": a["key"], "observer": false,
	})
	require.False(t, state.IsError())
	current := state["data"].(map[string]any)["current"].([]int)
	require.Len(t, current, 1)

	mover, waiter := a, b
	if current[0] == b["player_id"].(int) {
		mover, waiter = b, a
	}

	resp := fw.Handle(ctx, map[string]any{
		"type": "move", "game": "TicTacToe", "token": "t1",
		"player_id": waiter["player_id"], "key": waiter["key"],
		"move": map[string]any{"position": 0},
	})
	assert.Equal(t, "framework: not your turn", resp["message"])

	resp = fw.Handle(ctx, map[string]any{
		"type": "move", "game": "TicTacToe", "token": "t1",
		"player_id": mover["player_id"], "key": mover["key"],
		"move": map[string]any{"position": 0},
	})
	require.False(t, resp.IsError())
	assert.Nil(t, resp["data"])
}

func TestMoveGameError(t *testing.T) {
	fw := newTestFramework()
	a, b := joinPair(t, fw, "t1")
	ctx := context.Background()

	state := fw.Handle(ctx, map[string]any{
		"type": "state", "game": "TicTacToe", "token": "t1",
		"player_id": a["player_id"], "key": a["key"], "observer": false,
	})
	current := state["data"].(map[string]any)["current"].([]int)
	mover := a
	if current[0] == b["player_id"].(int) {
		mover = b
	}

	resp := fw.Handle(ctx, map[string]any{
		"type": "move", "game": "TicTacToe", "token": "t1",
		"player_id": mover["player_id"], "key": mover["key"],
		"move": map[string]any{"position": 42},
	})
	assert.Equal(t, "game: invalid position", resp["message"])
}

func TestMoveEndedGameBeforeKeyCheck(t *testing.T) {
	fw := newTestFramework(stubClass(&stubGame{current: []int{0}, over: true}))

	resp := fw.Handle(context.Background(), map[string]any{
		"type": "join", "game": "Stub", "token": "t", "players": 1, "name": "",
	})
	require.False(t, resp.IsError(), "join failed: %v", resp)

	// The ended game is reported even with a bad credential.
	resp = fw.Handle(context.Background(), map[string]any{
		"type": "move", "game": "Stub", "token": "t",
		"player_id": 0, "key": "wrong", "move": map[string]any{},
	})
	assert.Equal(t, "framework: game has ended", resp["message"])
}

func TestObserve(t *testing.T) {
	fw := newTestFramework()
	a, _ := joinPair(t, fw, "t1")
	ctx := context.Background()

	resp := fw.Handle(ctx, map[string]any{
		"type": "observe", "game": "TicTacToe", "token": "t1", "name": "a",
	})
	require.False(t, resp.IsError())
	data := resp["data"].(map[string]any)
	assert.Equal(t, a["player_id"], data["player_id"])
	assert.Equal(t, a["key"], data["key"])

	resp = fw.Handle(ctx, map[string]any{
		"type": "observe", "game": "TicTacToe", "token": "t1", "name": "nobody",
	})
	assert.Equal(t, "framework: no such player", resp["message"])

	resp = fw.Handle(ctx, map[string]any{
		"type": "observe", "game": "TicTacToe", "token": "t1", "name": "",
	})
	assert.Equal(t, "framework: no such player", resp["message"])
}

func TestObserveBeforeStart(t *testing.T) {
	fw := newTestFramework()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fw.Handle(context.Background(), map[string]any{
			"type": "join", "game": "TicTacToe", "token": "t", "players": 2, "name": "a",
		})
	}()

	require.Eventually(t, func() bool { return fw.SessionCount() == 1 },
		time.Second, 5*time.Millisecond)

	resp := fw.Handle(context.Background(), map[string]any{
		"type": "observe", "game": "TicTacToe", "token": "t", "name": "a",
	})
	assert.Equal(t, "framework: game has not yet started", resp["message"])

	// Fill the session so the waiter resolves.
	fw.Handle(context.Background(), map[string]any{
		"type": "join", "game": "TicTacToe", "token": "t", "name": "b",
	})
	wg.Wait()
}

func TestRestartOnlyStarter(t *testing.T) {
	fw := newTestFramework()
	a, b := joinPair(t, fw, "t1")
	ctx := context.Background()

	starter, nonStarter := a, b
	if a["player_id"].(int) != 0 {
		starter, nonStarter = b, a
	}

	resp := fw.Handle(ctx, map[string]any{
		"type": "restart", "game": "TicTacToe", "token": "t1",
		"player_id": nonStarter["player_id"], "key": nonStarter["key"],
	})
	assert.Equal(t, "framework: game can only be restarted by starter", resp["message"])

	// The starter check is reported even with a bad credential, while the
	// starter with a bad credential is turned away on the key.
	resp = fw.Handle(ctx, map[string]any{
		"type": "restart", "game": "TicTacToe", "token": "t1",
		"player_id": nonStarter["player_id"], "key": "wrong",
	})
	assert.Equal(t, "framework: game can only be restarted by starter", resp["message"])
	resp = fw.Handle(ctx, map[string]any{
		"type": "restart", "game": "TicTacToe", "token": "t1",
		"player_id": starter["player_id"], "key": "wrong",
	})
	assert.Equal(t, "framework: invalid key", resp["message"])
	resp = fw.Handle(ctx, map[string]any{
		"type": "restart", "game": "TicTacToe", "token": "t1",
		"player_id": starter["player_id"], "key": starter["key"],
	})
	require.False(t, resp.IsError())
	assert.Nil(t, resp["data"])
}

func TestReap(t *testing.T) {
	fw := newTestFramework()
	joinPair(t, fw, "t1")
	require.Equal(t, 1, fw.SessionCount())

	// Not idle yet.
	fw.reap(time.Now())
	assert.Equal(t, 1, fw.SessionCount())

	fw.reap(time.Now().Add(2 * time.Second))
	assert.Equal(t, 0, fw.SessionCount())

	resp := fw.Handle(context.Background(), map[string]any{
		"type": "state", "game": "TicTacToe", "token": "t1",
		"player_id": 0, "key": "xxxxx", "observer": false,
	})
	assert.Equal(t, "framework: no such game session", resp["message"])
}

func TestRunReaperStopsOnCancel(t *testing.T) {
	fw := newTestFramework()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, fw.RunReaper(ctx))
}

func TestHandlePanicRecovery(t *testing.T) {
	panicky := game.Class{
		Name: "Panicky", Min: 1, Max: 1,
		New: func(players int) game.Game { panic("boom") },
	}
	fw := newTestFramework(panicky)

	resp := fw.Handle(context.Background(), map[string]any{
		"type": "join", "game": "Panicky", "token": "t", "players": 1, "name": "",
	})
	assert.Equal(t, "framework: internal error", resp["message"])
}
