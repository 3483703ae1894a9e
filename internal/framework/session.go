package framework

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/playtable/gameserver/internal/game"
)

// Session-level errors. The framework maps these onto wire error messages.
var (
	ErrSessionFull    = errors.New("game is already full")
	ErrNameInUse      = errors.New("name already in use")
	ErrGameEnded      = errors.New("game has ended")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrOverwritten    = errors.New("session overwritten")
	ErrJoinTimeout    = errors.New("timeout while waiting for others to join")
	ErrSessionExpired = errors.New("game session timed out")
	ErrNoSuchPlayer   = errors.New("no such player")
)

const keyLength = 5

const keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Session coordinates one game instance and its participants. It is
// identified by the (game name, token) pair in the framework's registry.
//
// All mutable state is guarded by mu except the previous-game snapshots:
// inPreviousGame maps each owed effective id to an immutable snapshot, so
// the one-shot check-and-remove happens atomically without the session
// lock.
type Session struct {
	class    game.Class
	nPlayers int
	timeout  time.Duration

	mu          sync.Mutex
	changed     chan struct{} // closed and replaced on every mutation (broadcast)
	game        game.Game
	nextID      int
	playerIDs   map[string]int // name -> id, only for clients that supplied a name
	keys        map[int]string // id -> admission credential
	lastAccess  time.Time
	noDelay     map[int]struct{} // effective ids that skip the next state-change wait
	timedOut    bool
	overwritten bool

	inPreviousGame sync.Map // effective id -> *snapshot, drained one-shot
}

// NewSession creates a session with a fresh game instance. Every effective
// id is seeded into the no-delay set so a first read before any move does
// not block.
func NewSession(class game.Class, players int, timeout time.Duration) *Session {
	s := &Session{
		class:      class,
		nPlayers:   players,
		timeout:    timeout,
		changed:    make(chan struct{}),
		game:       class.New(players),
		playerIDs:  make(map[string]int),
		keys:       make(map[int]string),
		lastAccess: time.Now(),
		noDelay:    make(map[int]struct{}),
	}
	s.seedNoDelayLocked()
	return s
}

// NextID admits a client: it allocates the next player id, registers the
// name if one was supplied, and issues a fresh admission key.
func (s *Session) NextID(name string) (int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fullLocked() {
		return 0, "", ErrSessionFull
	}
	if name != "" {
		if _, taken := s.playerIDs[name]; taken {
			return 0, "", ErrNameInUse
		}
	}

	key, err := newKey()
	if err != nil {
		return 0, "", err
	}

	id := s.nextID
	s.nextID++
	if name != "" {
		s.playerIDs[name] = id
	}
	s.keys[id] = key
	s.lastAccess = time.Now()
	s.notifyLocked()

	return id, key, nil
}

// AwaitStart blocks until the session is full, overwritten, or idle past
// the game timeout. The deadline is taken from lastAccess, so every new
// joiner extends the wait.
func (s *Session) AwaitStart(ctx context.Context) error {
	s.mu.Lock()
	for {
		switch {
		case s.overwritten:
			s.mu.Unlock()
			return ErrOverwritten
		case s.timedOut:
			s.mu.Unlock()
			return ErrJoinTimeout
		case s.fullLocked():
			s.mu.Unlock()
			return nil
		}

		deadline := s.lastAccess.Add(s.timeout)
		ch := s.changed
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return ErrJoinTimeout
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		s.mu.Lock()
	}
}

// GameMove applies a player's move. The turn check happens under the
// session lock, at the same instant the move is applied.
func (s *Session) GameMove(move map[string]any, playerID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.overwritten {
		return ErrOverwritten
	}
	if s.game.GameOver() {
		return ErrGameEnded
	}
	if !slices.Contains(s.game.CurrentPlayer(), playerID) {
		return ErrNotYourTurn
	}

	err := s.game.Move(move, playerID)

	s.lastAccess = time.Now()
	if s.game.GameOver() {
		// Everyone, observers included, must see the terminal state.
		s.seedNoDelayLocked()
	} else {
		s.noDelay[playerID] = struct{}{}
	}
	s.notifyLocked()

	return err
}

// GameState returns the state visible to playerID, blocking for at most one
// state change. The wait is skipped when it is the client's turn, when a
// previous-game snapshot is owed, or when an unobserved event is pending in
// the no-delay set; any broadcast releases it, so every reader sees a state
// at-or-after each mutation.
func (s *Session) GameState(ctx context.Context, playerID int, observer bool) (map[string]any, error) {
	eid := s.effectiveID(playerID, observer)

	// The snapshot path never takes the session lock: a concurrent mover
	// must not wait on readers draining their one-shot pre-restart view.
	if snap, owed := s.inPreviousGame.LoadAndDelete(eid); owed {
		return snap.(*snapshot).state(playerID), nil
	}

	s.mu.Lock()
	if s.overwritten {
		s.mu.Unlock()
		return nil, ErrOverwritten
	}
	if s.timedOut {
		s.mu.Unlock()
		return nil, ErrSessionExpired
	}

	if !s.readableLocked(eid) {
		deadline := s.lastAccess.Add(s.timeout)
		ch := s.changed
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return nil, ErrSessionExpired
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}

		// The waking mutation may have been a restart.
		if snap, owed := s.inPreviousGame.LoadAndDelete(eid); owed {
			return snap.(*snapshot).state(playerID), nil
		}

		s.mu.Lock()
		if s.overwritten {
			s.mu.Unlock()
			return nil, ErrOverwritten
		}
		if s.timedOut {
			s.mu.Unlock()
			return nil, ErrSessionExpired
		}
	}

	s.lastAccess = time.Now()
	delete(s.noDelay, eid)
	state := assemble(s.game, playerID)
	s.mu.Unlock()

	return state, nil
}

// Restart replaces the game instance. When the old game had ended, its
// terminal state is snapshotted and owed exactly once to every effective id
// except the starter, who already knows the outcome.
func (s *Session) Restart(starterID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.overwritten {
		return ErrOverwritten
	}

	if s.game.GameOver() {
		snap, err := snapshotGame(s.game, s.nPlayers)
		if err != nil {
			return fmt.Errorf("snapshotting game: %w", err)
		}
		for eid := range 2 * s.nPlayers {
			if eid == starterID {
				continue
			}
			s.inPreviousGame.Store(eid, snap)
		}
	}

	s.game = s.class.New(s.nPlayers)
	s.seedNoDelayLocked()
	s.lastAccess = time.Now()
	s.notifyLocked()

	return nil
}

// GameEnded reports whether the current game instance has finished.
func (s *Session) GameEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.GameOver()
}

// KeyValid reports whether k is the admission key issued to playerID.
func (s *Session) KeyValid(playerID int, k string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[playerID]
	return ok && key == k
}

// PlayerID resolves a registered player name to its id and key, for
// observers joining via name.
func (s *Session) PlayerID(name string) (int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.playerIDs[name]
	if !ok {
		return 0, "", ErrNoSuchPlayer
	}
	return id, s.keys[id], nil
}

// Full reports whether all expected players have joined.
func (s *Session) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullLocked()
}

// Expired reports whether the session has been idle past the game timeout.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess.Add(s.timeout).Before(now)
}

// Expire marks the session as timed out and wakes all waiters.
func (s *Session) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timedOut = true
	s.notifyLocked()
}

// Overwrite marks the session as replaced and wakes all waiters, which will
// observe the flag and report an error to their clients.
func (s *Session) Overwrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overwritten = true
	s.notifyLocked()
}

// Touch updates the last-access timestamp. Used by tests to control expiry.
func (s *Session) Touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = t
}

func (s *Session) fullLocked() bool {
	return s.nextID == s.nPlayers
}

// effectiveID aliases observers past the player id range so a single
// membership check distinguishes a mover from its observer.
func (s *Session) effectiveID(playerID int, observer bool) int {
	if observer {
		return playerID + s.nPlayers
	}
	return playerID
}

// readableLocked reports whether eid may skip the state-change wait.
func (s *Session) readableLocked(eid int) bool {
	if slices.Contains(s.game.CurrentPlayer(), eid) {
		return true
	}
	_, pending := s.noDelay[eid]
	return pending
}

// seedNoDelayLocked marks every effective id, players and observers alike,
// as having an unobserved event pending.
func (s *Session) seedNoDelayLocked() {
	for eid := range 2 * s.nPlayers {
		s.noDelay[eid] = struct{}{}
	}
}

// notifyLocked broadcasts a state change by closing the current channel and
// installing a fresh one. Readers snapshot the channel under the lock, so a
// notification issued after a mutation reaches every reader that started
// waiting before it.
func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// newKey draws a 5-character alphanumeric admission key.
func newKey() (string, error) {
	raw := make([]byte, keyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	key := make([]byte, keyLength)
	for i, b := range raw {
		key[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}
	return string(key), nil
}

// snapshot is a value copy of a game's observable state, taken at restart
// time. The per-player maps are fully assembled up front and never mutated
// afterwards, so the snapshot can be read without locking.
type snapshot struct {
	states []map[string]any
}

func snapshotGame(g game.Game, players int) (*snapshot, error) {
	snap := &snapshot{states: make([]map[string]any, players)}
	for id := range players {
		st, err := deepCopy(assemble(g, id))
		if err != nil {
			return nil, err
		}
		snap.states[id] = st
	}
	return snap, nil
}

// state returns the snapshotted view for one player. Observers share the
// observed player's view.
func (sn *snapshot) state(playerID int) map[string]any {
	return sn.states[playerID]
}

// assemble augments a player's game state with the current-player list and
// the game-over flag, as every state response carries both.
func assemble(g game.Game, playerID int) map[string]any {
	state := g.State(playerID)
	if state == nil {
		state = make(map[string]any)
	}
	state["current"] = g.CurrentPlayer()
	state["gameover"] = g.GameOver()
	return state
}

// deepCopy detaches a state map from the live game through a JSON
// round-trip, so later game mutations cannot leak into the snapshot.
func deepCopy(m map[string]any) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("copying state: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("copying state: %w", err)
	}
	return out, nil
}
