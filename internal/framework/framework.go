// Package framework implements the session/coordination engine: request
// dispatch, the session registry keyed by (game name, token), player
// admission, the long-poll state protocol, and idle-session reaping.
package framework

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/playtable/gameserver/internal/config"
	"github.com/playtable/gameserver/internal/game"
	"github.com/playtable/gameserver/internal/protocol"
)

type sessionKey struct {
	game  string
	token string
}

// Framework routes client requests to sessions and owns the session
// registry. The registry's own operations are serialized by mu; everything
// inside a session is guarded by the session's lock.
type Framework struct {
	cfg      config.Server
	registry *game.Registry

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

// NewFramework creates a framework serving the given game registry.
func NewFramework(cfg config.Server, registry *game.Registry) *Framework {
	f := &Framework{
		cfg:      cfg,
		registry: registry,
		sessions: make(map[sessionKey]*Session),
	}
	if cfg.Log.FrameworkInfo {
		slog.Info("framework initialized", "games", registry.Names())
	}
	return f
}

// Handle processes one parsed request and returns the response to send.
// Panics anywhere below are caught here and surfaced as a framework
// internal error, with the stack logged server-side.
func (f *Framework) Handle(ctx context.Context, req map[string]any) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("unexpected panic in the framework", "panic", r, "stack", string(debug.Stack()))
			resp = protocol.FrameworkError("internal error")
		}
	}()

	if f.cfg.Log.FrameworkRequest {
		slog.Info("request", "request", req)
	}

	typ, err := strField(req, "type")
	if err != nil {
		return f.logged(protocol.FrameworkError(err.Error()))
	}

	switch typ {
	case "join":
		resp = f.handleJoin(ctx, req)
	case "move":
		resp = f.handleMove(req)
	case "state":
		resp = f.handleState(ctx, req)
	case "observe":
		resp = f.handleObserve(req)
	case "restart":
		resp = f.handleRestart(req)
	default:
		resp = protocol.FrameworkError("invalid request type")
	}

	return f.logged(resp)
}

func (f *Framework) logged(resp protocol.Response) protocol.Response {
	if f.cfg.Log.FrameworkResponse {
		slog.Info("response", "response", resp)
	}
	return resp
}

// handleJoin starts or joins a session. A request carrying 'players'
// creates the session (or replaces a full one); without it, the client can
// only join an existing, non-full session.
func (f *Framework) handleJoin(ctx context.Context, req map[string]any) protocol.Response {
	gameName, err := strField(req, "game")
	if err != nil {
		return protocol.FrameworkError(err.Error())
	}
	token, err := strField(req, "token")
	if err != nil {
		return protocol.FrameworkError(err.Error())
	}
	name, err := strField(req, "name")
	if err != nil {
		return protocol.FrameworkError(err.Error())
	}
	players, playersGiven := 0, false
	if _, present := req["players"]; present {
		if players, err = intField(req, "players"); err != nil {
			return protocol.FrameworkError(err.Error())
		}
		playersGiven = true
	}

	class, ok := f.registry.Lookup(gameName)
	if !ok {
		return protocol.FrameworkError("no such game")
	}

	key := sessionKey{game: gameName, token: token}

	var replaced *Session

	f.mu.Lock()
	sess, exists := f.sessions[key]
	switch {
	case !exists:
		if !playersGiven {
			f.mu.Unlock()
			return protocol.FrameworkError("no such game session")
		}
		if players < class.Min || players > class.Max {
			f.mu.Unlock()
			return protocol.FrameworkError("invalid number of players")
		}
		sess = NewSession(class, players, f.cfg.GameTimeoutDuration())
		f.sessions[key] = sess
	case sess.Full():
		if !playersGiven {
			f.mu.Unlock()
			return protocol.FrameworkError("game is already full")
		}
		if players < class.Min || players > class.Max {
			f.mu.Unlock()
			return protocol.FrameworkError("invalid number of players")
		}
		// Replace the full session. Its blocked readers wake, observe the
		// flag and report the overwrite to their clients.
		replaced = sess
		sess = NewSession(class, players, f.cfg.GameTimeoutDuration())
		f.sessions[key] = sess
	}
	f.mu.Unlock()

	if replaced != nil {
		replaced.Overwrite()
	}

	playerID, playerKey, err := sess.NextID(name)
	switch {
	case errors.Is(err, ErrNameInUse):
		return protocol.FrameworkError("name already in use")
	case errors.Is(err, ErrSessionFull):
		// Lost the race against another joiner filling the session.
		return protocol.FrameworkError("game is already full")
	case err != nil:
		slog.Error("admitting player", "err", err)
		return protocol.FrameworkError("internal error")
	}

	switch err := sess.AwaitStart(ctx); {
	case errors.Is(err, ErrJoinTimeout):
		f.remove(key, sess)
		sess.Expire()
		return protocol.FrameworkError("timeout while waiting for others to join")
	case errors.Is(err, ErrOverwritten):
		return protocol.FrameworkError("session overwritten")
	case err != nil:
		return protocol.FrameworkError("internal error")
	}

	if f.cfg.Log.FrameworkInfo {
		slog.Info("player joined", "game", gameName, "token", token, "player_id", playerID)
	}

	return protocol.OK(map[string]any{
		"player_id":        playerID,
		"key":              playerKey,
		"request_size_max": f.cfg.RequestSizeMax,
	})
}

func (f *Framework) handleMove(req map[string]any) protocol.Response {
	sess, playerID, key, errResp := f.resolve(req)
	if errResp != nil {
		return errResp
	}
	move, err := mapField(req, "move")
	if err != nil {
		return protocol.FrameworkError(err.Error())
	}

	// An ended game outranks a bad credential.
	if sess.GameEnded() {
		return protocol.FrameworkError("game has ended")
	}
	if !sess.KeyValid(playerID, key) {
		return protocol.FrameworkError("invalid key")
	}

	switch err := sess.GameMove(move, playerID); {
	case errors.Is(err, ErrOverwritten):
		return protocol.FrameworkError("session overwritten")
	case errors.Is(err, ErrGameEnded):
		return protocol.FrameworkError("game has ended")
	case errors.Is(err, ErrNotYourTurn):
		return protocol.FrameworkError("not your turn")
	case err != nil:
		var gameErr *game.Error
		if errors.As(err, &gameErr) {
			return protocol.GameError(gameErr.Payload)
		}
		return protocol.GameError(err.Error())
	}

	return protocol.OK(nil)
}

func (f *Framework) handleState(ctx context.Context, req map[string]any) protocol.Response {
	sess, playerID, errResp := f.authenticated(req)
	if errResp != nil {
		return errResp
	}
	observer, err := boolField(req, "observer")
	if err != nil {
		return protocol.FrameworkError(err.Error())
	}

	state, err := sess.GameState(ctx, playerID, observer)
	switch {
	case errors.Is(err, ErrOverwritten):
		return protocol.FrameworkError("session overwritten")
	case errors.Is(err, ErrSessionExpired):
		return protocol.FrameworkError("game session timed out")
	case err != nil:
		return protocol.FrameworkError("internal error")
	}

	return protocol.OK(state)
}

func (f *Framework) handleObserve(req map[string]any) protocol.Response {
	gameName, err := strField(req, "game")
	if err != nil {
		return protocol.FrameworkError(err.Error())
	}
	token, err := strField(req, "token")
	if err != nil {
		return protocol.FrameworkError(err.Error())
	}
	name, err := strField(req, "name")
	if err != nil {
		return protocol.FrameworkError(err.Error())
	}

	sess, errResp := f.session(gameName, token)
	if errResp != nil {
		return errResp
	}
	if !sess.Full() {
		return protocol.FrameworkError("game has not yet started")
	}

	playerID, key, err := sess.PlayerID(name)
	if err != nil {
		return protocol.FrameworkError("no such player")
	}

	return protocol.OK(map[string]any{
		"player_id": playerID,
		"key":       key,
	})
}

func (f *Framework) handleRestart(req map[string]any) protocol.Response {
	sess, playerID, key, errResp := f.resolve(req)
	if errResp != nil {
		return errResp
	}
	// Only the client that started the session may replace the game; this
	// outranks a bad credential.
	if playerID != 0 {
		return protocol.FrameworkError("game can only be restarted by starter")
	}
	if !sess.KeyValid(playerID, key) {
		return protocol.FrameworkError("invalid key")
	}

	switch err := sess.Restart(playerID); {
	case errors.Is(err, ErrOverwritten):
		return protocol.FrameworkError("session overwritten")
	case err != nil:
		slog.Error("restarting game", "err", err)
		return protocol.FrameworkError("internal error")
	}

	return protocol.OK(nil)
}

// resolve validates the common {game, token, player_id, key} request fields
// and looks up the session. The key comes back unverified; each handler
// checks it after its own precondition checks so rejection messages keep
// their precedence.
func (f *Framework) resolve(req map[string]any) (*Session, int, string, protocol.Response) {
	gameName, err := strField(req, "game")
	if err != nil {
		return nil, 0, "", protocol.FrameworkError(err.Error())
	}
	token, err := strField(req, "token")
	if err != nil {
		return nil, 0, "", protocol.FrameworkError(err.Error())
	}
	playerID, err := intField(req, "player_id")
	if err != nil {
		return nil, 0, "", protocol.FrameworkError(err.Error())
	}
	key, err := strField(req, "key")
	if err != nil {
		return nil, 0, "", protocol.FrameworkError(err.Error())
	}

	sess, errResp := f.session(gameName, token)
	if errResp != nil {
		return nil, 0, "", errResp
	}

	return sess, playerID, key, nil
}

// authenticated resolves the common fields and checks the admission key.
func (f *Framework) authenticated(req map[string]any) (*Session, int, protocol.Response) {
	sess, playerID, key, errResp := f.resolve(req)
	if errResp != nil {
		return nil, 0, errResp
	}
	if !sess.KeyValid(playerID, key) {
		return nil, 0, protocol.FrameworkError("invalid key")
	}
	return sess, playerID, nil
}

// session resolves (game name, token) to an active session.
func (f *Framework) session(gameName, token string) (*Session, protocol.Response) {
	if _, ok := f.registry.Lookup(gameName); !ok {
		return nil, protocol.FrameworkError("no such game")
	}

	f.mu.Lock()
	sess, ok := f.sessions[sessionKey{game: gameName, token: token}]
	f.mu.Unlock()
	if !ok {
		return nil, protocol.FrameworkError("no such game session")
	}

	return sess, nil
}

// remove deletes a session from the registry, but only if it is still the
// registered one; a concurrent overwrite may already have replaced it.
func (f *Framework) remove(key sessionKey, sess *Session) {
	f.mu.Lock()
	if f.sessions[key] == sess {
		delete(f.sessions, key)
	}
	f.mu.Unlock()
}

// SessionCount returns the number of active sessions.
func (f *Framework) SessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// RunReaper deletes idle sessions every game timeout until ctx is
// cancelled. Reaped sessions are marked timed out, which wakes any reader
// still blocked on them.
func (f *Framework) RunReaper(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.GameTimeoutDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			f.reap(now)
		}
	}
}

func (f *Framework) reap(now time.Time) {
	var expired []sessionKey
	var victims []*Session

	f.mu.Lock()
	for key, sess := range f.sessions {
		if sess.Expired(now) {
			expired = append(expired, key)
			victims = append(victims, sess)
		}
	}
	for _, key := range expired {
		delete(f.sessions, key)
	}
	f.mu.Unlock()

	for i, sess := range victims {
		sess.Expire()
		if f.cfg.Log.FrameworkInfo {
			slog.Info("deleting session", "game", expired[i].game, "token", expired[i].token)
		}
	}
}
