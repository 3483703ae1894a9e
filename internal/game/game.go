// Package game defines the contract between the session engine and concrete
// game implementations, and the registry the framework instantiates them
// through.
package game

import (
	"fmt"
	"sort"
)

// Game is a single running game instance. The framework serializes all calls
// on a session's game through the session lock, so implementations do not
// need to be thread-safe.
type Game interface {
	// CurrentPlayer returns the IDs of all players allowed to move now.
	// May be empty, and may contain every player (chat-style games).
	CurrentPlayer() []int

	// Move applies a player's move. The framework guarantees that playerID
	// is a current player and that the game is not over; the content of args
	// must be validated by the game. An illegal move is reported as a
	// *game.Error, which travels back to the client verbatim.
	Move(args map[string]any, playerID int) error

	// State returns the game state as seen by one player.
	State(playerID int) map[string]any

	// GameOver reports whether the game has ended.
	GameOver() bool
}

// Class describes a registrable game: its registry name, player count
// bounds, and a constructor.
type Class struct {
	Name string
	Min  int
	Max  int
	New  func(players int) Game
}

// Error is an illegal-move report from a game implementation. Payload may be
// any JSON-encodable value; plain strings get the "game: " source prefix on
// the wire, anything else is delivered to the client unmodified.
type Error struct {
	Payload any
}

func (e *Error) Error() string {
	if s, ok := e.Payload.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", e.Payload)
}

// Errorf builds a *Error with a formatted string payload.
func Errorf(format string, args ...any) *Error {
	return &Error{Payload: fmt.Sprintf(format, args...)}
}

// Registry maps case-sensitive game names to their classes. It is populated
// once at start-up and read-only afterwards, so lookups need no locking.
type Registry struct {
	classes map[string]Class
}

// NewRegistry builds a registry from a fixed list of game classes.
func NewRegistry(classes ...Class) *Registry {
	r := &Registry{classes: make(map[string]Class, len(classes))}
	for _, c := range classes {
		r.classes[c.Name] = c
	}
	return r
}

// Lookup returns the class registered under name.
func (r *Registry) Lookup(name string) (Class, bool) {
	c, ok := r.classes[name]
	return c, ok
}

// Names returns all registered game names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
