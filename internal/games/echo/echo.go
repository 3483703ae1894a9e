// Package echo is not really a game, but occasionally useful for debugging
// and testing: an unmodified copy of the data received is sent back. The
// game is over as soon as the message 'quit' is received.
package echo

import "github.com/playtable/gameserver/internal/game"

type Echo struct {
	message  any
	gameover bool
}

// Class returns the registrable game class.
func Class() game.Class {
	return game.Class{Name: "Echo", Min: 1, Max: 1, New: New}
}

func New(players int) game.Game {
	return &Echo{message: ""}
}

func (e *Echo) CurrentPlayer() []int {
	return []int{0}
}

func (e *Echo) GameOver() bool {
	return e.gameover
}

func (e *Echo) State(playerID int) map[string]any {
	return map[string]any{"echo": e.message}
}

func (e *Echo) Move(args map[string]any, playerID int) error {
	msg, ok := args["msg"]
	if !ok {
		return game.Errorf("keyword argument 'msg' missing")
	}
	e.message = msg
	if s, ok := msg.(string); ok && s == "quit" {
		e.gameover = true
	}
	return nil
}
