// Package tictactoe implements a two-player tic-tac-toe game.
package tictactoe

import (
	"math"
	mathrand "math/rand/v2"

	"github.com/playtable/gameserver/internal/game"
)

var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// TicTacToe holds the board as a 9-cell slice: -1 for empty cells, 0 or 1
// for player marks. The first player is chosen at random.
type TicTacToe struct {
	board    []int
	current  int
	gameover bool
	winner   any // player id, or nil while there is no winner
}

// Class returns the registrable game class.
func Class() game.Class {
	return game.Class{Name: "TicTacToe", Min: 2, Max: 2, New: New}
}

// New creates a fresh game. The player count is fixed at two.
func New(players int) game.Game {
	return &TicTacToe{
		board:   []int{-1, -1, -1, -1, -1, -1, -1, -1, -1},
		current: mathrand.IntN(2),
	}
}

func (t *TicTacToe) CurrentPlayer() []int {
	return []int{t.current}
}

func (t *TicTacToe) GameOver() bool {
	return t.gameover
}

// State returns {board, winner}; winner is null until somebody wins.
func (t *TicTacToe) State(playerID int) map[string]any {
	board := make([]int, len(t.board))
	copy(board, t.board)
	return map[string]any{"board": board, "winner": t.winner}
}

// Move expects key 'position' with a board position (0-8).
func (t *TicTacToe) Move(args map[string]any, playerID int) error {
	pos, err := position(args)
	if err != nil {
		return err
	}
	if pos < 0 || pos > 8 {
		return game.Errorf("invalid position")
	}
	if t.board[pos] != -1 {
		return game.Errorf("position already occupied")
	}

	t.board[pos] = t.current
	t.checkWin()
	t.checkBoardFull()
	t.current ^= 1 // rotate players

	return nil
}

func position(args map[string]any) (int, error) {
	raw, ok := args["position"]
	if !ok {
		return 0, game.Errorf("keyword argument 'position' of type int missing")
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, game.Errorf("type of argument 'position' must be int")
		}
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, game.Errorf("type of argument 'position' must be int")
	}
}

func (t *TicTacToe) checkWin() {
	for _, line := range winLines {
		i, j, k := line[0], line[1], line[2]
		if t.board[i] == t.current && t.board[j] == t.current && t.board[k] == t.current {
			t.winner = t.current
			t.gameover = true
			return
		}
	}
}

func (t *TicTacToe) checkBoardFull() {
	for _, cell := range t.board {
		if cell == -1 {
			return
		}
	}
	t.gameover = true
}
