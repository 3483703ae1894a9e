// Package games lists the available game classes. Every new game must be
// added here to become reachable through the framework.
package games

import (
	"github.com/playtable/gameserver/internal/game"
	"github.com/playtable/gameserver/internal/games/chat"
	"github.com/playtable/gameserver/internal/games/echo"
	"github.com/playtable/gameserver/internal/games/tictactoe"
	"github.com/playtable/gameserver/internal/games/yahtzee"
)

// List returns every registrable game class.
func List() []game.Class {
	return []game.Class{
		tictactoe.Class(),
		yahtzee.Class(),
		chat.Class(),
		echo.Class(),
	}
}
