// Package chat implements a chat room behind the game interface. Every
// participant is always a current player, and the game never ends.
package chat

import (
	"strings"

	"github.com/playtable/gameserver/internal/game"
)

type Chat struct {
	players  int
	names    map[int]string
	messages [][2]string // (name, message) pairs in arrival order
}

// Class returns the registrable game class.
func Class() game.Class {
	return game.Class{Name: "Chat", Min: 1, Max: 100, New: New}
}

func New(players int) game.Game {
	return &Chat{
		players: players,
		names:   make(map[int]string),
	}
}

func (c *Chat) CurrentPlayer() []int {
	ids := make([]int, c.players)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func (c *Chat) GameOver() bool {
	return false
}

func (c *Chat) State(playerID int) map[string]any {
	messages := make([][2]string, len(c.messages))
	copy(messages, c.messages)
	return map[string]any{"messages": messages}
}

// Move accepts 'name' to register a display name and 'message' to post. A
// name must be submitted before the first message.
func (c *Chat) Move(args map[string]any, playerID int) error {
	if raw, ok := args["name"]; ok {
		name, ok := raw.(string)
		if !ok {
			return game.Errorf("type of argument 'name' must be str")
		}
		name = strings.TrimSpace(name)
		if c.nameTaken(name) {
			return game.Errorf("name already in use")
		}
		if name == "" {
			return game.Errorf("name must not be an empty string")
		}
		c.names[playerID] = name
	}

	if raw, ok := args["message"]; ok {
		message, ok := raw.(string)
		if !ok {
			return game.Errorf("type of argument 'message' must be str")
		}
		name, named := c.names[playerID]
		if !named {
			return game.Errorf("you must submit your name first")
		}
		message = strings.TrimSpace(message)
		if message == "" {
			return nil
		}
		c.messages = append(c.messages, [2]string{name, message})
	}

	return nil
}

func (c *Chat) nameTaken(name string) bool {
	for _, taken := range c.names {
		if taken == name {
			return true
		}
	}
	return false
}
