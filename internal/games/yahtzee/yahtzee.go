// Package yahtzee implements a Yahtzee game for one to eight players.
//
// The game has two phases. In the name phase every player submits a display
// name; only then does play begin, with a randomly chosen starter. During
// play the current player may roll (a selection of) the dice up to three
// times per turn and then assign or cross out a scorecard category. When all
// scorecards are full, the game ends and a ranking is reported.
package yahtzee

import (
	mathrand "math/rand/v2"
	"slices"
	"strings"

	"github.com/playtable/gameserver/internal/game"
)

var upperSection = []string{"Ones", "Twos", "Threes", "Fours", "Fives", "Sixes"}

var lowerSection = []string{
	"Chance", "Three of a Kind", "Four of a Kind",
	"Full House", "Small Straight", "Large Straight", "Yahtzee",
}

type scorecard struct {
	playerName string
	categories map[string]*int // category -> points, nil while unused
}

func newScorecard() *scorecard {
	categories := make(map[string]*int, len(upperSection)+len(lowerSection))
	for _, cat := range upperSection {
		categories[cat] = nil
	}
	for _, cat := range lowerSection {
		categories[cat] = nil
	}
	return &scorecard{categories: categories}
}

func (sc *scorecard) full() bool {
	for _, points := range sc.categories {
		if points == nil {
			return false
		}
	}
	return true
}

func (sc *scorecard) totalPoints() int {
	total := 0
	for _, points := range sc.categories {
		total += *points
	}

	upperSum := 0
	for _, cat := range upperSection {
		upperSum += *sc.categories[cat]
	}
	if upperSum >= 63 {
		total += 35
	}

	return total
}

type Yahtzee struct {
	players    int
	gameover   bool
	naming     bool
	waiting    []int // ids that have not yet submitted a name
	turn       int
	scorecards []*scorecard
	dice       []int
	diceRolls  int
	ranking    map[string]int
}

// Class returns the registrable game class.
func Class() game.Class {
	return game.Class{Name: "Yahtzee", Min: 1, Max: 8, New: New}
}

func New(players int) game.Game {
	y := &Yahtzee{
		players:    players,
		naming:     true,
		waiting:    make([]int, players),
		scorecards: make([]*scorecard, players),
		dice:       []int{-1, -1, -1, -1, -1},
		ranking:    make(map[string]int),
	}
	for id := range players {
		y.waiting[id] = id
		y.scorecards[id] = newScorecard()
	}
	y.rollSelection(nil)
	return y
}

func (y *Yahtzee) CurrentPlayer() []int {
	if y.gameover {
		return []int{}
	}
	if y.naming {
		return slices.Clone(y.waiting)
	}
	return []int{y.turn}
}

func (y *Yahtzee) GameOver() bool {
	return y.gameover
}

// State content depends on the phase: the scorecard is always included,
// dice and the current player's name only during play, the ranking once the
// game has ended. The presence of 'current_name' tells clients that moves
// can be performed.
func (y *Yahtzee) State(playerID int) map[string]any {
	categories := make(map[string]*int, len(y.scorecards[playerID].categories))
	for cat, points := range y.scorecards[playerID].categories {
		categories[cat] = points
	}
	state := map[string]any{"scorecard": categories}

	if !y.naming && !y.gameover {
		if name := y.scorecards[y.turn].playerName; name != "" {
			state["current_name"] = name
		}
	}

	if y.gameover {
		ranking := make(map[string]int, len(y.ranking))
		for name, points := range y.ranking {
			ranking[name] = points
		}
		state["ranking"] = ranking
	} else {
		state["dice"] = slices.Clone(y.dice)
	}

	return state
}

// Move options: 'name' during the name phase, then 'roll_dice' with a list
// of up to five dice (0..4) to reroll, or 'score' ("add points"/"cross
// out") together with 'category'.
func (y *Yahtzee) Move(args map[string]any, playerID int) error {
	if raw, ok := args["roll_dice"]; ok {
		return y.rollRequested(raw)
	}
	if raw, ok := args["score"]; ok {
		category, ok := stringArg(args, "category")
		if !ok {
			return game.Errorf("a category must be passed")
		}
		score, _ := raw.(string)
		switch score {
		case "add points":
			return y.addPoints(category)
		case "cross out":
			return y.crossOut(category)
		default:
			return game.Errorf("no such score operation")
		}
	}
	if raw, ok := args["name"]; ok {
		name, ok := raw.(string)
		if !ok {
			return game.Errorf("type of argument 'name' must be str")
		}
		return y.setName(strings.TrimSpace(name), playerID)
	}
	return game.Errorf("no such move")
}

func (y *Yahtzee) rollRequested(raw any) error {
	list, ok := raw.([]any)
	if !ok {
		if ints, isInts := raw.([]int); isInts { // direct in-process use
			return y.rollSelection(ints)
		}
		return game.Errorf("invalid selection of dice")
	}
	selection := make([]int, 0, len(list))
	for _, el := range list {
		f, ok := el.(float64)
		if !ok || f != float64(int(f)) {
			return game.Errorf("invalid selection of dice")
		}
		selection = append(selection, int(f))
	}
	return y.rollSelection(selection)
}

// rollSelection rolls the listed dice; nil means all five. The initial roll
// of a turn is performed by the game itself and counts as the first of the
// three allowed rolls.
func (y *Yahtzee) rollSelection(dice []int) error {
	if y.diceRolls >= 3 {
		return game.Errorf("dice were rolled three times already")
	}
	if dice != nil && len(dice) == 0 {
		return game.Errorf("no selection of dice entered")
	}
	if dice == nil {
		dice = []int{0, 1, 2, 3, 4}
	}

	for _, d := range dice {
		if d < 0 || d > 4 {
			return game.Errorf("invalid selection of dice")
		}
	}

	for _, d := range dice {
		y.dice[d] = mathrand.IntN(6) + 1
	}

	y.diceRolls++

	return nil
}

// addPoints evaluates the current dice against the category's rules and
// assigns the resulting points to the current player's scorecard.
func (y *Yahtzee) addPoints(category string) error {
	var points int

	switch {
	case slices.Contains(upperSection, category):
		faceValue := slices.Index(upperSection, category) + 1
		count := 0
		for _, d := range y.dice {
			if d == faceValue {
				count++
			}
		}
		if count == 0 {
			return game.Errorf("there are no %ds", faceValue)
		}
		points = count * faceValue

	case category == "Chance":
		points = y.diceSum()

	case category == "Three of a Kind":
		if !y.hasOfAKind(3) {
			return game.Errorf("no three of a kind")
		}
		points = y.diceSum()

	case category == "Four of a Kind":
		if !y.hasOfAKind(4) {
			return game.Errorf("no four of a kind")
		}
		points = y.diceSum()

	case category == "Full House":
		counts := y.faceCounts()
		if !slices.Contains(counts, 2) || !slices.Contains(counts, 3) {
			return game.Errorf("no full house")
		}
		points = 25

	case category == "Small Straight":
		if !(y.hasFaces(3, 4) &&
			(y.hasFaces(1, 2) || y.hasFaces(2, 5) || y.hasFaces(5, 6))) {
			return game.Errorf("no small straight")
		}
		points = 30

	case category == "Large Straight":
		if !(y.hasFaces(2, 3, 4, 5) && (y.hasFaces(1) || y.hasFaces(6))) {
			return game.Errorf("no large straight")
		}
		points = 40

	case category == "Yahtzee":
		first := y.dice[0]
		for _, d := range y.dice {
			if d != first {
				return game.Errorf("no yahtzee")
			}
		}
		points = 50

	default:
		return game.Errorf("no such category")
	}

	return y.updateScorecard(category, points)
}

// crossOut voids a category by assigning zero points to it.
func (y *Yahtzee) crossOut(category string) error {
	return y.updateScorecard(category, 0)
}

func (y *Yahtzee) updateScorecard(category string, points int) error {
	categories := y.scorecards[y.turn].categories

	current, known := categories[category]
	if !known {
		return game.Errorf("no such category")
	}

	if category == "Yahtzee" && current != nil && *current == 50 {
		points = 150 // +100 yahtzee bonus
	} else if current != nil {
		return game.Errorf("category was already used")
	}

	categories[category] = &points
	y.checkGameOver()

	if y.gameover {
		y.buildRanking()
	} else {
		y.rotatePlayers()
	}

	return nil
}

func (y *Yahtzee) setName(name string, playerID int) error {
	if name == "" {
		return game.Errorf("name must not be empty")
	}
	if y.scorecards[playerID].playerName != "" {
		return game.Errorf("you cannot change your name")
	}
	for _, sc := range y.scorecards {
		if sc.playerName == name {
			return game.Errorf("name already in use")
		}
	}

	y.scorecards[playerID].playerName = name
	y.waiting = slices.DeleteFunc(y.waiting, func(id int) bool { return id == playerID })

	if len(y.waiting) == 0 {
		y.naming = false
		y.turn = mathrand.IntN(y.players)
	}

	return nil
}

func (y *Yahtzee) rotatePlayers() {
	y.diceRolls = 0
	y.rollSelection(nil)
	y.turn = (y.turn + 1) % y.players
}

// checkGameOver ends the game as soon as every category on every scorecard
// is filled.
func (y *Yahtzee) checkGameOver() {
	for _, sc := range y.scorecards {
		if !sc.full() {
			return
		}
	}
	y.gameover = true
}

func (y *Yahtzee) buildRanking() {
	for _, sc := range y.scorecards {
		y.ranking[sc.playerName] = sc.totalPoints()
	}
}

func (y *Yahtzee) diceSum() int {
	sum := 0
	for _, d := range y.dice {
		sum += d
	}
	return sum
}

// faceCounts returns how often each face 1..6 appears; index 0 is unused.
func (y *Yahtzee) faceCounts() []int {
	counts := make([]int, 7)
	for _, d := range y.dice {
		counts[d]++
	}
	return counts
}

func (y *Yahtzee) hasOfAKind(n int) bool {
	for _, c := range y.faceCounts() {
		if c >= n {
			return true
		}
	}
	return false
}

func (y *Yahtzee) hasFaces(faces ...int) bool {
	for _, face := range faces {
		if !slices.Contains(y.dice, face) {
			return false
		}
	}
	return true
}

func stringArg(args map[string]any, key string) (string, bool) {
	raw, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}
