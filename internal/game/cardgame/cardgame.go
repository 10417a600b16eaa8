// Package cardgame is the built-in card_game kind: a 52-card deck, five-card
// hands, and turn-ordered play onto a shared table.
package cardgame

import (
	"encoding/json"
	"fmt"

	"github.com/cory-johannsen/roomrelay/internal/game"
	"github.com/cory-johannsen/roomrelay/internal/game/dice"
)

// KindName is the game_type clients use for this handler.
const KindName = "card_game"

// DefaultCapacity is the room size used when create_room names no max_players.
const DefaultCapacity = 4

// HandSize is the number of cards dealt to each player by start_game.
const HandSize = 5

const minPlayers = 2

// Actions understood by the handler.
const (
	ActionStart = "start_game"
	ActionDraw  = "draw_card"
	ActionPlay  = "play_card"
	ActionEnd   = "end_game"
)

// Phase is the game's lifecycle stage.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished"
)

var (
	suits = []string{"hearts", "diamonds", "clubs", "spades"}
	ranks = []string{"ace", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten", "jack", "queen", "king"}
)

// Card is one playing card. IDs run 0-51 in suit-major order.
type Card struct {
	ID   int    `json:"id"`
	Suit string `json:"suit"`
	Rank string `json:"rank"`
}

// State is the game state stored in the room.
type State struct {
	Deck          []Card            `json:"deck"`
	PlayerHands   map[string][]Card `json:"player_hands"`
	TableCards    []Card            `json:"table_cards"`
	CurrentPlayer string            `json:"current_player,omitempty"`
	GamePhase     Phase             `json:"game_phase"`
	Winner        string            `json:"winner,omitempty"`
}

// NewDeck returns an ordered 52-card deck.
func NewDeck() []Card {
	deck := make([]Card, 0, len(suits)*len(ranks))
	for _, s := range suits {
		for _, r := range ranks {
			deck = append(deck, Card{ID: len(deck), Suit: s, Rank: r})
		}
	}
	return deck
}

// Handler implements game.Handler for card_game.
type Handler struct {
	src dice.Source
}

// New creates a card game Handler drawing shuffles from src.
//
// Precondition: src must be non-nil.
func New(src dice.Source) *Handler {
	return &Handler{src: src}
}

// Kind returns the registry entry for this handler.
func Kind(src dice.Source) game.Kind {
	return game.Kind{Name: KindName, Capacity: DefaultCapacity, Handler: New(src)}
}

type drawData struct {
	Count *int `json:"count"`
}

type playData struct {
	CardID *int `json:"card_id"`
}

// Apply implements game.Handler.
func (h *Handler) Apply(ctx game.Context, raw json.RawMessage, action string, data json.RawMessage) (json.RawMessage, error) {
	st := State{GamePhase: PhaseWaiting, PlayerHands: map[string][]Card{}}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("decoding card game state: %w", err)
		}
		if st.PlayerHands == nil {
			st.PlayerHands = map[string][]Card{}
		}
	}

	var err error
	switch action {
	case ActionStart:
		err = h.start(ctx, &st)
	case ActionDraw:
		err = h.draw(ctx, &st, data)
	case ActionPlay:
		err = h.play(ctx, &st, data)
	case ActionEnd:
		err = h.end(ctx, &st)
	default:
		err = game.Reject("unknown action %q", action)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(st)
}

func (h *Handler) start(ctx game.Context, st *State) error {
	if st.GamePhase == PhasePlaying {
		return game.Reject("game already in progress")
	}
	if len(ctx.Members) < minPlayers {
		return game.Reject("need at least %d players", minPlayers)
	}

	deck := NewDeck()
	dice.Shuffle(h.src, len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

	*st = State{
		Deck:          deck,
		PlayerHands:   make(map[string][]Card, len(ctx.Members)),
		TableCards:    []Card{},
		CurrentPlayer: ctx.Members[0],
		GamePhase:     PhasePlaying,
	}
	for _, id := range ctx.Members {
		st.PlayerHands[id] = st.deal(HandSize)
	}
	return nil
}

// deal removes up to n cards from the top of the deck.
func (st *State) deal(n int) []Card {
	if n > len(st.Deck) {
		n = len(st.Deck)
	}
	cards := append([]Card(nil), st.Deck[:n]...)
	st.Deck = st.Deck[n:]
	return cards
}

func (h *Handler) draw(ctx game.Context, st *State, data json.RawMessage) error {
	if st.GamePhase != PhasePlaying {
		return game.Reject("no game in progress")
	}
	if _, seated := st.PlayerHands[ctx.Actor]; !seated {
		return game.Reject("not playing in this game")
	}
	count := 1
	if len(data) > 0 {
		var d drawData
		if err := json.Unmarshal(data, &d); err != nil {
			return game.Reject("invalid draw_card data")
		}
		if d.Count != nil {
			count = *d.Count
		}
	}
	if count < 1 {
		return game.Reject("count must be at least 1")
	}
	if len(st.Deck) == 0 {
		return game.Reject("deck is empty")
	}
	st.PlayerHands[ctx.Actor] = append(st.PlayerHands[ctx.Actor], st.deal(count)...)
	return nil
}

func (h *Handler) play(ctx game.Context, st *State, data json.RawMessage) error {
	if st.GamePhase != PhasePlaying {
		return game.Reject("no game in progress")
	}
	if st.CurrentPlayer != ctx.Actor {
		return game.Reject("not your turn")
	}
	var d playData
	if len(data) == 0 || json.Unmarshal(data, &d) != nil || d.CardID == nil {
		return game.Reject("play_card requires card_id")
	}

	hand := st.PlayerHands[ctx.Actor]
	pos := -1
	for i, c := range hand {
		if c.ID == *d.CardID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return game.Reject("card %d not in hand", *d.CardID)
	}

	card := hand[pos]
	st.PlayerHands[ctx.Actor] = append(hand[:pos:pos], hand[pos+1:]...)
	st.TableCards = append(st.TableCards, card)

	if len(st.PlayerHands[ctx.Actor]) == 0 {
		st.GamePhase = PhaseFinished
		st.Winner = ctx.Actor
		st.CurrentPlayer = ""
		return nil
	}
	st.CurrentPlayer = nextPlayer(st, ctx.Members, ctx.Actor)
	return nil
}

// nextPlayer returns the seated member after current in join order, skipping
// members who joined after the deal. Members who left are skipped because
// they are absent from members.
func nextPlayer(st *State, members []string, current string) string {
	var seated []string
	for _, id := range members {
		if _, ok := st.PlayerHands[id]; ok {
			seated = append(seated, id)
		}
	}
	if len(seated) == 0 {
		return ""
	}
	for i, id := range seated {
		if id == current {
			return seated[(i+1)%len(seated)]
		}
	}
	return seated[0]
}

func (h *Handler) end(ctx game.Context, st *State) error {
	if st.GamePhase != PhasePlaying {
		return game.Reject("no game in progress")
	}
	if _, seated := st.PlayerHands[ctx.Actor]; !seated {
		return game.Reject("not playing in this game")
	}
	st.GamePhase = PhaseFinished
	st.CurrentPlayer = ""
	return nil
}
