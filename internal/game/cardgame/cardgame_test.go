package cardgame_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/roomrelay/internal/game"
	"github.com/cory-johannsen/roomrelay/internal/game/cardgame"
	"github.com/cory-johannsen/roomrelay/internal/game/dice"
)

var players = []string{"42", "43"}

func apply(t *testing.T, h *cardgame.Handler, state json.RawMessage, actor, action, data string) (json.RawMessage, error) {
	t.Helper()
	var raw json.RawMessage
	if data != "" {
		raw = json.RawMessage(data)
	}
	return h.Apply(game.Context{Actor: actor, Members: players}, state, action, raw)
}

func decode(t *testing.T, raw json.RawMessage) cardgame.State {
	t.Helper()
	var st cardgame.State
	require.NoError(t, json.Unmarshal(raw, &st))
	return st
}

func started(t *testing.T) (*cardgame.Handler, json.RawMessage) {
	t.Helper()
	h := cardgame.New(dice.NewSequenceSource(3, 1, 4, 1, 5, 9, 2, 6))
	raw, err := apply(t, h, nil, "42", cardgame.ActionStart, "")
	require.NoError(t, err)
	return h, raw
}

func TestNewDeck(t *testing.T) {
	deck := cardgame.NewDeck()
	require.Len(t, deck, 52)
	seen := map[int]bool{}
	for i, c := range deck {
		assert.Equal(t, i, c.ID)
		seen[c.ID] = true
	}
	assert.Len(t, seen, 52)
	assert.Equal(t, cardgame.Card{ID: 0, Suit: "hearts", Rank: "ace"}, deck[0])
	assert.Equal(t, cardgame.Card{ID: 51, Suit: "spades", Rank: "king"}, deck[51])
}

func TestKind(t *testing.T) {
	k := cardgame.Kind(dice.NewCryptoSource())
	assert.Equal(t, "card_game", k.Name)
	assert.Equal(t, cardgame.DefaultCapacity, k.Capacity)
	assert.NotNil(t, k.Handler)
}

func TestStartGame_Deals(t *testing.T) {
	_, raw := started(t)
	st := decode(t, raw)

	assert.Equal(t, cardgame.PhasePlaying, st.GamePhase)
	assert.Equal(t, "42", st.CurrentPlayer)
	assert.Len(t, st.PlayerHands["42"], cardgame.HandSize)
	assert.Len(t, st.PlayerHands["43"], cardgame.HandSize)
	assert.Len(t, st.Deck, 52-2*cardgame.HandSize)
	assert.Empty(t, st.TableCards)
}

func TestStartGame_NeedsTwoPlayers(t *testing.T) {
	h := cardgame.New(dice.NewCryptoSource())
	_, err := h.Apply(game.Context{Actor: "42", Members: []string{"42"}}, nil, cardgame.ActionStart, nil)
	assert.ErrorIs(t, err, game.ErrRejected)
}

func TestStartGame_WhilePlaying(t *testing.T) {
	h, raw := started(t)
	_, err := apply(t, h, raw, "43", cardgame.ActionStart, "")
	assert.ErrorIs(t, err, game.ErrRejected)
	assert.Equal(t, "game already in progress", game.Reason(err))
}

func TestPlayCard_TurnAndHandChecks(t *testing.T) {
	h, raw := started(t)
	st := decode(t, raw)
	card := st.PlayerHands["42"][0]
	other := st.PlayerHands["43"][0]

	_, err := apply(t, h, raw, "43", cardgame.ActionPlay, `{"card_id":`+itoa(other.ID)+`}`)
	assert.Equal(t, "not your turn", game.Reason(err))

	_, err = apply(t, h, raw, "42", cardgame.ActionPlay, `{"card_id":`+itoa(other.ID)+`}`)
	assert.ErrorIs(t, err, game.ErrRejected)

	_, err = apply(t, h, raw, "42", cardgame.ActionPlay, `{}`)
	assert.ErrorIs(t, err, game.ErrRejected)

	next, err := apply(t, h, raw, "42", cardgame.ActionPlay, `{"card_id":`+itoa(card.ID)+`}`)
	require.NoError(t, err)
	after := decode(t, next)
	assert.Equal(t, []cardgame.Card{card}, after.TableCards)
	assert.Len(t, after.PlayerHands["42"], cardgame.HandSize-1)
	assert.Equal(t, "43", after.CurrentPlayer)
}

func TestPlayCard_TurnWraps(t *testing.T) {
	h, raw := started(t)
	for _, actor := range []string{"42", "43"} {
		st := decode(t, raw)
		var err error
		raw, err = apply(t, h, raw, actor, cardgame.ActionPlay, `{"card_id":`+itoa(st.PlayerHands[actor][0].ID)+`}`)
		require.NoError(t, err)
	}
	assert.Equal(t, "42", decode(t, raw).CurrentPlayer)
}

func TestPlayCard_EmptyHandWins(t *testing.T) {
	h, raw := started(t)
	for i := 0; i < cardgame.HandSize; i++ {
		for _, actor := range []string{"42", "43"} {
			st := decode(t, raw)
			if st.GamePhase != cardgame.PhasePlaying {
				break
			}
			var err error
			raw, err = apply(t, h, raw, actor, cardgame.ActionPlay, `{"card_id":`+itoa(st.PlayerHands[actor][0].ID)+`}`)
			require.NoError(t, err)
		}
	}
	st := decode(t, raw)
	assert.Equal(t, cardgame.PhaseFinished, st.GamePhase)
	assert.Equal(t, "42", st.Winner)
	assert.Empty(t, st.CurrentPlayer)
}

func TestPlayCard_SkipsDepartedPlayer(t *testing.T) {
	h := cardgame.New(dice.NewCryptoSource())
	three := []string{"a", "b", "c"}
	raw, err := h.Apply(game.Context{Actor: "a", Members: three}, nil, cardgame.ActionStart, nil)
	require.NoError(t, err)
	card := decode(t, raw).PlayerHands["a"][0]

	raw, err = h.Apply(game.Context{Actor: "a", Members: []string{"a", "c"}}, raw, cardgame.ActionPlay, json.RawMessage(`{"card_id":`+itoa(card.ID)+`}`))
	require.NoError(t, err)
	assert.Equal(t, "c", decode(t, raw).CurrentPlayer)
}

func TestDrawCard(t *testing.T) {
	h, raw := started(t)

	next, err := apply(t, h, raw, "43", cardgame.ActionDraw, "")
	require.NoError(t, err)
	st := decode(t, next)
	assert.Len(t, st.PlayerHands["43"], cardgame.HandSize+1)
	assert.Len(t, st.Deck, 52-2*cardgame.HandSize-1)

	next, err = apply(t, h, next, "42", cardgame.ActionDraw, `{"count":100}`)
	require.NoError(t, err)
	st = decode(t, next)
	assert.Empty(t, st.Deck)

	_, err = apply(t, h, next, "42", cardgame.ActionDraw, "")
	assert.Equal(t, "deck is empty", game.Reason(err))

	_, err = apply(t, h, raw, "42", cardgame.ActionDraw, `{"count":0}`)
	assert.ErrorIs(t, err, game.ErrRejected)
}

func TestDrawCard_NotSeated(t *testing.T) {
	h, raw := started(t)
	_, err := h.Apply(game.Context{Actor: "late", Members: []string{"42", "43", "late"}}, raw, cardgame.ActionDraw, nil)
	assert.ErrorIs(t, err, game.ErrRejected)
}

func TestActionsBeforeStart(t *testing.T) {
	h := cardgame.New(dice.NewCryptoSource())
	for _, action := range []string{cardgame.ActionDraw, cardgame.ActionPlay, cardgame.ActionEnd} {
		_, err := apply(t, h, nil, "42", action, "")
		assert.Equal(t, "no game in progress", game.Reason(err), action)
	}
}

func TestEndGame(t *testing.T) {
	h, raw := started(t)
	next, err := apply(t, h, raw, "43", cardgame.ActionEnd, "")
	require.NoError(t, err)
	assert.Equal(t, cardgame.PhaseFinished, decode(t, next).GamePhase)

	restarted, err := apply(t, h, next, "43", cardgame.ActionStart, "")
	require.NoError(t, err)
	assert.Equal(t, "42", decode(t, restarted).CurrentPlayer)
}

func TestUnknownAction(t *testing.T) {
	h := cardgame.New(dice.NewCryptoSource())
	_, err := apply(t, h, nil, "42", "shuffle_table", "")
	assert.ErrorIs(t, err, game.ErrRejected)
}

func TestCorruptStateIsNotRejection(t *testing.T) {
	h := cardgame.New(dice.NewCryptoSource())
	_, err := apply(t, h, json.RawMessage(`[`), "42", cardgame.ActionStart, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, game.ErrRejected)
}

func TestPropertyStartGame_CardsConserved(t *testing.T) {
	h := cardgame.New(dice.NewCryptoSource())
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(rt, "players")
		members := make([]string, n)
		for i := range members {
			members[i] = itoa(i)
		}
		raw, err := h.Apply(game.Context{Actor: members[0], Members: members}, nil, cardgame.ActionStart, nil)
		if err != nil {
			rt.Fatalf("start: %v", err)
		}
		var st cardgame.State
		if err := json.Unmarshal(raw, &st); err != nil {
			rt.Fatalf("decode: %v", err)
		}

		seen := map[int]bool{}
		count := len(st.Deck)
		for _, c := range st.Deck {
			seen[c.ID] = true
		}
		for _, hand := range st.PlayerHands {
			count += len(hand)
			for _, c := range hand {
				seen[c.ID] = true
			}
		}
		assert.Equal(rt, 52, count)
		assert.Len(rt, seen, 52)
	})
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}
