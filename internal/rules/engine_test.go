package rules

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func play(t *testing.T, e *Engine, moves ...Move) (Position, Applied) {
	t.Helper()
	pos := e.NewPosition()
	var last Applied
	for i, mv := range moves {
		a, err := e.Apply(pos, mv)
		if err != nil {
			t.Fatalf("move %d %+v: %v", i, mv, err)
		}
		pos, last = a.Position, a
	}
	return pos, last
}

func TestApplyOpeningMove(t *testing.T) {
	e := NewEngine()
	start := e.NewPosition()
	a, err := e.Apply(start, Move{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if a.SAN != "e4" || a.UCI != "e2e4" {
		t.Fatalf("unexpected notation san=%q uci=%q", a.SAN, a.UCI)
	}
	if a.Mover != White || a.Position.Turn() != Black || a.Position.Ply() != 1 {
		t.Fatalf("unexpected side bookkeeping: mover=%s turn=%s ply=%d", a.Mover, a.Position.Turn(), a.Position.Ply())
	}
	if a.Terminal || a.Check {
		t.Fatalf("e4 should not be terminal or check: %+v", a)
	}
	if start.Ply() != 0 || start.Turn() != White {
		t.Fatalf("input position mutated: ply=%d turn=%s", start.Ply(), start.Turn())
	}
	if start.FEN() == a.Position.FEN() {
		t.Fatalf("FEN did not change")
	}
}

func TestApplyRejectsIllegalWithoutMutation(t *testing.T) {
	e := NewEngine()
	pos := e.NewPosition()
	before := pos.FEN()
	for _, mv := range []Move{
		{From: "e2", To: "e5"},
		{From: "e7", To: "e5"}, // black piece on white's turn
		{From: "e3", To: "e4"}, // empty square
	} {
		if _, err := e.Apply(pos, mv); !errors.Is(err, ErrIllegal) {
			t.Fatalf("%+v: want ErrIllegal, got %v", mv, err)
		}
	}
	if pos.FEN() != before {
		t.Fatalf("position mutated by rejected moves")
	}
}

func TestApplyRejectsMalformed(t *testing.T) {
	e := NewEngine()
	pos := e.NewPosition()
	for _, mv := range []Move{
		{From: "z9", To: "e4"},
		{From: "e2", To: ""},
		{From: "e2e", To: "e4"},
		{From: "e2", To: "e4", Promotion: "k"},
	} {
		if _, err := e.Apply(pos, mv); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%+v: want ErrMalformed, got %v", mv, err)
		}
	}
	if _, err := e.Apply(Position{}, Move{From: "e2", To: "e4"}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("zero position: want ErrMalformed, got %v", err)
	}
}

func TestFoolsMateIsCheckmate(t *testing.T) {
	e := NewEngine()
	_, a := play(t, e,
		Move{From: "f2", To: "f3"},
		Move{From: "e7", To: "e5"},
		Move{From: "g2", To: "g4"},
		Move{From: "d8", To: "h4"},
	)
	if !a.Terminal || a.Kind != KindCheckmate || a.Winner != Black {
		t.Fatalf("want black checkmate, got %+v", a)
	}
	if a.SAN != "Qh4#" || !a.Check {
		t.Fatalf("unexpected san %q check=%v", a.SAN, a.Check)
	}
}

func TestPromotion(t *testing.T) {
	e := NewEngine()
	// a-pawn runs through after capturing on b7.
	pos, _ := play(t, e,
		Move{From: "a2", To: "a4"},
		Move{From: "b7", To: "b5"},
		Move{From: "a4", To: "b5"},
		Move{From: "a7", To: "a6"},
		Move{From: "b5", To: "a6"},
		Move{From: "c8", To: "b7"},
		Move{From: "a6", To: "b7"},
		Move{From: "b8", To: "c6"},
	)
	if _, err := e.Apply(pos, Move{From: "b7", To: "a8"}); !errors.Is(err, ErrIllegal) {
		t.Fatalf("promotion without piece: want ErrIllegal, got %v", err)
	}
	a, err := e.Apply(pos, Move{From: "b7", To: "a8", Promotion: "Q"})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if a.UCI != "b7a8q" || !strings.HasPrefix(a.SAN, "bxa8") {
		t.Fatalf("unexpected promotion notation uci=%q san=%q", a.UCI, a.SAN)
	}
}

func TestPromotionIgnoredOnOrdinaryMove(t *testing.T) {
	e := NewEngine()
	a, err := e.Apply(e.NewPosition(), Move{From: "e2", To: "e4", Promotion: "q"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if a.UCI != "e2e4" {
		t.Fatalf("want e2e4, got %q", a.UCI)
	}
}

func TestLegalMoves(t *testing.T) {
	e := NewEngine()
	pos := e.NewPosition()
	got, err := e.LegalMoves(pos, "G1")
	if err != nil {
		t.Fatalf("legal moves: %v", err)
	}
	if want := []string{"f3", "h3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("knight targets: want %v, got %v", want, got)
	}
	got, err = e.LegalMoves(pos, "e7")
	if err != nil || len(got) != 0 {
		t.Fatalf("opponent piece: want empty, got %v err=%v", got, err)
	}
	if _, err := e.LegalMoves(pos, "i1"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("want ErrMalformed, got %v", err)
	}
}

func TestOpeningAnnotation(t *testing.T) {
	_, a := play(t, NewEngine(), Move{From: "e2", To: "e4"}, Move{From: "e7", To: "e5"})
	if a.Opening == "" {
		t.Fatalf("expected an opening name after 1.e4 e5")
	}
	_, a = play(t, NewEngine(WithoutOpenings()), Move{From: "e2", To: "e4"})
	if a.Opening != "" {
		t.Fatalf("openings disabled, got %q", a.Opening)
	}
}

func TestColorOpponent(t *testing.T) {
	if White.Opponent() != Black || Black.Opponent() != White {
		t.Fatalf("opponent mapping broken")
	}
}

func TestThreefoldRepetitionClaimed(t *testing.T) {
	e := NewEngine(WithoutOpenings())
	shuffle := []Move{
		{From: "g1", To: "f3"}, {From: "g8", To: "f6"}, {From: "f3", To: "g1"}, {From: "f6", To: "g8"},
	}
	line := append(append([]Move{}, shuffle...), shuffle...)
	pos, a := play(t, e, line[:7]...)
	if a.Terminal {
		t.Fatalf("second occurrence should not end the game: %+v", a)
	}
	a, err := e.Apply(pos, line[7])
	if err != nil {
		t.Fatalf("final shuffle: %v", err)
	}
	if !a.Terminal || a.Kind != KindRepetition || a.Winner != "" {
		t.Fatalf("want repetition draw, got terminal=%v kind=%q winner=%q", a.Terminal, a.Kind, a.Winner)
	}
}

func TestZeroPositionIsMalformed(t *testing.T) {
	e := NewEngine(WithoutOpenings())
	var pos Position
	if !pos.IsZero() || e.NewPosition().IsZero() {
		t.Fatalf("IsZero mismatch")
	}
	if _, err := e.Apply(pos, Move{From: "e2", To: "e4"}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("apply on zero position: want ErrMalformed, got %v", err)
	}
	if _, err := e.LegalMoves(pos, "e2"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("legal moves on zero position: want ErrMalformed, got %v", err)
	}
}
