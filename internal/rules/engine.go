// Package rules adapts github.com/corentings/chess/v2 to the relay: positions
// are immutable values and every move is validated against the engine's legal
// move list before it is applied.
package rules

import (
	"fmt"
	"sort"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
	"go.uber.org/zap"
)

// ECO lookups stop after this many plies.
const maxOpeningPly = 30

// Position is an immutable game position. The zero value is not usable; get one
// from Engine.NewPosition or Engine.Apply.
type Position struct {
	game *nchess.Game
}

// FEN returns the position in Forsyth-Edwards notation.
func (p Position) FEN() string {
	if p.game == nil {
		return ""
	}
	return p.game.FEN()
}

// Turn returns the side to move.
func (p Position) Turn() Color {
	if p.game == nil {
		return White
	}
	return colorFrom(p.game.Position().Turn())
}

// Ply is the number of half-moves played from the start position.
func (p Position) Ply() int {
	if p.game == nil {
		return 0
	}
	return len(p.game.Moves())
}

// IsZero reports whether p was never initialised.
func (p Position) IsZero() bool { return p.game == nil }

type Option func(*Engine)

// WithLogger sets the logger used for engine diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithoutOpenings disables the ECO opening annotation.
func WithoutOpenings() Option {
	return func(e *Engine) { e.openingName = nil }
}

// Engine is stateless apart from the opening book and is safe for concurrent use.
type Engine struct {
	logger      *zap.Logger
	openingName func(game *nchess.Game) string
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: zap.NewNop()}
	book := opening.NewBookECO()
	e.openingName = func(game *nchess.Game) string {
		if book == nil || game == nil {
			return ""
		}
		if o := book.Find(game.Moves()); o != nil {
			return o.Title()
		}
		return ""
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewPosition returns the standard starting position.
func (e *Engine) NewPosition() Position {
	return Position{game: nchess.NewGame()}
}

// LegalMoves returns the sorted destination squares of the piece on square for
// the side to move. A square without such a piece yields an empty slice.
func (e *Engine) LegalMoves(pos Position, square string) ([]string, error) {
	if pos.IsZero() {
		return nil, fmt.Errorf("%w: empty position", ErrMalformed)
	}
	sq, err := normalizeSquare(square)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	targets := []string{}
	for _, mv := range pos.game.ValidMoves() {
		if mv.S1().String() != sq {
			continue
		}
		to := mv.S2().String()
		if _, ok := seen[to]; ok {
			continue
		}
		seen[to] = struct{}{}
		targets = append(targets, to)
	}
	sort.Strings(targets)
	return targets, nil
}

// Apply validates mv against pos and returns the resulting position. pos is
// never modified. Unknown squares or promotion pieces fail with ErrMalformed,
// moves the engine does not list as legal fail with ErrIllegal.
func (e *Engine) Apply(pos Position, mv Move) (Applied, error) {
	if pos.IsZero() {
		return Applied{}, fmt.Errorf("%w: empty position", ErrMalformed)
	}
	from, err := normalizeSquare(mv.From)
	if err != nil {
		return Applied{}, err
	}
	to, err := normalizeSquare(mv.To)
	if err != nil {
		return Applied{}, err
	}
	promo, err := normalizePromotion(mv.Promotion)
	if err != nil {
		return Applied{}, err
	}

	uci, ok := matchLegal(pos.game, from, to, promo)
	if !ok {
		return Applied{}, fmt.Errorf("%w: %s%s%s", ErrIllegal, from, to, promo)
	}

	next := pos.game.Clone()
	before := next.Position()
	mover := colorFrom(before.Turn())
	decoded, err := nchess.UCINotation{}.Decode(before, uci)
	if err != nil {
		e.logger.Warn("rules_decode_failed", zap.String("uci", uci), zap.String("fen", pos.FEN()), zap.Error(err))
		return Applied{}, fmt.Errorf("%w: decode %s: %v", ErrIllegal, uci, err)
	}
	san := nchess.AlgebraicNotation{}.Encode(before, decoded)
	if err := next.Move(decoded, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %s: %v", ErrIllegal, uci, err)
	}
	claimAutomaticDraw(next)

	out := Applied{
		Position: Position{game: next},
		Mover:    mover,
		UCI:      uci,
		SAN:      san,
		Check:    strings.HasSuffix(san, "+") || strings.HasSuffix(san, "#"),
	}
	switch next.Outcome() {
	case nchess.WhiteWon:
		out.Terminal, out.Winner = true, White
	case nchess.BlackWon:
		out.Terminal, out.Winner = true, Black
	case nchess.Draw:
		out.Terminal = true
	}
	if out.Terminal {
		out.Kind = kindFromMethod(next.Method())
	}
	if e.openingName != nil && len(next.Moves()) <= maxOpeningPly {
		out.Opening = e.openingName(next)
	}
	return out, nil
}

// matchLegal finds the engine move from→to. A requested promotion is ignored
// when the move is not a promotion; a promotion move without a piece does not
// match.
func matchLegal(game *nchess.Game, from, to, promo string) (string, bool) {
	prefix := from + to
	for _, mv := range game.ValidMoves() {
		u := mv.String()
		if !strings.HasPrefix(u, prefix) {
			continue
		}
		if len(u) == len(prefix) || u[len(prefix):] == promo {
			return u, true
		}
	}
	return "", false
}

// claimAutomaticDraw ends the game on threefold repetition or the fifty-move
// rule; the engine only applies the fivefold and seventy-five move variants on
// its own.
func claimAutomaticDraw(game *nchess.Game) {
	if game.Outcome() != nchess.NoOutcome {
		return
	}
	for _, m := range game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			_ = game.Draw(m)
			return
		}
	}
}

func kindFromMethod(m nchess.Method) Kind {
	switch m {
	case nchess.Checkmate:
		return KindCheckmate
	case nchess.Stalemate:
		return KindStalemate
	case nchess.InsufficientMaterial:
		return KindInsufficientMaterial
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return KindRepetition
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return KindMoveRule
	default:
		return KindDraw
	}
}

func colorFrom(c nchess.Color) Color {
	if c == nchess.White {
		return White
	}
	return Black
}

func normalizeSquare(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return "", fmt.Errorf("%w: unknown square %q", ErrMalformed, s)
	}
	return s, nil
}

func normalizePromotion(p string) (string, error) {
	p = strings.ToLower(strings.TrimSpace(p))
	switch p {
	case "", "q", "r", "b", "n":
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown promotion %q", ErrMalformed, p)
	}
}
