package relayclient

import (
	"context"
	"fmt"

	"github.com/park285/cheese-relay/internal/protocol"
	"github.com/park285/cheese-relay/pkg/chessdto"
)

// FoolsMate is the shortest game ending in checkmate.
var FoolsMate = []chessdto.MoveRequest{
	{From: "f2", To: "f3"},
	{From: "e7", To: "e5"},
	{From: "g2", To: "g4"},
	{From: "d8", To: "h4"},
}

// SelfPlay connects two players to wsURL, pairs them and plays line, checking
// that both sides see every move. It returns the GAME_OVER seen by white, or
// an error if the line ends without one.
func SelfPlay(ctx context.Context, wsURL string, line []chessdto.MoveRequest) (chessdto.GameOver, error) {
	white, err := Dial(ctx, wsURL)
	if err != nil {
		return chessdto.GameOver{}, err
	}
	defer white.Close(context.WithoutCancel(ctx))
	if err := white.Send(ctx, protocol.TypeInitGame, nil); err != nil {
		return chessdto.GameOver{}, err
	}
	if err := white.Expect(ctx, protocol.TypeWaiting, nil); err != nil {
		return chessdto.GameOver{}, fmt.Errorf("white queue: %w", err)
	}

	black, err := Dial(ctx, wsURL)
	if err != nil {
		return chessdto.GameOver{}, err
	}
	defer black.Close(context.WithoutCancel(ctx))
	if err := black.Send(ctx, protocol.TypeInitGame, nil); err != nil {
		return chessdto.GameOver{}, err
	}

	var wi, bi chessdto.InitGame
	if err := white.Expect(ctx, protocol.TypeInitGame, &wi); err != nil {
		return chessdto.GameOver{}, fmt.Errorf("white init: %w", err)
	}
	if err := black.Expect(ctx, protocol.TypeInitGame, &bi); err != nil {
		return chessdto.GameOver{}, fmt.Errorf("black init: %w", err)
	}
	if wi.Color != "white" || bi.Color != "black" || wi.GameID != bi.GameID {
		return chessdto.GameOver{}, fmt.Errorf("unexpected pairing: white=%+v black=%+v", wi, bi)
	}

	players := [2]*WebSocket{white, black}
	for i, mv := range line {
		if err := players[i%2].Send(ctx, protocol.TypeMove, mv); err != nil {
			return chessdto.GameOver{}, err
		}
		for _, p := range players {
			var bc chessdto.MoveBroadcast
			if err := p.Expect(ctx, protocol.TypeMove, &bc); err != nil {
				return chessdto.GameOver{}, fmt.Errorf("move %d: %w", i+1, err)
			}
			if bc.From != mv.From || bc.To != mv.To || bc.Ply != i+1 {
				return chessdto.GameOver{}, fmt.Errorf("move %d echoed as %+v", i+1, bc)
			}
		}
	}

	var over chessdto.GameOver
	if err := white.Expect(ctx, protocol.TypeGameOver, &over); err != nil {
		return chessdto.GameOver{}, fmt.Errorf("game over: %w", err)
	}
	if err := black.Expect(ctx, protocol.TypeGameOver, nil); err != nil {
		return chessdto.GameOver{}, fmt.Errorf("black game over: %w", err)
	}
	return over, nil
}
