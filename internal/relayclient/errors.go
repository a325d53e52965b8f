package relayclient

import (
	"encoding/json"
	"fmt"

	"github.com/park285/cheese-relay/internal/protocol"
	"github.com/park285/cheese-relay/pkg/chessdto"
)

func decodeDomainError(env protocol.Envelope) error {
	var de chessdto.DomainError
	if err := json.Unmarshal(env.Payload, &de); err != nil {
		return fmt.Errorf("decode error envelope: %w", err)
	}
	return &de
}
