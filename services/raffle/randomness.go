package raffle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

// randomnessCoordinator tracks the single outstanding request per game.
type randomnessCoordinator struct {
	service  RandomnessService
	cfg      DrawConfig
	callback Address
	requests map[RequestID]uint64
}

func newRandomnessCoordinator(service RandomnessService, cfg DrawConfig, callback Address) *randomnessCoordinator {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = DefaultConfirmations
	}
	if cfg.CallbackGasLimit == 0 {
		cfg.CallbackGasLimit = DefaultCallbackGasLimit
	}
	return &randomnessCoordinator{
		service:  service,
		cfg:      cfg,
		callback: callback,
		requests: make(map[RequestID]uint64),
	}
}

// issue asks the external service for one word. It does not touch state.
func (c *randomnessCoordinator) issue(ctx context.Context, gameID uint64) (RequestID, error) {
	id, err := c.service.RequestRandomWords(ctx, DrawRequest{
		GameID:           gameID,
		KeyHash:          c.cfg.KeyHash,
		Confirmations:    c.cfg.Confirmations,
		CallbackGasLimit: c.cfg.CallbackGasLimit,
		NumWords:         1,
		Callback:         c.callback,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRandomnessFailed, err)
	}
	if strings.TrimSpace(string(id)) == "" {
		return "", fmt.Errorf("%w: empty request id", ErrRandomnessFailed)
	}
	return id, nil
}

// bind records id as the outstanding request of gameID.
func (c *randomnessCoordinator) bind(id RequestID, gameID uint64) error {
	if owner, live := c.requests[id]; live {
		return fmt.Errorf("%w: %s is bound to game %d", ErrDuplicateRequest, id, owner)
	}
	c.requests[id] = gameID
	return nil
}

func (c *randomnessCoordinator) lookup(id RequestID) (uint64, bool) {
	gameID, ok := c.requests[id]
	return gameID, ok
}

// resolve removes the mapping so a replayed callback is rejected as unknown.
func (c *randomnessCoordinator) resolve(id RequestID) {
	delete(c.requests, id)
}

func firstWord(words []*big.Int) (*big.Int, error) {
	if len(words) == 0 || words[0] == nil {
		return nil, ErrNoRandomWords
	}
	return new(big.Int).Set(words[0]), nil
}
