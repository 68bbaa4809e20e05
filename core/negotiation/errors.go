package negotiation

import "errors"

var (
	// ErrSessionNotFound is returned for unknown or evicted session ids.
	ErrSessionNotFound = errors.New("negotiation session not found")
	// ErrNegotiationNoBids marks a resolution without any valid bid. Resolve
	// itself reports this through Result.NoWinner; callers wrap it when the
	// fallback also fails.
	ErrNegotiationNoBids = errors.New("negotiation ended without bids")
	// ErrNoParticipants is returned when a session is started empty.
	ErrNoParticipants = errors.New("negotiation requires participants")
	// ErrInvalidBid rejects NaN, infinite or negative values.
	ErrInvalidBid = errors.New("invalid bid value")
)
