package bot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Miniapp payloads are flat JSON objects dispatched by a string action tag.
// The variant set is closed: an unknown tag is an error, never a silent no-op.

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownAction    = errors.New("unknown action")
)

// Event is one decoded miniapp payload variant.
type Event interface {
	action() string
}

// PostSwapEvent offers a new swap.
type PostSwapEvent struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`
}

// GetPendingSwapsEvent requests the pending swap list, optionally filtered
// by destination asset.
type GetPendingSwapsEvent struct {
	Tag string `json:"tag"`
}

// SelectSwapEvent accepts a pending swap.
type SelectSwapEvent struct {
	SwapID string `json:"swapId"`
}

// DeletePendingSwapEvent withdraws the caller's own pending swap.
type DeletePendingSwapEvent struct {
	SwapID string `json:"swapId"`
}

// SwapLockedEvent reports an on-chain lock together with the invoice bound
// to the same hashlock.
type SwapLockedEvent struct {
	SwapID      string `json:"swapId"`
	Transaction string `json:"transaction"`
	Invoice     string `json:"invoice"`
}

// RefundSwapEvent asks for the refund call-to-action on a locked swap.
type RefundSwapEvent struct {
	SwapID string `json:"swapId"`
}

// RefundInitiatedEvent reports that the refund transaction went out.
type RefundInitiatedEvent struct {
	SwapID string `json:"swapId"`
}

// SwapFinishedEvent reports invoice settlement for a locked swap.
type SwapFinishedEvent struct {
	SwapID string `json:"swapId"`
}

func (PostSwapEvent) action() string          { return "post_swap" }
func (GetPendingSwapsEvent) action() string   { return "get_pending_swaps" }
func (SelectSwapEvent) action() string        { return "select_swap" }
func (DeletePendingSwapEvent) action() string { return "delete_pending_swap" }
func (SwapLockedEvent) action() string        { return "swap_locked" }
func (RefundSwapEvent) action() string        { return "refund_swap" }
func (RefundInitiatedEvent) action() string   { return "refund_initiated" }
func (SwapFinishedEvent) action() string      { return "swap_finished" }

// ParseEvent decodes a raw miniapp payload into its typed variant.
func ParseEvent(raw string) (Event, error) {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if envelope.Action == "" {
		return nil, fmt.Errorf("%w: missing action tag", ErrMalformedPayload)
	}

	var event Event
	switch envelope.Action {
	case "post_swap":
		event = &PostSwapEvent{}
	case "get_pending_swaps":
		event = &GetPendingSwapsEvent{}
	case "select_swap":
		event = &SelectSwapEvent{}
	case "delete_pending_swap":
		event = &DeletePendingSwapEvent{}
	case "swap_locked":
		event = &SwapLockedEvent{}
	case "refund_swap":
		event = &RefundSwapEvent{}
	case "refund_initiated":
		event = &RefundInitiatedEvent{}
	case "swap_finished":
		event = &SwapFinishedEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, envelope.Action)
	}

	if err := json.Unmarshal([]byte(raw), event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validateEvent(event); err != nil {
		return nil, err
	}
	return event, nil
}

// validateEvent enforces per-variant required fields after decode.
func validateEvent(event Event) error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s requires %s", ErrMalformedPayload, event.action(), field)
	}

	switch e := event.(type) {
	case *PostSwapEvent:
		if e.Destination == "" {
			return missing("destination")
		}
	case *SelectSwapEvent:
		if e.SwapID == "" {
			return missing("swapId")
		}
	case *DeletePendingSwapEvent:
		if e.SwapID == "" {
			return missing("swapId")
		}
	case *SwapLockedEvent:
		if e.SwapID == "" {
			return missing("swapId")
		}
		if e.Transaction == "" {
			return missing("transaction")
		}
		if e.Invoice == "" {
			return missing("invoice")
		}
	case *RefundSwapEvent:
		if e.SwapID == "" {
			return missing("swapId")
		}
	case *RefundInitiatedEvent:
		if e.SwapID == "" {
			return missing("swapId")
		}
	case *SwapFinishedEvent:
		if e.SwapID == "" {
			return missing("swapId")
		}
	}
	return nil
}
