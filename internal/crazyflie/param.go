package crazyflie

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roman-kulish/lightseeker/internal/crtp"
)

const (
	paramChannelRead  crtp.Channel = 1
	paramChannelWrite crtp.Channel = 2
)

// Param reads the current value of a parameter by its "group.name"
func (cf *Crazyflie) Param(ctx context.Context, name string) (float64, error) {
	if cf.paramTOC == nil {
		return 0, ErrNotConnected
	}

	entry, err := cf.paramTOC.Lookup(name)
	if err != nil {
		return 0, err
	}

	req := crtp.NewPacket(crtp.PortParam, paramChannelRead, byte(entry.ID), byte(entry.ID>>8))
	resp, err := cf.request(ctx, req, 2)
	if err != nil {
		return 0, fmt.Errorf("reading param %s: %w", name, err)
	}

	// [id lo, id hi, status, value...]
	if len(resp.Data) < 3 {
		return 0, NewProtocolError(crtp.PortParam, "short read response for %s", name)
	}
	if resp.Data[2] != 0 {
		return 0, NewProtocolError(crtp.PortParam, "reading %s failed with status %d", name, resp.Data[2])
	}

	v, err := decodeParamValue(entry.Type, resp.Data[3:])
	if err != nil {
		return 0, NewProtocolError(crtp.PortParam, "decoding %s: %s", name, err.Error())
	}
	return v, nil
}

// SetParam writes a parameter and waits for the firmware to acknowledge it
func (cf *Crazyflie) SetParam(ctx context.Context, name string, value float64) error {
	if cf.paramTOC == nil {
		return ErrNotConnected
	}

	entry, err := cf.paramTOC.Lookup(name)
	if err != nil {
		return err
	}
	if entry.Type&paramReadOnlyFlag != 0 {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}

	payload, err := encodeParamValue(entry.Type, value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	data := append([]byte{byte(entry.ID), byte(entry.ID >> 8)}, payload...)
	if _, err = cf.request(ctx, crtp.NewPacket(crtp.PortParam, paramChannelWrite, data...), 2); err != nil {
		return fmt.Errorf("writing param %s: %w", name, err)
	}

	cf.logger.Debug("param set", slog.String("name", name), slog.Float64("value", value))
	return nil
}

// CheckDecks verifies that every named deck ("bcFlow2", "bcMultiranger", ...)
// is detected by the firmware. A missing deck is reported as ErrDeckMissing.
func (cf *Crazyflie) CheckDecks(ctx context.Context, decks ...string) error {
	for _, deck := range decks {
		v, err := cf.Param(ctx, "deck."+deck)
		if err != nil {
			return fmt.Errorf("checking deck %s: %w", deck, err)
		}
		if v == 0 {
			cf.logger.Error("deck is NOT attached", slog.String("deck", deck))
			return fmt.Errorf("%w: %s", ErrDeckMissing, deck)
		}
		cf.logger.Info("deck is attached", slog.String("deck", deck))
	}
	return nil
}
