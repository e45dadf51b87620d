// Package irq holds interrupt identifier conventions shared by the table
// builders and the wait primitive used by interrupt-driven checks.
package irq

import (
	"errors"
	"fmt"
)

// GIC interrupt specifier conventions.
const (
	// First cell of a three or four cell specifier.
	TypeSPI = 0
	TypePPI = 1

	PPIOffset = 16
	SPIOffset = 32

	MinCells = 1
	MaxCells = 4
)

// Trigger is the flag cell of an interrupt specifier.
type Trigger uint32

const (
	TriggerNone        Trigger = 0
	TriggerEdgeRising  Trigger = 1
	TriggerEdgeFalling Trigger = 2
	TriggerLevelHigh   Trigger = 4
	TriggerLevelLow    Trigger = 8
	// TriggerMask selects the trigger bits; the upper bits carry
	// controller specific data such as PPI CPU masks.
	TriggerMask Trigger = 0xF
)

type Mode uint32

const (
	LevelTriggered Mode = 0
	EdgeTriggered  Mode = 1
)

type Polarity uint32

const (
	ActiveHigh Polarity = 0
	ActiveLow  Polarity = 1
)

var ErrInvalidTrigger = errors.New("invalid interrupt trigger type")

// DecodeTrigger maps the flag cell to its mode and polarity. No trigger
// reads as level triggered, active high.
func DecodeTrigger(flags uint32) (Mode, Polarity, error) {
	switch Trigger(flags) & TriggerMask {
	case TriggerNone, TriggerLevelHigh:
		return LevelTriggered, ActiveHigh, nil
	case TriggerEdgeRising:
		return EdgeTriggered, ActiveHigh, nil
	case TriggerEdgeFalling:
		return EdgeTriggered, ActiveLow, nil
	case TriggerLevelLow:
		return LevelTriggered, ActiveLow, nil
	}
	return 0, 0, fmt.Errorf("%w: 0x%x", ErrInvalidTrigger, flags)
}

// ValidCells reports whether n is a supported interrupt specifier width.
func ValidCells(n int) bool {
	return n >= MinCells && n <= MaxCells
}
