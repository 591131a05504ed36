package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type MovementType string

const (
	MovementTypePurchase    MovementType = "purchase"
	MovementTypeWaste       MovementType = "waste"
	MovementTypeTransferIn  MovementType = "transfer_in"
	MovementTypeTransferOut MovementType = "transfer_out"
	MovementTypeSale        MovementType = "sale"
	MovementTypeAdjustment  MovementType = "adjustment"
)

var (
	ErrInvalidMovementType = errors.New("invalid movement type")
	ErrInvalidMovementSign = errors.New("movement quantity sign does not match movement type")
)

func (t MovementType) IsValid() bool {
	switch t {
	case MovementTypePurchase, MovementTypeWaste, MovementTypeTransferIn,
		MovementTypeTransferOut, MovementTypeSale, MovementTypeAdjustment:
		return true
	}
	return false
}

// IsInbound is true for types whose quantity must not be negative.
func (t MovementType) IsInbound() bool {
	return t == MovementTypePurchase || t == MovementTypeTransferIn
}

// IsOutbound is true for types whose quantity must not be positive.
func (t MovementType) IsOutbound() bool {
	return t == MovementTypeWaste || t == MovementTypeTransferOut || t == MovementTypeSale
}

// CheckQty validates the sign of qty against the movement type. Zero is
// accepted for every type; adjustments accept either sign.
func (t MovementType) CheckQty(qty decimal.Decimal) error {
	if !t.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidMovementType, string(t))
	}
	if t.IsInbound() && qty.IsNegative() {
		return fmt.Errorf("%w: %s qty %s", ErrInvalidMovementSign, t, qty)
	}
	if t.IsOutbound() && qty.IsPositive() {
		return fmt.Errorf("%w: %s qty %s", ErrInvalidMovementSign, t, qty)
	}
	return nil
}

type StockReferenceType string

const (
	StockReferenceTypePosOrder StockReferenceType = "POS_ORDER"
	StockReferenceTypeManual   StockReferenceType = "MANUAL"
)

type OrderSyncOutcome string

const (
	// OrderSyncOutcomeDepleted: at least one sale movement was written.
	OrderSyncOutcomeDepleted OrderSyncOutcome = "depleted"
	// OrderSyncOutcomeNoEffect: lines were mapped but their recipes consume nothing.
	OrderSyncOutcomeNoEffect OrderSyncOutcome = "no_effect"
	// OrderSyncOutcomeUnmapped: no line resolved to a recipe.
	OrderSyncOutcomeUnmapped OrderSyncOutcome = "unmapped"
)
