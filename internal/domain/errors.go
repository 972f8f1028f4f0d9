package domain

import "errors"

// Precondition failures of the marketplace operations. Every one of them is
// detected before the operation mutates anything, except ErrTransferFailed,
// which unwinds the whole operation.
var (
	ErrInvalidPrice        = errors.New("invalid price")
	ErrNotOwner            = errors.New("not asset owner")
	ErrNotApproved         = errors.New("marketplace not approved for asset")
	ErrInvalidRecipient    = errors.New("invalid royalty recipient")
	ErrPercentageTooHigh   = errors.New("royalty percentage too high")
	ErrListingNotActive    = errors.New("listing not active")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrSelfPurchase        = errors.New("seller cannot buy own listing")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNoEarnings          = errors.New("no earnings to withdraw")
	ErrTransferFailed      = errors.New("transfer failed")
)

// Infrastructure errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")
	ErrBadSignature = errors.New("invalid request signature")
)
