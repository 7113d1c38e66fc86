// Package role classifies a caller as customer, merchant, or the
// distinguished admin-merchant, and answers the visibility and counter
// questions the rest of the system asks about that caller. It holds no
// state beyond the configured admin identity.
package role

import (
	"errors"
	"fmt"

	"github.com/orderchat/internal/model"
)

type Role string

const (
	Customer      Role = "customer"
	Merchant      Role = "merchant"
	AdminMerchant Role = "admin_merchant"
)

// ErrUnknownRole is returned when a caller claims a role that is neither
// customer nor merchant.
var ErrUnknownRole = errors.New("unknown role")

// View is a caller's resolved perspective for one session: which filter
// applies to listings, which unread counter belongs to them, and whether
// the unfiltered admin listing is unlocked.
type View struct {
	PartyID     string
	DisplayName string
	Role        Role
}

// Resolve maps a caller identity and claimed role to a View. The claimed
// role can only be Customer or Merchant; a merchant whose id equals the
// configured admin identity becomes AdminMerchant. Resolve is pure.
func Resolve(callerID, displayName string, claimed Role, adminID string) (View, error) {
	switch claimed {
	case Customer:
		return View{PartyID: callerID, DisplayName: displayName, Role: Customer}, nil
	case Merchant:
		r := Merchant
		if adminID != "" && callerID == adminID {
			r = AdminMerchant
		}
		return View{PartyID: callerID, DisplayName: displayName, Role: r}, nil
	default:
		return View{}, fmt.Errorf("%w: %q", ErrUnknownRole, claimed)
	}
}

// Admin reports whether the view has system-wide conversation visibility.
func (v View) Admin() bool { return v.Role == AdminMerchant }

// ActsAsMerchant reports whether sends from this view count against the
// customer's unread counter. The admin-merchant sends as a merchant.
func (v View) ActsAsMerchant() bool { return v.Role != Customer }

// CanView reports whether the view may read or subscribe to c.
func (v View) CanView(c *model.Conversation) bool {
	if c == nil {
		return false
	}
	switch v.Role {
	case AdminMerchant:
		return true
	case Merchant:
		return c.MerchantID == v.PartyID
	default:
		return c.CustomerID == v.PartyID
	}
}
