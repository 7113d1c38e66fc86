package role

import (
	"errors"
	"testing"

	"github.com/orderchat/internal/model"
)

const adminID = "admin-merchant-1"

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		callerID string
		claimed  Role
		want     Role
		wantErr  bool
	}{
		{"customer", "c1", Customer, Customer, false},
		{"merchant", "m1", Merchant, Merchant, false},
		{"admin as merchant", adminID, Merchant, AdminMerchant, false},
		{"admin id claiming customer stays customer", adminID, Customer, Customer, false},
		{"unknown role", "c1", Role("owner"), "", true},
		{"admin role cannot be claimed directly", "m1", AdminMerchant, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Resolve(tt.callerID, "Name", tt.claimed, adminID)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownRole) {
					t.Fatalf("Resolve() err = %v, want ErrUnknownRole", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() err = %v", err)
			}
			if v.Role != tt.want {
				t.Errorf("Resolve() role = %s, want %s", v.Role, tt.want)
			}
			if v.PartyID != tt.callerID {
				t.Errorf("Resolve() partyID = %s, want %s", v.PartyID, tt.callerID)
			}
		})
	}
}

func TestResolveNoAdminConfigured(t *testing.T) {
	v, err := Resolve("m1", "Cafe", Merchant, "")
	if err != nil {
		t.Fatalf("Resolve() err = %v", err)
	}
	if v.Role != Merchant {
		t.Errorf("with empty adminID role = %s, want Merchant", v.Role)
	}
}

func TestCanView(t *testing.T) {
	conv := &model.Conversation{ID: "k1", CustomerID: "c1", MerchantID: "m1"}

	customer := View{PartyID: "c1", Role: Customer}
	otherCustomer := View{PartyID: "c2", Role: Customer}
	merchant := View{PartyID: "m1", Role: Merchant}
	otherMerchant := View{PartyID: "m2", Role: Merchant}
	admin := View{PartyID: adminID, Role: AdminMerchant}

	if !customer.CanView(conv) {
		t.Error("own customer should view")
	}
	if otherCustomer.CanView(conv) {
		t.Error("other customer must not view")
	}
	if !merchant.CanView(conv) {
		t.Error("own merchant should view")
	}
	if otherMerchant.CanView(conv) {
		t.Error("other merchant must not view")
	}
	if !admin.CanView(conv) {
		t.Error("admin-merchant should view any conversation")
	}
	if customer.CanView(nil) {
		t.Error("nil conversation must not be viewable")
	}
}

func TestActsAsMerchant(t *testing.T) {
	if (View{Role: Customer}).ActsAsMerchant() {
		t.Error("customer must not act as merchant")
	}
	if !(View{Role: Merchant}).ActsAsMerchant() {
		t.Error("merchant acts as merchant")
	}
	if !(View{Role: AdminMerchant}).ActsAsMerchant() {
		t.Error("admin-merchant acts as merchant")
	}
}
