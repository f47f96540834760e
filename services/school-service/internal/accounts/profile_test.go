package accounts

import (
	"errors"
	"testing"
	"time"
)

func validProfile() SchoolProfile {
	return SchoolProfile{
		Name:      "Springfield Public School",
		ShortName: "SPS",
		Address:   Address{City: "Pune", District: "Pune", State: "Maharashtra"},
		Mobile:    "9876543210",
	}
}

func TestProfileValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SchoolProfile)
		ok     bool
	}{
		{"valid", func(*SchoolProfile) {}, true},
		{"missing name", func(p *SchoolProfile) { p.Name = "  " }, false},
		{"missing state", func(p *SchoolProfile) { p.Address.State = "" }, false},
		{"mobile starts with 5", func(p *SchoolProfile) { p.Mobile = "5876543210" }, false},
		{"mobile too short", func(p *SchoolProfile) { p.Mobile = "987654321" }, false},
		{"mobile with country code", func(p *SchoolProfile) { p.Mobile = "+919876543210" }, false},
		{"alternate valid", func(p *SchoolProfile) { p.AlternateMobile = "6000000000" }, true},
		{"alternate invalid", func(p *SchoolProfile) { p.AlternateMobile = "12345" }, false},
	}
	for _, tc := range cases {
		p := validProfile()
		tc.mutate(&p)
		err := p.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidProfile) {
			t.Fatalf("%s: expected ErrInvalidProfile, got %v", tc.name, err)
		}
	}
}

func TestNormalizeTrims(t *testing.T) {
	p := validProfile()
	p.Name = "  Springfield  "
	p.Mobile = " 9876543210 "
	n := p.Normalize()
	if n.Name != "Springfield" || n.Mobile != "9876543210" {
		t.Fatalf("unexpected normalized profile: %+v", n)
	}
	if err := n.Validate(); err != nil {
		t.Fatalf("normalized profile should validate: %v", err)
	}
}

func TestCloneDoesNotShare(t *testing.T) {
	at := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	p := validProfile()
	a := &Account{
		ID:           "acct-1",
		Profile:      &p,
		Subscription: Subscription{Active: true, Plan: "Basic", ActivatedAt: &at},
		Seats:        []Seat{{ID: "s1", Name: "admin1"}},
	}
	c := a.Clone()
	c.Seats[0].Name = "changed"
	c.Profile.Name = "changed"
	*c.Subscription.ActivatedAt = at.Add(time.Hour)

	if a.Seats[0].Name != "admin1" || a.Profile.Name != "Springfield Public School" || !a.Subscription.ActivatedAt.Equal(at) {
		t.Fatal("clone shares state with original")
	}
}
