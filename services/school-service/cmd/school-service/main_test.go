package main

import (
	"net/http/httptest"
	"testing"

	"github.com/md-rashed-zaman/schoolportal/libs/auth"
)

func TestCallerKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/account", nil)
	r.RemoteAddr = "203.0.113.7:5555"
	if got := callerKey(r); got != "ip:203.0.113.7" {
		t.Fatalf("callerKey() = %q", got)
	}

	r = r.WithContext(auth.WithClaims(r.Context(), &auth.Claims{Sub: "acct-9"}))
	if got := callerKey(r); got != "acct:acct-9" {
		t.Fatalf("callerKey() = %q", got)
	}
}
