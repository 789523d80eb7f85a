package main

import (
	"testing"

	"queijaria/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"})
	if err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	err = validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected common pin to be rejected")
	}
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"444444", "345678", "876543", "112233"} {
		if err := validatePINStrength(pin); err == nil {
			t.Fatalf("expected %s to be rejected", pin)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
