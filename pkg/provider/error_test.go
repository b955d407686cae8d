package provider

import (
	"context"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: true,
		},
		{
			name: "canceled",
			err:  context.Canceled,
			want: false,
		},
		{
			name: "temporary flag",
			err:  &Error{Temporary: true, Err: fmt.Errorf("overloaded")},
			want: true,
		},
		{
			name: "rate limited",
			err:  &Error{Status: 429},
			want: true,
		},
		{
			name: "server error",
			err:  &Error{Status: 503},
			want: true,
		},
		{
			name: "client error",
			err:  &Error{Status: 400},
			want: false,
		},
		{
			name: "wrapped provider error",
			err:  fmt.Errorf("dispatch failed: %w", &Error{Status: 500}),
			want: true,
		},
		{
			name: "plain error",
			err:  fmt.Errorf("bad request"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTierOrdering(t *testing.T) {
	tests := []struct {
		name string
		tier Tier
		min  Tier
		want bool
	}{
		{name: "local below economy", tier: TierLocal, min: TierEconomy, want: false},
		{name: "economy meets economy", tier: TierEconomy, min: TierEconomy, want: true},
		{name: "premium above standard", tier: TierPremium, min: TierStandard, want: true},
		{name: "standard below premium", tier: TierStandard, min: TierPremium, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tier.AtLeast(tt.min); got != tt.want {
				t.Errorf("AtLeast() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTier(t *testing.T) {
	if _, err := ParseTier("STANDARD"); err != nil {
		t.Errorf("ParseTier(STANDARD) error = %v, want nil", err)
	}
	if _, err := ParseTier("turbo"); err == nil {
		t.Error("ParseTier(turbo) error = nil, want error")
	}
}
