package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name      string
		requested float64
		auth      float64
		tolerance []float64
		want      bool
	}{
		{"exact", 100, 100, nil, true},
		{"within default", 100, 100.005, nil, true},
		{"boundary default", 100, 100.01, nil, true},
		{"outside default", 100, 100.02, nil, false},
		{"custom tolerance", 100, 100.1, []float64{0.2}, true},
		{"custom tolerance exceeded", 100, 100.3, []float64{0.2}, false},
		{"authoritative lower", 99.99, 50.00, nil, false},
		{"zero tolerance", 10, 10.001, []float64{0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateAmount(tt.requested, tt.auth, tt.tolerance...); got != tt.want {
				t.Errorf("ValidateAmount(%v, %v, %v) = %v, want %v", tt.requested, tt.auth, tt.tolerance, got, tt.want)
			}
		})
	}
}

func TestWithinTolerance_Symmetric(t *testing.T) {
	a := decimal.RequireFromString("19.99")
	b := decimal.RequireFromString("20.00")
	tol := decimal.RequireFromString("0.01")
	if !WithinTolerance(a, b, tol) || !WithinTolerance(b, a, tol) {
		t.Fatal("expected symmetric match at the tolerance boundary")
	}
}

func TestParseTolerance(t *testing.T) {
	tol, err := ParseTolerance("")
	if err != nil || !tol.Equal(DefaultTolerance) {
		t.Fatalf("ParseTolerance(\"\") = %v, %v", tol, err)
	}

	tol, err = ParseTolerance(" 0.5 ")
	if err != nil || tol.String() != "0.5" {
		t.Fatalf("ParseTolerance(0.5) = %v, %v", tol, err)
	}

	for _, bad := range []string{"abc", "-0.01"} {
		if _, err := ParseTolerance(bad); err == nil {
			t.Errorf("ParseTolerance(%q) should fail", bad)
		}
	}
}

func TestSameCurrency(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"BRL", "brl", true},
		{"BRL", "ARS", false},
		{"", "USD", true},
	}
	for _, tt := range tests {
		if got := SameCurrency(tt.a, tt.b); got != tt.want {
			t.Errorf("SameCurrency(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTotal(t *testing.T) {
	got := Total(
		Line{UnitPrice: decimal.RequireFromString("10.10"), Quantity: 3},
		Line{UnitPrice: decimal.RequireFromString("0.333"), Quantity: 1},
	)
	if got.String() != "30.63" {
		t.Fatalf("Total = %s, want 30.63", got)
	}
}
