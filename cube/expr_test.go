package cube

import (
	"math"
	"testing"
)

func TestBandExprValidation(t *testing.T) {
	bands := []string{"red", "nir"}

	if _, err := NewBandExpr("(nir - red) / (nir + red)", bands); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}

	_, err := NewBandExpr("(nir - blue) / (nir + blue)", bands)
	if err == nil {
		t.Fatal("expression over unknown band should fail")
	}
	if !IsConfigError(err) {
		t.Errorf("error is not a config error: %v", err)
	}

	if _, err := NewBandExpr("", bands); err == nil {
		t.Error("empty expression should fail")
	}
	if _, err := NewBandExpr("nir +* red", bands); err == nil {
		t.Error("malformed expression should fail")
	}
}

func TestBandExprEval(t *testing.T) {
	be, err := NewBandExpr("(nir - red) / (nir + red)", []string{"red", "nir"})
	if err != nil {
		t.Fatal(err)
	}

	got := be.Eval(map[string]interface{}{"red": 25.0, "nir": 75.0})
	if math.Abs(float64(got)-0.5) > 1e-6 {
		t.Errorf("ndvi = %v, want 0.5", got)
	}

	// A no-data input poisons the pixel.
	if got := be.Eval(map[string]interface{}{"red": math.NaN(), "nir": 75.0}); !IsNoData(got) {
		t.Errorf("no-data input produced %v", got)
	}

	// Division by zero yields no-data, not Inf.
	if got := be.Eval(map[string]interface{}{"red": 0.0, "nir": 0.0}); !IsNoData(got) {
		t.Errorf("0/0 produced %v", got)
	}
}

func TestBandExprVars(t *testing.T) {
	be, err := NewBandExpr("nir + nir + red", []string{"red", "nir", "green"})
	if err != nil {
		t.Fatal(err)
	}
	if len(be.Vars) != 2 {
		t.Errorf("Vars = %v, want [nir red] without duplicates", be.Vars)
	}
}
