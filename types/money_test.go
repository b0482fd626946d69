package types

import (
	"encoding/json"
	"math"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name    string
		money   Money
		amount  int64
		display string
	}{
		{"Units", Units(100), 10000, "100.00"},
		{"Minor", Minor(2550), 2550, "25.50"},
		{"One minor unit", Minor(1), 1, "0.01"},
		{"Zero", Zero(), 0, "0.00"},
		{"Negative", Minor(-4900), -4900, "-49.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return Units(1).Add(Units(2)) }, Units(3)},
		{"Subtract", func() Money { return Units(5).Subtract(Units(2)) }, Units(3)},
		{"Multiply", func() Money { return Units(1).Multiply(3) }, Units(3)},
		{"Divide", func() Money { return Units(9).Divide(3) }, Units(3)},
		{"Divide truncates", func() Money { return Minor(10).Divide(3) }, Minor(3)},
		{"Negate", func() Money { return Units(1).Negate() }, Units(-1)},
		{"Abs positive", func() Money { return Units(1).Abs() }, Units(1)},
		{"Abs negative", func() Money { return Units(-1).Abs() }, Units(1)},
		{"Complex", func() Money {
			return Units(10).Add(Units(5)).Multiply(2).Subtract(Units(10))
		}, Units(20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyDivisionByZero(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for division by zero")
		}
	}()

	_ = Units(1).Divide(0)
}

func TestMoneyCheckedArithmetic(t *testing.T) {
	maxMoney := Minor(math.MaxInt64)
	minMoney := Minor(math.MinInt64)

	tests := []struct {
		name string
		fn   func() (Money, bool)
		want Money
		ok   bool
	}{
		{"Add", func() (Money, bool) { return Units(1).CheckedAdd(Units(2)) }, Units(3), true},
		{"Add at max", func() (Money, bool) { return maxMoney.CheckedAdd(Zero()) }, maxMoney, true},
		{"Add overflow", func() (Money, bool) { return maxMoney.CheckedAdd(Minor(1)) }, Money{}, false},
		{"Add underflow", func() (Money, bool) { return minMoney.CheckedAdd(Minor(-1)) }, Money{}, false},
		{"Subtract", func() (Money, bool) { return Units(1).CheckedSubtract(Units(3)) }, Units(-2), true},
		{"Subtract overflow", func() (Money, bool) { return Zero().CheckedSubtract(minMoney) }, Money{}, false},
		{"Subtract underflow", func() (Money, bool) { return Units(-1).CheckedSubtract(maxMoney) }, Money{}, false},
		{"Multiply", func() (Money, bool) { return Units(2).CheckedMultiply(3) }, Units(6), true},
		{"Multiply by zero", func() (Money, bool) { return maxMoney.CheckedMultiply(0) }, Zero(), true},
		{"Multiply overflow", func() (Money, bool) { return maxMoney.CheckedMultiply(2) }, Money{}, false},
		{"Multiply sign flip", func() (Money, bool) { return minMoney.CheckedMultiply(-1) }, Money{}, false},
		{"Multiply large count", func() (Money, bool) { return Units(10).CheckedMultiply(math.MaxInt64 / 100) }, Money{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.fn()
			if ok != tt.ok {
				t.Fatalf("ok: got %v, want %v", ok, tt.ok)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMoneySplit(t *testing.T) {
	tests := []struct {
		name   string
		money  Money
		n      int
		shares []Money
	}{
		{"Even", Units(40), 2, []Money{Units(20), Units(20)}},
		{"Single payee", Units(40), 1, []Money{Units(40)}},
		{"Remainder to last", Minor(1000), 3, []Money{Minor(333), Minor(333), Minor(334)}},
		{"Less than one unit each", Minor(2), 3, []Money{Minor(0), Minor(0), Minor(2)}},
		{"Zero", Zero(), 4, []Money{Zero(), Zero(), Zero(), Zero()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.money.Split(tt.n)
			if len(got) != len(tt.shares) {
				t.Fatalf("len: got %d, want %d", len(got), len(tt.shares))
			}
			for i := range got {
				if !got[i].Equal(tt.shares[i]) {
					t.Errorf("share %d: got %v, want %v", i, got[i], tt.shares[i])
				}
			}
			if total := Sum(got...); !total.Equal(tt.money) {
				t.Errorf("shares sum to %v, want %v", total, tt.money)
			}
		})
	}
}

func TestMoneySplitNonPositive(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for zero share count")
		}
	}()

	_ = Units(1).Split(0)
}

func TestMoneyComparison(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Money
		less    bool
		greater bool
		equal   bool
	}{
		{"Equal", Units(1), Minor(100), false, false, true},
		{"Less", Minor(50), Minor(100), true, false, false},
		{"Greater", Minor(200), Minor(100), false, true, false},
		{"Zero equal", Minor(0), Zero(), false, false, true},
		{"Negative less", Minor(-100), Minor(100), true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.LessThan(tt.b); got != tt.less {
				t.Errorf("LessThan: got %v, want %v", got, tt.less)
			}
			if got := tt.a.GreaterThan(tt.b); got != tt.greater {
				t.Errorf("GreaterThan: got %v, want %v", got, tt.greater)
			}
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("Equal: got %v, want %v", got, tt.equal)
			}
		})
	}
}

func TestMoneyMinMax(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Money
		min, max Money
	}{
		{"First smaller", Minor(50), Minor(100), Minor(50), Minor(100)},
		{"Second smaller", Minor(100), Minor(50), Minor(50), Minor(100)},
		{"Equal", Minor(100), Minor(100), Minor(100), Minor(100)},
		{"Negative", Minor(-50), Minor(50), Minor(-50), Minor(50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if minVal := tt.a.Min(tt.b); !minVal.Equal(tt.min) {
				t.Errorf("Min: got %v, want %v", minVal, tt.min)
			}
			if maxVal := tt.a.Max(tt.b); !maxVal.Equal(tt.max) {
				t.Errorf("Max: got %v, want %v", maxVal, tt.max)
			}
		})
	}
}

func TestMoneyPredicates(t *testing.T) {
	tests := []struct {
		name       string
		money      Money
		isZero     bool
		isPositive bool
		isNegative bool
	}{
		{"Zero", Minor(0), true, false, false},
		{"Positive", Minor(100), false, true, false},
		{"Negative", Minor(-100), false, false, true},
		{"Large positive", Minor(999999999), false, true, false},
		{"Large negative", Minor(-999999999), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.IsZero(); got != tt.isZero {
				t.Errorf("IsZero: got %v, want %v", got, tt.isZero)
			}
			if got := tt.money.IsPositive(); got != tt.isPositive {
				t.Errorf("IsPositive: got %v, want %v", got, tt.isPositive)
			}
			if got := tt.money.IsNegative(); got != tt.isNegative {
				t.Errorf("IsNegative: got %v, want %v", got, tt.isNegative)
			}
		})
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		input   string
		want    Money
		wantErr bool
	}{
		{"40", Units(40), false},
		{"123.45", Minor(12345), false},
		{"0.5", Minor(50), false},
		{"-1.25", Minor(-125), false},
		{"1e2", Units(100), false},
		{"0.001", Money{}, true},
		{"abc", Money{}, true},
		{"", Money{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMoney(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseMoney(%q): expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMoney(%q): unexpected error: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseMoney(%q): got %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(Minor(4950))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(data) != "49.50" {
		t.Errorf("JSON: got %s, want 49.50", string(data))
	}

	tests := []struct {
		input string
		want  Money
	}{
		{`40`, Units(40)},
		{`123.45`, Minor(12345)},
		{`"12.50"`, Minor(1250)},
		{`null`, Zero()},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var got Money
			if err := json.Unmarshal([]byte(tt.input), &got); err != nil {
				t.Fatalf("Unmarshal error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Unmarshal(%s): got %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	var bad Money
	if err := json.Unmarshal([]byte(`"1.001"`), &bad); err == nil {
		t.Error("expected error for sub-minor-unit amount")
	}
}

func TestMoneyText(t *testing.T) {
	var m Money
	if err := m.UnmarshalText([]byte("100")); err != nil {
		t.Fatalf("UnmarshalText error: %v", err)
	}
	if !m.Equal(Units(100)) {
		t.Errorf("UnmarshalText: got %v, want %v", m, Units(100))
	}
	text, err := m.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText error: %v", err)
	}
	if string(text) != "100.00" {
		t.Errorf("MarshalText: got %s, want 100.00", string(text))
	}
}

func TestSum(t *testing.T) {
	tests := []struct {
		name     string
		values   []Money
		expected Money
	}{
		{"Empty", []Money{}, Zero()},
		{"Single", []Money{Minor(100)}, Minor(100)},
		{"Multiple", []Money{Minor(100), Minor(200), Minor(300)}, Minor(600)},
		{"With negatives", []Money{Minor(100), Minor(-50), Minor(200)}, Minor(250)},
		{"All zero", []Money{Minor(0), Minor(0), Minor(0)}, Minor(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Sum(tt.values...)
			if !result.Equal(tt.expected) {
				t.Errorf("Sum: got %v, want %v", result, tt.expected)
			}
		})
	}
}

func BenchmarkMoneyAdd(b *testing.B) {
	m1 := Minor(100)
	m2 := Minor(200)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m1.Add(m2)
	}
}

func BenchmarkMoneyString(b *testing.B) {
	m := Minor(4900)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.String()
	}
}

func BenchmarkMoneyJSON(b *testing.B) {
	m := Minor(4900)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = json.Marshal(m)
	}
}
