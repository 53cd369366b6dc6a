package cli

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"watchlist-dashboard/internal/models"
)

var usdPattern = regexp.MustCompile(`^-?\$\d{1,3}(,\d{3})*\.\d{2}$`)

// For any amount, FormatUSD groups digits in threes, keeps two decimals and
// parses back to the rounded value.
func TestProperty_USDFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatUSD produces grouped dollar amounts", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatUSD(amount)
			if !usdPattern.MatchString(formatted) {
				t.Logf("Invalid format for %f: %s", amount, formatted)
				return false
			}
			if amount < 0 && math.Round(amount*100) != 0 && !strings.HasPrefix(formatted, "-$") {
				t.Logf("Expected -$ prefix for %f, got %s", amount, formatted)
				return false
			}
			return true
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("FormatUSD preserves value", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatUSD(amount)
			parsed := parseUSD(formatted)

			rounded := math.Round(amount*100) / 100
			if diff := math.Abs(parsed - rounded); diff > 0.01 {
				t.Logf("Value not preserved: original=%f, formatted=%s, parsed=%f", amount, formatted, parsed)
				return false
			}
			return true
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("FormatPercent carries sign and suffix", prop.ForAll(
		func(value float64) bool {
			formatted := FormatPercent(value)
			if !strings.HasSuffix(formatted, "%") {
				return false
			}
			if value > 0 && !strings.HasPrefix(formatted, "+") {
				t.Logf("Expected + prefix for positive %f, got %s", value, formatted)
				return false
			}
			if value < 0 && !strings.HasPrefix(formatted, "-") {
				t.Logf("Expected - prefix for negative %f, got %s", value, formatted)
				return false
			}
			return true
		},
		gen.Float64Range(-100, 100),
	))

	properties.Property("TruncateString never exceeds the limit", prop.ForAll(
		func(s string, n int) bool {
			out := TruncateString(s, n)
			if len([]rune(out)) > n {
				return false
			}
			if len([]rune(s)) <= n {
				return out == s
			}
			return true
		},
		gen.AnyString(),
		gen.IntRange(0, 40),
	))

	properties.Property("PadRight and PadLeft reach the width", prop.ForAll(
		func(s string, n int) bool {
			right := PadRight(s, n)
			left := PadLeft(s, n)
			want := n
			if len(s) > n {
				want = len(s)
			}
			return len(right) == want && len(left) == want &&
				strings.HasPrefix(right, s) && strings.HasSuffix(left, s)
		},
		gen.AlphaString(),
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}

// parseUSD parses a FormatUSD string back to float64.
func parseUSD(s string) float64 {
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")

	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	if negative {
		parsed = -parsed
	}
	return parsed
}

func TestUSDFormatExamples(t *testing.T) {
	testCases := []struct {
		amount   float64
		expected string
	}{
		{0, "$0.00"},
		{1, "$1.00"},
		{999.999, "$1,000.00"},
		{1000, "$1,000.00"},
		{100000, "$100,000.00"},
		{1234567.891, "$1,234,567.89"},
		{-1234.56, "-$1,234.56"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := FormatUSD(tc.amount); got != tc.expected {
				t.Errorf("FormatUSD(%f) = %s, want %s", tc.amount, got, tc.expected)
			}
		})
	}
}

func TestFormatPercentExamples(t *testing.T) {
	testCases := []struct {
		value    float64
		expected string
	}{
		{0, "0.00%"},
		{1.5, "+1.50%"},
		{-2.5, "-2.50%"},
		{100, "+100.00%"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := FormatPercent(tc.value); got != tc.expected {
				t.Errorf("FormatPercent(%f) = %s, want %s", tc.value, got, tc.expected)
			}
		})
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := FormatTarget(nil); got != "-" {
		t.Errorf("FormatTarget(nil) = %q", got)
	}
	if got := FormatTarget(models.Float(169)); got != "$169.00" {
		t.Errorf("FormatTarget(169) = %q", got)
	}
	if got := FormatDistance(models.Float(-2.5)); got != "-2.50%" {
		t.Errorf("FormatDistance = %q", got)
	}
	if got := FormatDistance(nil); got != "-" {
		t.Errorf("FormatDistance(nil) = %q", got)
	}
	if got := FormatChange(-3.2, -1.9); got != "-3.20 (-1.90%)" {
		t.Errorf("FormatChange = %q", got)
	}
	if got := FormatChange(1, 0.5); got != "+1.00 (+0.50%)" {
		t.Errorf("FormatChange = %q", got)
	}

	durations := map[time.Duration]string{
		250 * time.Millisecond: "250ms",
		42 * time.Second:       "42s",
		90 * time.Second:       "1m 30s",
		2*time.Hour + time.Minute: "2h 1m",
		50 * time.Hour:         "2d 2h",
	}
	for d, want := range durations {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}

	now := time.Now()
	if got := FormatAge(now.Add(-5*time.Second), now); got != "5s ago" {
		t.Errorf("FormatAge = %q", got)
	}
	if got := FormatAge(time.Time{}, now); got != "never" {
		t.Errorf("FormatAge(zero) = %q", got)
	}

	labels := map[models.Status]string{
		models.StatusBuy: "BUY", models.StatusAlert: "ALERT",
		models.StatusNear: "NEAR", models.StatusHold: "HOLD",
	}
	for s, want := range labels {
		if got := StatusLabel(s); got != want {
			t.Errorf("StatusLabel(%s) = %q", s, got)
		}
	}
}
