package counter

import "testing"

func TestCountOccurrences(t *testing.T) {
	cases := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"no match", "hello chat", 0},
		{"single", "meow", 1},
		{"case insensitive", "MeOw", 1},
		{"two separated", "meow meow", 2},
		{"adjacent run", "meowmeow", 2},
		{"embedded", "xxmeowxx", 1},
		{"prefix only", "meo meow", 1},
		{"mixed case sentence", "MEOW everyone, Meow!", 2},
		{"unicode around", "猫 meow 猫", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CountOccurrences(tc.text); got != tc.want {
				t.Errorf("CountOccurrences(%q) = %d, want %d", tc.text, got, tc.want)
			}
		})
	}
}

// Overlap semantics: the scan resumes one rune past each match start, so a
// string built by repeating the pattern with maximal overlap yields one hit
// per valid start position.
func TestCountOccurrencesOverlapping(t *testing.T) {
	// "meomeowow" contains "meow" once starting at index 3 only; the real
	// overlap case for this pattern is best shown with a synthetic doubling.
	if got := CountOccurrences("meowmeowmeow"); got != 3 {
		t.Fatalf("expected 3 occurrences, got %d", got)
	}
	// Every start position is probed: "mmeow" still finds the shifted match.
	if got := CountOccurrences("mmeow"); got != 1 {
		t.Fatalf("expected 1 occurrence, got %d", got)
	}
}
