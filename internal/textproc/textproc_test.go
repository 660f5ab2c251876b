package textproc

import (
	"math"
	"reflect"
	"testing"

	"github.com/trendscout/backend/internal/storage/models"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "  Hola   mundo \n", "Hola mundo"},
		{"entities", "Tips &amp; trucos", "Tips & trucos"},
		{"markup", "<p>Armar <b>PC</b> gamer</p><script>x()</script>", "Armar PC gamer"},
		{"links", "Mira esto https://example.com/a?b=1 ahora", "Mira esto ahora"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.input); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Cómo armar una PC gamer: tutorial de IA para principiantes!")
	want := []string{"armar", "gamer", "tutorial", "principiantes"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize() = %v, want %v", got, want)
	}

	if got := Tokenize("   "); got != nil {
		t.Errorf("Tokenize(blank) = %v, want nil", got)
	}
}

func TestTopicKey(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"¡NUEVO iPhone 16: review completa!", "nuevo iphone 16 review completa"},
		{"one two three four five six seven eight nine ten", "one two three four five six seven eight"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := TopicKey(tt.title); got != tt.want {
			t.Errorf("TopicKey(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}

	if TopicKey("Tutorial IA - parte 1") != TopicKey("tutorial ia parte 1") {
		t.Error("TopicKey() not stable across punctuation and case")
	}
}

func TestTopTerms(t *testing.T) {
	docs := [][]string{
		{"gamer", "gamer", "tutorial"},
		{"gamer", "review"},
		{"tutorial", "linux"},
	}

	got := TopTerms(docs, 3)
	if len(got) != 3 {
		t.Fatalf("TopTerms() returned %d terms, want 3", len(got))
	}
	if got[0].Term != "gamer" {
		t.Errorf("top term = %s, want gamer", got[0].Term)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Weight > got[i-1].Weight {
			t.Errorf("terms not sorted by weight: %+v", got)
		}
	}

	// equal weights fall back to alphabetical order
	tie := TopTerms([][]string{{"zeta"}, {"alpha"}}, 2)
	if tie[0].Term != "alpha" || tie[1].Term != "zeta" {
		t.Errorf("tie order = %+v, want alpha then zeta", tie)
	}
	if math.Abs(tie[0].Weight-tie[1].Weight) > 1e-12 {
		t.Errorf("tie weights differ: %+v", tie)
	}

	if TopTerms(nil, 5) != nil {
		t.Error("TopTerms(nil) != nil")
	}
}

func TestJaccard(t *testing.T) {
	set := TermSet([]models.TermWeight{{Term: "gamer"}, {Term: "tutorial"}, {Term: "linux"}})

	tests := []struct {
		name   string
		tokens []string
		want   float64
	}{
		{"identical", []string{"gamer", "tutorial", "linux"}, 1},
		{"half", []string{"gamer", "cocina"}, 0.25},
		{"duplicates ignored", []string{"gamer", "gamer", "cocina"}, 0.25},
		{"disjoint", []string{"cocina"}, 0},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Jaccard(tt.tokens, set); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Jaccard() = %v, want %v", got, tt.want)
			}
		})
	}
}
