package main

import (
	"context"
	"math/rand/v2"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// wordRound is the round content of the demo translation game.
type wordRound struct {
	Prompt   string   `json:"prompt"`
	Language string   `json:"language"`
	Accepted []string `json:"accepted"`
}

var demoWords = []wordRound{
	{Prompt: "cat", Language: "es", Accepted: []string{"gato", "gata"}},
	{Prompt: "house", Language: "es", Accepted: []string{"casa"}},
	{Prompt: "water", Language: "es", Accepted: []string{"agua"}},
	{Prompt: "book", Language: "es", Accepted: []string{"libro"}},
	{Prompt: "tree", Language: "es", Accepted: []string{"árbol"}},
	{Prompt: "bread", Language: "es", Accepted: []string{"pan"}},
	{Prompt: "window", Language: "es", Accepted: []string{"ventana"}},
	{Prompt: "morning", Language: "es", Accepted: []string{"mañana"}},
}

// wordSource deals each round a word that has not been used yet in this
// game, reshuffling once the list runs out.
type wordSource struct {
	words []wordRound
	order []int
}

func newWordSource(words []wordRound) *wordSource {
	return &wordSource{words: words}
}

func (s *wordSource) NextRound(_ context.Context, round int) (wordRound, error) {
	if round <= 1 || len(s.order) == 0 {
		s.order = rand.Perm(len(s.words))
	}
	i := s.order[0]
	s.order = s.order[1:]
	return s.words[i], nil
}

func (r wordRound) Matches(answer string) bool {
	got := fold(answer)
	if got == "" {
		return false
	}
	for _, a := range r.Accepted {
		if fold(a) == got {
			return true
		}
	}
	return false
}

// fold lowercases and strips accents so "arbol" matches "árbol".
func fold(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(strings.ToLower(strings.TrimSpace(s))) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (r wordRound) String() string {
	return "Translate to " + r.Language + ": " + r.Prompt
}
