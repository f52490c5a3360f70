// Package profanity flags chat text containing banned words, including the
// usual leetspeak and separator obfuscations.
package profanity

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
)

//go:embed words.json
var embeddedWords []byte

var (
	defaultFilter *Filter
	defaultErr    error
	once          sync.Once

	separators = regexp.MustCompile(`[\s_.\-*/\\|,]+`)

	leet = strings.NewReplacer(
		"@", "a", "4", "a",
		"3", "e", "€", "e",
		"1", "i", "!", "i", "¡", "i",
		"0", "o", "()", "o",
		"$", "s", "5", "s",
		"7", "t", "+", "t",
		"9", "g", "8", "b",
		"ph", "f",
	)
)

type Filter struct {
	regex *regexp.Regexp
}

// Default returns the shared filter built from the embedded word list.
func Default() (*Filter, error) {
	once.Do(func() {
		var words []string
		if err := json.Unmarshal(embeddedWords, &words); err != nil {
			defaultErr = fmt.Errorf("load banned words: %w", err)
			return
		}
		defaultFilter = New(words)
	})
	return defaultFilter, defaultErr
}

func New(words []string) *Filter {
	patterns := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		patterns = append(patterns, flexible(w))
	}
	if len(patterns) == 0 {
		return &Filter{}
	}

	// Longest first so "fucking" wins over "fuck" in the alternation.
	slices.SortFunc(patterns, func(a, b string) int { return len(b) - len(a) })
	return &Filter{
		regex: regexp.MustCompile(`(?:^|[^\p{L}])(?:` + strings.Join(patterns, "|") + `)(?:$|[^\p{L}])`),
	}
}

// flexible lets every letter repeat and tolerates separators between them,
// so "f.u.u.c.k" still matches "fuck".
func flexible(word string) string {
	var sb strings.Builder
	for i, r := range word {
		if i > 0 {
			sb.WriteString(`[^\p{L}]*`)
		}
		sb.WriteString(regexp.QuoteMeta(string(r)))
		sb.WriteString("+")
	}
	return sb.String()
}

func (f *Filter) ContainsProfanity(text string) bool {
	if f == nil || f.regex == nil || text == "" {
		return false
	}
	return f.regex.MatchString(normalize(text))
}

func normalize(text string) string {
	s := strings.ToLower(text)
	s = strings.Map(func(r rune) rune {
		switch r {
		case 'á', 'à', 'â', 'ä', 'ã', 'å':
			return 'a'
		case 'é', 'è', 'ê', 'ë':
			return 'e'
		case 'í', 'ì', 'î', 'ï':
			return 'i'
		case 'ó', 'ò', 'ô', 'ö', 'õ':
			return 'o'
		case 'ú', 'ù', 'û', 'ü':
			return 'u'
		case 'ñ':
			return 'n'
		case 'ç':
			return 'c'
		}
		return r
	}, s)
	s = leet.Replace(s)
	return separators.ReplaceAllString(s, " ")
}
