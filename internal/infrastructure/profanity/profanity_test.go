package profanity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_ContainsProfanity(t *testing.T) {
	filter, err := Default()
	require.NoError(t, err)

	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"hola, ¿qué tal?", false},
		{"the word is class", false},
		{"scrapbook", false},
		{"what the fuck", true},
		{"FUCK", true},
		{"sh1t happens", true},
		{"you $h!t", true},
		{"fuuuck off", true},
		{"b*i*t*c*h", true},
		{"crap.", true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, filter.ContainsProfanity(tt.text))
		})
	}
}

func TestFilter_Empty(t *testing.T) {
	assert.False(t, New(nil).ContainsProfanity("shit"))

	var nilFilter *Filter
	assert.False(t, nilFilter.ContainsProfanity("shit"))
}
