package terminal

import (
	sgr "github.com/foize/go.sgr"
	"rsc.io/qr"
)

var halfBlocks = []rune{' ', '▀', '▄', '█'}

// QR renders text as a QR code two modules per character row, so a join link
// fits in a normal terminal.
func QR(text string) (string, error) {
	code, err := qr.Encode(text, qr.L)
	if err != nil {
		return "", err
	}

	out := make([]rune, 0, code.Size*code.Size/2)
	for y := 0; y < code.Size; y += 2 {
		out = append(out, []rune(sgr.FgWhite+sgr.BgBlack)...)
		for x := 0; x < code.Size; x++ {
			var n int
			if code.Black(x, y) {
				n += 1
			}
			// odd sizes leave the last bottom half blank
			if y+1 < code.Size && code.Black(x, y+1) {
				n += 2
			}
			out = append(out, halfBlocks[n])
		}
		out = append(out, []rune(sgr.Reset)...)
		out = append(out, '\n')
	}
	return string(out), nil
}
