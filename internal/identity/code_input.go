package identity

import (
	"errors"
	"strings"
)

// CodeLength is the number of digits in a one-time passcode.
const CodeLength = 6

// ErrRejectedInput is returned when a keystroke or paste cannot be applied.
// The input is left untouched.
var ErrRejectedInput = errors.New("identity: rejected code input")

// CodeInput models the six single-character passcode cells.
type CodeInput struct {
	cells [CodeLength]string
	focus int
}

// Type applies value to the cell at index. A single digit fills that cell and
// moves focus forward; a full six-digit paste fills every cell at once.
func (c *CodeInput) Type(index int, value string) error {
	if index < 0 || index >= CodeLength {
		return ErrRejectedInput
	}
	value = strings.TrimSpace(value)
	switch {
	case len(value) == 1 && isDigits(value):
		c.cells[index] = value
		if index < CodeLength-1 {
			c.focus = index + 1
		} else {
			c.focus = index
		}
		return nil
	case len(value) == CodeLength && isDigits(value):
		for i := 0; i < CodeLength; i++ {
			c.cells[i] = value[i : i+1]
		}
		c.focus = CodeLength - 1
		return nil
	default:
		return ErrRejectedInput
	}
}

// Paste fills all cells from a six-digit string.
func (c *CodeInput) Paste(value string) error {
	value = strings.TrimSpace(value)
	if len(value) != CodeLength {
		return ErrRejectedInput
	}
	return c.Type(0, value)
}

// Backspace clears the cell at index, or when it is already empty clears the
// previous cell and moves focus there.
func (c *CodeInput) Backspace(index int) error {
	if index < 0 || index >= CodeLength {
		return ErrRejectedInput
	}
	if c.cells[index] != "" {
		c.cells[index] = ""
		c.focus = index
		return nil
	}
	if index == 0 {
		c.focus = 0
		return nil
	}
	c.cells[index-1] = ""
	c.focus = index - 1
	return nil
}

// Code returns the entered digits and whether every cell is filled.
func (c *CodeInput) Code() (string, bool) {
	var b strings.Builder
	complete := true
	for _, cell := range c.cells {
		if cell == "" {
			complete = false
			continue
		}
		b.WriteString(cell)
	}
	return b.String(), complete
}

// Cells returns a copy of the cell contents.
func (c *CodeInput) Cells() [CodeLength]string { return c.cells }

// Focus returns the index of the focused cell.
func (c *CodeInput) Focus() int { return c.focus }

// Reset clears every cell.
func (c *CodeInput) Reset() {
	c.cells = [CodeLength]string{}
	c.focus = 0
}

// ValidCode reports whether code is exactly six ASCII digits.
func ValidCode(code string) bool {
	return len(code) == CodeLength && isDigits(code)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
