// Package termio implements the interactive pairing PIN prompt used by
// cmd/pump-pair, using golang.org/x/term's MakeRaw/Restore pair for raw
// stdin handling.
package termio

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// PINLength is the number of digits the pump's pairing PIN has.
const PINLength = 10

// ReadPIN puts stdin into raw mode, echoes '*' for every digit typed, and
// returns the PIN as soon as the tenth digit is typed; Enter and other
// non-digit keys are ignored. Ctrl-C aborts the
// process after restoring the terminal.
func ReadPIN(prompt string) (pin [10]byte, err error) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return pin, fmt.Errorf("termio: set raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	fmt.Printf("%s\r\n", prompt)

	digits := make([]byte, 0, PINLength)
	buf := make([]byte, 1)
	for len(digits) < PINLength {
		n, readErr := os.Stdin.Read(buf)
		if readErr != nil {
			return pin, fmt.Errorf("termio: read pin: %w", readErr)
		}
		if n == 0 {
			continue
		}
		b := buf[0]
		switch {
		case b == 0x03: // Ctrl-C
			term.Restore(fd, oldState)
			fmt.Printf("\r\n")
			os.Exit(1)
		case b == 0x7F || b == 0x08: // Backspace/Delete
			if len(digits) > 0 {
				digits = digits[:len(digits)-1]
				fmt.Print("\b \b")
			}
		case b >= '0' && b <= '9':
			digits = append(digits, b)
			fmt.Print("*")
		}
	}
	fmt.Printf("\r\n")

	copy(pin[:], digits)
	return pin, nil
}
