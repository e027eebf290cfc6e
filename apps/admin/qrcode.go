package main

import (
	"fmt"

	qr "github.com/skip2/go-qrcode"
)

func (cli *commandLine) qrcode(code, out string, size int) error {
	if err := qr.WriteFile(code, qr.Medium, size, out); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%dx%d) for code %q\n", out, size, size, code)
	return nil
}
