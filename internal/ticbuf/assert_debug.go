//go:build netdebug

package ticbuf

import "fmt"

func assertf(format string, args ...any) {
	panic(fmt.Sprintf("ticbuf: "+format, args...))
}
