//go:build !netdebug

package ticbuf

func assertf(string, ...any) {}
