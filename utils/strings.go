package utils

import (
	"sync"
	"unsafe"
)

var interned sync.Map

// Intern returns a shared string for buf. It is meant for the small set of
// values repeated on every request, such as HTTP methods used as metric
// labels.
func Intern(buf []byte) string {
	if v, ok := interned.Load(BytesToString(buf)); ok {
		return v.(string)
	}

	s := string(buf)
	v, _ := interned.LoadOrStore(s, s)
	return v.(string)
}

func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return *(*string)(unsafe.Pointer(&b))
}
