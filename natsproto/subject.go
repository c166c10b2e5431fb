package natsproto

import (
	"strings"

	"github.com/L1ghtError/LimbWorker/errors"
)

// ValidSubject reports whether subject can appear on a control line. It must
// be non-empty, free of whitespace and control characters, and have no
// empty tokens.
func ValidSubject(subject string) bool {
	if subject == "" {
		return false
	}
	if strings.ContainsFunc(subject, badSubjectRune) {
		return false
	}
	for _, token := range strings.Split(subject, ".") {
		if token == "" {
			return false
		}
	}
	return true
}

func validQueue(queue string) bool {
	return !strings.ContainsFunc(queue, badSubjectRune)
}

func badSubjectRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == 0
}

func checkSubject(method, role, subject string) error {
	if !ValidSubject(subject) {
		return errors.Newf(errors.KindInvalidInput, "%s: bad %s %q", method, role, subject)
	}
	return nil
}

// checkHeader rejects keys and values that would break the header block.
func checkHeader(hdr Header) error {
	for k, vs := range hdr {
		if k == "" || strings.ContainsAny(k, ": \t\r\n") {
			return errors.Newf(errors.KindInvalidInput, "Publish: bad header key %q", k)
		}
		for _, v := range vs {
			if strings.ContainsAny(v, "\r\n") {
				return errors.Newf(errors.KindInvalidInput, "Publish: bad value for header %s", k)
			}
		}
	}
	return nil
}
