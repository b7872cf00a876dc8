//go:build !unix

package errors

import (
	"errors"
	"syscall"
)

func classifyErrno(err error) Kind {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNABORTED):
		return KindReset
	}
	return KindOther
}
