//go:build !linux

package mixer

func raiseThreadPriority() error {
	return nil
}
