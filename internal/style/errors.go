package style

import "fmt"

// ConversionError reports a style fragment that could not be converted.
type ConversionError struct {
	Path string
	Msg  string
	Err  error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

func (e *ConversionError) Unwrap() error { return e.Err }
