package procadapter

import "fmt"

type errUnknownSignal string

func (e errUnknownSignal) Error() string {
	return fmt.Sprintf("procadapter: unknown signal %q", string(e))
}
