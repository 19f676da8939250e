package pipeline

import (
	"strings"
)

// ParseStage turns one raw stage into a Command. Tokens are split on
// whitespace; < FILE and > FILE pairs may appear anywhere and are removed
// from the argument list. An operator with no following token is kept as
// a literal argument. A stage left with no arguments is ErrEmptyCommand.
func ParseStage(raw string) (*Command, error) {
	args := strings.Fields(raw)
	c := &Command{}

	// Scan without advancing after a removal so the token that slides into
	// position i is examined too.
	for i := 0; i < len(args); {
		switch {
		case args[i] == OpRedirectIn && i+1 < len(args):
			c.InputRedirect = args[i+1]
			args = append(args[:i], args[i+2:]...)
		case args[i] == OpRedirectOut && i+1 < len(args):
			c.OutputRedirect = args[i+1]
			args = append(args[:i], args[i+2:]...)
		default:
			i++
		}
	}

	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	c.Name = args[0]
	c.Args = args
	return c, nil
}
