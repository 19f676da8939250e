// Copyright 2026 Marcelo Cantos
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/marcelocantos/vssh/internal/pipeline"
)

// Rule is a named, testable deterministic rule.
type Rule struct {
	ID          string
	Description string
	Check       func(c *pipeline.Command) *Result // nil = no opinion
}

// Builtin returns the stock deny rules, for engines that opt in.
func Builtin() []Rule {
	return []Rule{
		{
			ID:          "deny-rm-catastrophic",
			Description: "Block recursive removal of root, home, or current directory",
			Check:       checkRmCatastrophic,
		},
		{
			ID:          "deny-redirect-clobber",
			Description: "Block a stage whose > target is also its < source",
			Check:       checkRedirectClobber,
		},
	}
}

func checkRmCatastrophic(c *pipeline.Command) *Result {
	if filepath.Base(c.Name) != "rm" {
		return nil
	}
	args := c.Args[1:]
	if !hasAnyFlag(args, "-r", "-R", "--recursive") {
		return nil
	}
	for _, arg := range args {
		if arg == "" || arg[0] == '-' {
			continue
		}
		cleaned := filepath.Clean(arg)
		if cleaned == "/" || cleaned == "." || cleaned == ".." ||
			arg == "~" || strings.HasPrefix(arg, "~/") {
			return &Result{
				Decision: Deny,
				Reason:   fmt.Sprintf("refusing to recursively remove %q", arg),
				RuleID:   "deny-rm-catastrophic",
			}
		}
	}
	return nil
}

// The output file is truncated before the program reads its input.
func checkRedirectClobber(c *pipeline.Command) *Result {
	if c.InputRedirect == "" || c.OutputRedirect == "" {
		return nil
	}
	if filepath.Clean(c.InputRedirect) != filepath.Clean(c.OutputRedirect) {
		return nil
	}
	return &Result{
		Decision: Deny,
		Reason:   fmt.Sprintf("%s would be truncated before it is read", c.OutputRedirect),
		RuleID:   "deny-redirect-clobber",
	}
}

// hasAnyFlag checks whether any element in args matches one of the given flags.
// Handles exact match, combined short flags, short flag with value, and
// long flag with =.
func hasAnyFlag(args []string, flags ...string) bool {
	for _, arg := range args {
		if arg == "" || arg[0] != '-' {
			continue
		}
		for _, flag := range flags {
			if arg == flag {
				return true
			}
			// Short flag: "-r" matches "-rf" (combined)
			if len(flag) == 2 && flag[0] == '-' && flag[1] != '-' &&
				len(arg) > 2 && arg[0] == '-' && arg[1] != '-' {
				if strings.ContainsRune(arg[1:], rune(flag[1])) {
					return true
				}
			}
			// Long flag with =: "--force" matches "--force=yes"
			if len(flag) > 2 && flag[0:2] == "--" && strings.HasPrefix(arg, flag+"=") {
				return true
			}
		}
	}
	return false
}
