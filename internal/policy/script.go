// Copyright 2026 Marcelo Cantos
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"

	"github.com/spf13/afero"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/marcelocantos/vssh/internal/pipeline"
)

// CheckFunc is the function a policy script must define. It is called
// once per stage with a struct of name, argv, stdin and stdout (the
// redirect paths, "" when absent) and answers:
//
//	None or True   no objection
//	False          deny
//	"reason"       deny with that reason ("" means no objection)
const CheckFunc = "check"

// Script is a loaded Starlark policy.
type Script struct {
	path  string
	check starlark.Callable
}

// Load compiles the script at path and looks up its check function.
func Load(fsys afero.Fs, path string) (*Script, error) {
	src, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read policy script: %w", err)
	}
	return Compile(path, src)
}

// Compile builds a Script from source; path is used in error messages.
func Compile(path string, src []byte) (*Script, error) {
	thread := &starlark.Thread{Name: "policy-load"}
	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, path, src, nil)
	if err != nil {
		return nil, fmt.Errorf("load policy script: %w", err)
	}
	fn, ok := globals[CheckFunc].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("policy script %s: no %s function", path, CheckFunc)
	}
	return &Script{path: path, check: fn}, nil
}

// Path returns where the script was loaded from.
func (s *Script) Path() string {
	return s.path
}

// Evaluate calls the script's check function. A script that fails or
// answers with an unexpected type denies the command.
func (s *Script) Evaluate(c *pipeline.Command) *Result {
	argv := make([]starlark.Value, len(c.Args))
	for i, a := range c.Args {
		argv[i] = starlark.String(a)
	}
	cmd := starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"name":   starlark.String(c.Name),
		"argv":   starlark.NewList(argv),
		"stdin":  starlark.String(c.InputRedirect),
		"stdout": starlark.String(c.OutputRedirect),
	})

	// Threads are cheap and not safe for concurrent use.
	thread := &starlark.Thread{Name: "policy-check"}
	v, err := starlark.Call(thread, s.check, starlark.Tuple{cmd}, nil)
	if err != nil {
		return s.deny(fmt.Sprintf("policy script failed: %v", err))
	}

	switch v := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		if v {
			return &Result{Decision: Allow, RuleID: s.ruleID()}
		}
		return s.deny("denied by policy script")
	case starlark.String:
		if v == "" {
			return &Result{Decision: Allow, RuleID: s.ruleID()}
		}
		return s.deny(string(v))
	default:
		return s.deny(fmt.Sprintf("policy script: %s returned %s", CheckFunc, v.Type()))
	}
}

func (s *Script) deny(reason string) *Result {
	return &Result{Decision: Deny, Reason: reason, RuleID: s.ruleID()}
}

func (s *Script) ruleID() string {
	return "script:" + s.path
}
