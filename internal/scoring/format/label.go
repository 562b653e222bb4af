package format

import (
	"context"
	"fmt"
	"time"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"

	lua "github.com/yuin/gopher-lua"
)

// Labeler maps a zero-indexed problem position to its display label.
type Labeler func(index int) (string, error)

// LabelerForCourse returns the course's problem labeler: the format default,
// or the course's Lua label script when one is configured. The script must be
// a Lua expression evaluating to a function of one integer returning a string.
func LabelerForCourse(c *model.Course, f Format, scriptTimeout time.Duration) Labeler {
	if c.ProblemLabelScript == "" {
		return func(index int) (string, error) {
			return f.LabelForProblem(index), nil
		}
	}
	return scriptLabeler(c.ProblemLabelScript, scriptTimeout)
}

// scriptLabeler runs the user-supplied script in a fresh Lua state with no
// libraries opened, so it has no access to host state, and a deadline bounds
// its execution.
func scriptLabeler(script string, timeout time.Duration) Labeler {
	return func(index int) (string, error) {
		L := lua.NewState(lua.Options{SkipOpenLibs: true})
		defer L.Close()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		L.SetContext(ctx)

		if err := L.DoString("return " + script); err != nil {
			return "", fmt.Errorf("label script: %v: %w", err, common.ErrValidation)
		}
		fn, ok := L.Get(-1).(*lua.LFunction)
		if !ok {
			return "", fmt.Errorf("label script must evaluate to a function: %w", common.ErrValidation)
		}
		L.Pop(1)

		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LNumber(index)); err != nil {
			return "", fmt.Errorf("label script: %v: %w", err, common.ErrValidation)
		}
		ret := L.Get(-1)
		L.Pop(1)

		s, ok := ret.(lua.LString)
		if !ok {
			return "", fmt.Errorf("label script must return a string: %w", common.ErrValidation)
		}
		return string(s), nil
	}
}

// ValidateLabelScript checks a course's labeler against index 0, the way every
// course with at least one problem will use it.
func ValidateLabelScript(c *model.Course, f Format, scriptTimeout time.Duration) error {
	_, err := LabelerForCourse(c, f, scriptTimeout)(0)
	return err
}
