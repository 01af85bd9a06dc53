/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package segment

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Candidate is a user supplied entry that has not been validated yet.
type Candidate struct {
	Locator      string   `json:"url" validate:"required"`
	StartOffset  *float64 `json:"startTime,omitempty" validate:"omitempty,gte=0"`
	EndOffset    *float64 `json:"endTime,omitempty" validate:"omitempty,gte=0"`
	Title        *string  `json:"title,omitempty"`
	FadeOverride *bool    `json:"fadeOverride,omitempty"`

	// set when a decoded document carried a non-string title
	titleNotString bool
}

// ValidationError lists every rule a candidate violated.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid segment: " + strings.Join(e.Problems, "; ")
}

// ErrInvalid matches any *ValidationError through errors.Is.
var ErrInvalid = errors.New("invalid segment")

// Is lets callers test errors.Is(err, ErrInvalid).
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Result is the outcome of Validate.
type Result struct {
	OK         bool
	ResolvedID string
	Problems   []string
}

// Err converts a failed result into a *ValidationError.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &ValidationError{Problems: r.Problems}
}

const idChars = `[A-Za-z0-9_-]`

var (
	bareIDPattern = regexp.MustCompile(`^` + idChars + `{11}$`)

	// Checked in order; the first match wins.
	locatorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`youtube\.com/watch\?v=(` + idChars + `{11})(?:[^A-Za-z0-9_-]|$)`),
		regexp.MustCompile(`youtu\.be/(` + idChars + `{11})(?:[^A-Za-z0-9_-]|$)`),
		regexp.MustCompile(`youtube(?:-nocookie)?\.com/(?:embed|v|shorts|live)/(` + idChars + `{11})(?:[^A-Za-z0-9_-]|$)`),
		regexp.MustCompile(`[?&]v=(` + idChars + `{11})(?:[^A-Za-z0-9_-]|$)`),
	}
)

// ExtractIdentifier returns the canonical 11 character video id contained in
// locator, which may be a bare id or one of the recognised URL shapes.
func ExtractIdentifier(locator string) (string, bool) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", false
	}
	if bareIDPattern.MatchString(locator) {
		return locator, true
	}
	for _, pattern := range locatorPatterns {
		if m := pattern.FindStringSubmatch(locator); m != nil {
			return m[1], true
		}
	}
	return "", false
}

var (
	validateOnce sync.Once
	structRules  *validator.Validate
)

func rules() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if i := strings.IndexByte(name, ','); i >= 0 {
				name = name[:i]
			}
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		structRules = v
	})
	return structRules
}

// Validate checks a candidate and reports all violated rules.
func Validate(c Candidate) Result {
	c.Locator = strings.TrimSpace(c.Locator)

	var problems []string
	if err := rules().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return Result{Problems: []string{err.Error()}}
		}
		for _, fe := range fieldErrs {
			problems = append(problems, friendlyMessage(fe))
		}
	}

	resolved := ""
	if c.Locator != "" {
		id, ok := ExtractIdentifier(c.Locator)
		if ok {
			resolved = id
		} else {
			problems = append(problems, "url does not contain a recognizable video id")
		}
	}

	start := 0.0
	if c.StartOffset != nil {
		start = *c.StartOffset
	}
	if c.EndOffset != nil && *c.EndOffset <= start {
		problems = append(problems, "endTime must be greater than startTime")
	}

	if c.titleNotString {
		problems = append(problems, "title must be a string")
	}

	if len(problems) > 0 {
		return Result{Problems: problems}
	}
	return Result{OK: true, ResolvedID: resolved}
}

func friendlyMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
