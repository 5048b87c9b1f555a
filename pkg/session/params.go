package session

import (
	"fmt"
	"strconv"
)

// Kind denotes the type of a command parameter
type Kind int

const (

	// KindString denotes a free-form parameter
	KindString Kind = iota

	// KindInt denotes an integer parameter
	KindInt

	// KindFloat denotes a floating point parameter
	KindFloat
)

// Param denotes a declared command parameter
type Param struct {
	Name string

	Kind Kind

	// Default is used if the parameter is absent or invalid (nil: parameter stays absent)
	Default any

	// Validate checks a parsed value, if set
	Validate func(v any) error
}

// Args denotes the parsed parameters of a command. Absent parameters without default are
// not contained.
type Args map[string]any

// Has returns if a parameter is present
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Int returns an integer parameter (zero if absent)
func (a Args) Int(name string) int {
	v, _ := a[name].(int)
	return v
}

// Float returns a floating point parameter (zero if absent)
func (a Args) Float(name string) float64 {
	v, _ := a[name].(float64)
	return v
}

// String returns a free-form parameter and if it is present
func (a Args) String(name string) (string, bool) {
	v, ok := a[name].(string)
	return v, ok
}

// Notice denotes a parameter that was replaced by its default
type Notice struct {
	Param string
	Input string
	Err   error
}

// String fulfils the Stringer interface
func (n Notice) String() string {
	return fmt.Sprintf("invalid %s `%s` (%s), using default", n.Param, n.Input, n.Err)
}

// ParseArgs parses tokens according to the declared parameters. Surplus tokens are
// ignored, invalid values fall back to the default of their parameter.
func ParseArgs(params []Param, tokens []string) (Args, []Notice) {
	var (
		args    = make(Args, len(params))
		notices []Notice
	)

	for i, p := range params {
		if i >= len(tokens) {
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}

		v, err := p.parse(tokens[i])
		if err == nil {
			args[p.Name] = v
			continue
		}

		notices = append(notices, Notice{Param: p.Name, Input: tokens[i], Err: err})
		if p.Default != nil {
			args[p.Name] = p.Default
		}
	}

	return args, notices
}

func (p Param) parse(token string) (v any, err error) {
	switch p.Kind {
	case KindInt:
		v, err = strconv.Atoi(token)
	case KindFloat:
		v, err = strconv.ParseFloat(token, 64)
	default:
		v = token
	}
	if err != nil {
		if nerr, ok := err.(*strconv.NumError); ok {
			err = nerr.Err
		}
		return nil, err
	}

	if p.Validate != nil {
		if err := p.Validate(v); err != nil {
			return nil, err
		}
	}

	return v, nil
}

func intRange(lo, hi int) func(v any) error {
	return func(v any) error {
		if i := v.(int); i < lo || i > hi {
			return fmt.Errorf("out of range [%d, %d]", lo, hi)
		}
		return nil
	}
}

func floatRange(loExclusive, hi float64) func(v any) error {
	return func(v any) error {
		if f := v.(float64); !(f > loExclusive && f <= hi) {
			return fmt.Errorf("out of range (%g, %g]", loExclusive, hi)
		}
		return nil
	}
}
