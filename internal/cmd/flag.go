package cmd

import (
	"flag"
	"strings"

	"github.com/AdguardTeam/golibs/stringutil"
)

// stringSliceValue represent a struct with a slice of strings that can be
// defined as a flag for [flag.FlagSet].
type stringSliceValue struct {
	// values is the pointer to a slice of string to store parsed values.
	values *[]string

	// isSet is false until the corresponding flag is met for the first time.
	// When the flag is found, the default value is overwritten with zero value.
	isSet bool
}

// newStringSliceValue returns a pointer to stringSliceValue with the given
// value.
func newStringSliceValue(p *[]string) (out *stringSliceValue) {
	return &stringSliceValue{
		values: p,
		isSet:  false,
	}
}

// type check
var _ flag.Value = (*stringSliceValue)(nil)

// Set implements the [flag.Value] interface for *stringSliceValue.
func (i *stringSliceValue) Set(s string) (err error) {
	if !i.isSet {
		i.isSet = true
		*i.values = []string{}
	}

	*i.values = append(*i.values, s)

	return nil
}

// String implements the [flag.Value] interface for *stringSliceValue.
func (i *stringSliceValue) String() (out string) {
	if i == nil || i.values == nil {
		return ""
	}

	sb := &strings.Builder{}
	for idx, v := range *i.values {
		if idx > 0 {
			stringutil.WriteToBuilder(sb, ",")
		}

		stringutil.WriteToBuilder(sb, v)
	}

	return sb.String()
}
