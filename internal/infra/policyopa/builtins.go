package policyopa

import "github.com/open-policy-agent/opa/ast"

var allowedBuiltins = map[string]struct{}{
	"abs":                   {},
	"assign":                {},
	"ceil":                  {},
	"concat":                {},
	"contains":              {},
	"count":                 {},
	"div":                   {},
	"endswith":              {},
	"eq":                    {},
	"equal":                 {},
	"floor":                 {},
	"format_int":            {},
	"format_number":         {},
	"gt":                    {},
	"gte":                   {},
	"is_number":             {},
	"is_string":             {},
	"lower":                 {},
	"lt":                    {},
	"lte":                   {},
	"max":                   {},
	"min":                   {},
	"minus":                 {},
	"mul":                   {},
	"neq":                   {},
	"object.get":            {},
	"object.keys":           {},
	"object.remove":         {},
	"object.union":          {},
	"plus":                  {},
	"pow":                   {},
	"regex.match":           {},
	"replace":               {},
	"round":                 {},
	"sort":                  {},
	"split":                 {},
	"sprintf":               {},
	"startswith":            {},
	"substring":             {},
	"sum":                   {},
	"time.parse_rfc3339_ns": {},
	"trim":                  {},
	"trim_left":             {},
	"trim_right":            {},
	"upper":                 {},
}

// filterBuiltins keeps only pure builtins; anything that can reach the network
// or the host is removed from the compiler capabilities.
func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
