package database

import (
	"fmt"
	"strconv"
	"strings"
)

// A FetchPlan maps field paths to eager-load depths. "*:-1" loads the
// whole connected graph; depth 0 stops at the field itself.
type FetchPlan map[string]int

// ParseFetchPlan validates and parses a fetch-plan string. The empty
// plan is valid and loads nothing eagerly.
func ParseFetchPlan(plan string) (FetchPlan, error) {
	if plan == "" {
		return nil, nil
	}
	parsed := make(FetchPlan)
	for _, part := range strings.Fields(plan) {
		sep := strings.LastIndex(part, ":")
		if sep <= 0 || sep == len(part)-1 {
			return nil, fmt.Errorf("fetch plan %q is invalid at part %q", plan, part)
		}
		depth, err := strconv.Atoi(part[sep+1:])
		if err != nil || depth < -2 {
			return nil, fmt.Errorf("fetch plan %q has an invalid depth in part %q", plan, part)
		}
		parsed[part[:sep]] = depth
	}
	return parsed, nil
}

// Depth returns the configured depth for a field, falling back to the
// "*" wildcard, then to 0.
func (fp FetchPlan) Depth(field string) int {
	if fp == nil {
		return 0
	}
	if depth, ok := fp[field]; ok {
		return depth
	}
	if depth, ok := fp["*"]; ok {
		return depth
	}
	return 0
}
