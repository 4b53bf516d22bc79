package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/taskflow/internal/scheduler"
)

// builtinFunctions returns the task bodies available to scenarios run on the
// local backend.
func builtinFunctions() *scheduler.Registry {
	r := scheduler.NewRegistry()
	for name, fn := range map[string]scheduler.TaskFunc{
		"identity": identity,
		"sum":      sum,
		"concat":   concat,
		"count":    count,
	} {
		if err := r.Register(name, fn); err != nil {
			panic(err)
		}
	}
	return r
}

// identity returns its single input, or all inputs as a list.
func identity(_ context.Context, inputs []any) (any, error) {
	if len(inputs) == 1 {
		return inputs[0], nil
	}
	return inputs, nil
}

// sum adds numeric inputs. Lists are summed element-wise into the total.
// The result is an int unless a float took part.
func sum(_ context.Context, inputs []any) (any, error) {
	var total float64
	integral := true
	var add func(v any) error
	add = func(v any) error {
		switch n := v.(type) {
		case int:
			total += float64(n)
		case int64:
			total += float64(n)
		case float64:
			total += n
			integral = false
		case []any:
			for _, item := range n {
				if err := add(item); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("sum: %v (%T) is not a number", v, v)
		}
		return nil
	}
	for _, in := range inputs {
		if err := add(in); err != nil {
			return nil, err
		}
	}
	if integral {
		return int(total), nil
	}
	return total, nil
}

// concat joins the string form of its inputs with spaces.
func concat(_ context.Context, inputs []any) (any, error) {
	parts := make([]string, 0, len(inputs))
	for _, in := range inputs {
		parts = append(parts, fmt.Sprint(in))
	}
	return strings.Join(parts, " "), nil
}

// count returns the number of elements of a list or map input.
func count(_ context.Context, inputs []any) (any, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("count: want 1 input, got %d", len(inputs))
	}
	switch v := inputs[0].(type) {
	case []any:
		return len(v), nil
	case map[string]any:
		return len(v), nil
	case string:
		return len(v), nil
	case nil:
		return 0, nil
	}
	return nil, fmt.Errorf("count: %T has no length", inputs[0])
}
