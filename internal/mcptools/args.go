package mcptools

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func arguments(request mcp.CallToolRequest) (map[string]any, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return nil, errors.New("invalid arguments")
	}
	return args, nil
}

func stringArg(args map[string]any, name string, required bool) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("'%s' argument is required", name)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("'%s' argument must be a string", name)
	}
	if required && s == "" {
		return "", fmt.Errorf("'%s' argument must not be empty", name)
	}
	return s, nil
}

// numberArg reads an optional number; JSON numbers arrive as float64.
func numberArg(args map[string]any, name string) (float64, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("'%s' argument must be a number", name)
	}
}

func boolArg(args map[string]any, name string) (bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("'%s' argument must be a boolean", name)
	}
	return b, nil
}

func stringsArg(args map[string]any, name string) ([]string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("'%s' argument must be a list of strings", name)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("'%s' argument must be a list of strings", name)
	}
}
