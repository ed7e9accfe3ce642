package units

import "strings"

func moduleCycleFromLoadStack(stack []string, next string) ([]string, bool) {
	for idx, key := range stack {
		if key == next {
			cycle := append(append([]string(nil), stack[idx:]...), next)
			return cycle, true
		}
	}
	return nil, false
}

func formatModuleCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
