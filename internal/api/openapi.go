package api

import (
	"fmt"

	"github.com/mattjoyce/charlie/internal/task"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document with the fixed routes plus
// one launch operation per configured task.
func buildOpenAPIDoc(tasks []task.Task) map[string]any {
	paths := map[string]any{
		"/tasks":        map[string]any{"get": operation("listTasks", "List configured tasks", "200")},
		"/runs":         map[string]any{"get": operation("listRuns", "Recent runs, newest first", "200")},
		"/runs/{runID}": map[string]any{"get": operation("getRun", "One run", "200", "404")},
		"/output":       map[string]any{"get": operation("getOutput", "Output of the current run", "200")},
		"/run":          map[string]any{"post": operation("runCommand", "Run an ad-hoc command", "202", "400", "422")},
		"/cancel":       map[string]any{"post": operation("cancelRun", "Cancel the current run", "200", "409")},
		"/events":       map[string]any{"get": operation("streamEvents", "Server-sent run events", "200")},
	}

	for _, t := range tasks {
		op := operation("run__"+t.Name, fmt.Sprintf("Run %s: %s", t.Name, t.ShellCommand()), "202", "422")
		op["tags"] = []string{"tasks"}
		paths[fmt.Sprintf("/run/%s", t.Name)] = map[string]any{"post": op}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "charlie",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func operation(id, summary string, codes ...string) map[string]any {
	responses := map[string]any{}
	for _, code := range codes {
		responses[code] = map[string]any{"description": statusText(code)}
	}
	return map[string]any{
		"operationId": id,
		"summary":     summary,
		"responses":   responses,
		"security":    []any{map[string]any{"BearerAuth": []string{}}},
	}
}

func statusText(code string) string {
	switch code {
	case "200":
		return "OK"
	case "202":
		return "Run started"
	case "400":
		return "Bad request"
	case "404":
		return "Not found"
	case "409":
		return "No active run"
	case "422":
		return "Launch failed"
	default:
		return code
	}
}
