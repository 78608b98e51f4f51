package capability

import (
	"context"
	"fmt"
	"strings"
)

// Collaborators are the external systems the built-in capabilities
// call into. The gateway only knows the shape of these calls; the
// implementations live with the deployment.
type Collaborators struct {
	// Tracker runs a read-only issue tracker listing/lookup.
	Tracker func(ctx context.Context, action string, filters map[string]string) (string, error)
	// Docs searches the document space.
	Docs func(ctx context.Context, query string) (string, error)
	// Analytics runs a read-only analytics query.
	Analytics func(ctx context.Context, query string) (string, error)
	// Chart renders a chart and returns a link or attachment ref.
	Chart func(ctx context.Context, spec string) (string, error)
}

// RegisterBuiltins fills the registry with the stock capability set.
// Collaborator fields left nil get a stub that reports the capability
// as unconfigured, so the registry shape stays stable in every
// deployment.
func RegisterBuiltins(reg *Registry, collab Collaborators) {
	reg.Register(&Capability{
		ID:          "gitlab_cli",
		Description: "List and inspect issue tracker items (read-only)",
		Schema: `{"type":"object","properties":{
			"action":{"type":"string","enum":["list","show"]},
			"state":{"type":"string","enum":["opened","closed","all"]},
			"assignee":{"type":"string"},
			"labels":{"type":"string"}}}`,
		Handler: func(ctx context.Context, p Params) (string, error) {
			if collab.Tracker == nil {
				return "", fmt.Errorf("issue tracker is not configured")
			}
			action := p.String("action")
			if action == "" {
				action = "list"
			}
			filters := map[string]string{}
			for _, key := range []string{"state", "assignee", "labels"} {
				if v := p.String(key); v != "" {
					filters[key] = v
				}
			}
			// Degraded path: derive an assignee-scoped listing from the raw query
			if q := p.String("query"); q != "" && len(filters) == 0 {
				if strings.Contains(q, "我的") || strings.Contains(strings.ToLower(q), "my ") {
					filters["assignee"] = "me"
				}
			}
			return collab.Tracker(ctx, action, filters)
		},
	})

	reg.Register(&Capability{
		ID:          "gitlab_mutate",
		Description: "Create or close issue tracker items",
		Mutating:    true,
		Handler: func(ctx context.Context, p Params) (string, error) {
			// Unreachable through the direct executor; the dpa-assistant
			// workflow owns mutations behind confirmation.
			return "", fmt.Errorf("must run inside a workflow")
		},
	})

	reg.Register(&Capability{
		ID:          "doc_search",
		Description: "Search the document space",
		Schema:      `{"type":"object","properties":{"keywords":{"type":"string"}}}`,
		Handler: func(ctx context.Context, p Params) (string, error) {
			if collab.Docs == nil {
				return "", fmt.Errorf("document search is not configured")
			}
			query := p.String("keywords")
			if query == "" {
				query = p.String("query")
			}
			return collab.Docs(ctx, query)
		},
	})

	reg.Register(&Capability{
		ID:          "analytics_query",
		Description: "Run a read-only analytics query",
		Schema:      `{"type":"object","properties":{"metric":{"type":"string"},"range":{"type":"string"}}}`,
		Handler: func(ctx context.Context, p Params) (string, error) {
			if collab.Analytics == nil {
				return "", fmt.Errorf("analytics backend is not configured")
			}
			query := p.String("metric")
			if query == "" {
				query = p.String("query")
			}
			return collab.Analytics(ctx, query)
		},
	})

	reg.Register(&Capability{
		ID:          "chart_render",
		Description: "Render a chart from a data spec",
		Schema:      `{"type":"object","properties":{"spec":{"type":"string"}}}`,
		Handler: func(ctx context.Context, p Params) (string, error) {
			if collab.Chart == nil {
				return "", fmt.Errorf("chart rendering is not configured")
			}
			spec := p.String("spec")
			if spec == "" {
				spec = p.String("query")
			}
			return collab.Chart(ctx, spec)
		},
	})
}
