package classify

// Priority bands:
//
//	0-9    structural syntax (confirmation callbacks, slash/doc commands)
//	10-19  exact-confidence content rules
//	20+    pattern-confidence content rules
//
// Structural rules sit below all content rules so command syntax always
// pre-empts semantic matching.

// DefaultRules returns the built-in rule table used when the config
// declares none. Declaration order breaks priority ties and is stable.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "confirm-callback",
			Patterns: []string{`^#(confirm|cancel)\s+\S+`},
			Target:   Workflow("confirm-callback"),
			Priority: 2,
			Enabled:  true,
		},
		{
			ID:       "slash-command",
			Patterns: []string{`^/(help|status|clear|routes)\b`},
			Target:   SlashCommand(""),
			Priority: 5,
			Enabled:  true,
		},
		{
			ID:       "doc-command",
			Patterns: []string{`^/doc\b`, `^#doc\b`},
			Target:   DocCommand(),
			Priority: 8,
			Enabled:  true,
		},
		{
			ID:       "issue-mutation",
			Patterns: []string{`创建.*(issue|工单|bug)`, `新建.*(issue|工单)`, `关闭.*(issue|工单)`, `create .*(issue|ticket)`, `close .*(issue|ticket)`},
			Target:   Workflow("dpa-assistant"),
			Priority: 15,
			Enabled:  true,
		},
		{
			ID:       "issue-listing",
			Patterns: []string{`列出.*issue`, `我的.*(issue|工单)`, `查看.*(issue|工单)`, `list .*(issue|ticket)`, `show my issues`},
			Target:   Tool("gitlab_cli"),
			Priority: 25,
			Enabled:  true,
		},
		{
			ID:       "daily-report",
			Patterns: []string{`日报`, `周报`, `daily report`, `weekly report`},
			Target:   Workflow("daily-report"),
			Priority: 30,
			Enabled:  true,
		},
		{
			ID:       "analytics",
			Patterns: []string{`统计.*(数据|指标)`, `分析.*数据`, `query .*metrics`},
			Target:   Tool("analytics_query"),
			Priority: 40,
			Enabled:  true,
		},
		{
			ID:       "chart",
			Patterns: []string{`画.*图`, `生成.*图表`, `render .*chart`, `plot `},
			Target:   Tool("chart_render"),
			Priority: 40,
			Enabled:  true,
		},
	}
}
