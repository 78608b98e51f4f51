package route

// DefaultRules is the built-in destination table for the declarative
// routing layer. This layer only sees queries the pattern classifier
// could not place, so it covers soft content categories rather than
// command syntax.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "issue-assistant",
			Category: "tracker",
			Keywords: []string{"issue", "工单", "bug", "缺陷", "ticket"},
			Priority: 1,
			Type:     TypeWorkflow,
			Workflow: "dpa-assistant",
			Enabled:  true,
		},
		{
			ID:       "report-assistant",
			Category: "reporting",
			Keywords: []string{"日报", "周报", "report", "总结", "summary"},
			Priority: 2,
			Type:     TypeWorkflow,
			Workflow: "daily-report",
			Enabled:  true,
		},
		{
			ID:       "doc-search",
			Category: "docs",
			Keywords: []string{"文档", "document", "wiki", "说明", "手册"},
			Priority: 2,
			Type:     TypeSkill,
			Tool:     "doc_search",
			Enabled:  true,
		},
		{
			ID:       "analytics",
			Category: "analytics",
			Keywords: []string{"统计", "分析", "metrics", "数据", "指标", "chart"},
			Priority: 3,
			Type:     TypeSubagent,
			Tool:     "analytics_query",
			Enabled:  true,
		},
	}
}
