package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"skillsense/internal/config"
	"skillsense/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginTop(1)
)

func renderStatus(cfg *config.Config, stats map[string]int64, skills []store.Skill) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("skillsense status"))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Configuration"))
	b.WriteString("\n")
	row(&b, "Data dir", cfg.DataDir)
	row(&b, "Ruleset", cfg.Rules.RulesetPath)
	row(&b, "Embedding", fmt.Sprintf("%s (%d dims)", cfg.Embedding.Provider, cfg.Embedding.Dimensions))
	row(&b, "Sources", fmt.Sprintf("%d configured", len(cfg.Sources)))

	bySource := map[store.SkillSource]int{}
	var freshest time.Time
	for _, sk := range skills {
		bySource[sk.Source]++
		if sk.IndexedAt.After(freshest) {
			freshest = sk.IndexedAt
		}
	}

	b.WriteString(sectionStyle.Render("Index"))
	b.WriteString("\n")
	row(&b, "Skills", fmt.Sprintf("%d (user %d, project %d, plugin %d)",
		stats["skill_index"], bySource[store.SourceUser], bySource[store.SourceProject], bySource[store.SourcePlugin]))
	row(&b, "Tracked files", fmt.Sprintf("%d", stats["file_hashes"]))
	if !freshest.IsZero() {
		row(&b, "Last indexed", freshest.Local().Format(time.RFC3339))
	}

	b.WriteString(sectionStyle.Render("Sessions"))
	b.WriteString("\n")
	row(&b, "Sessions", fmt.Sprintf("%d", stats["sessions"]))
	row(&b, "Messages", fmt.Sprintf("%d", stats["message_log"]))
	row(&b, "Active skills", fmt.Sprintf("%d", stats["session_skills"]))

	return b.String()
}

func row(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}
