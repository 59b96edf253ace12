package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/miniclaw/internal/config"
	"github.com/nextlevelbuilder/miniclaw/internal/memoryfile"
)

func memoryCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect the agent's long-term and daily memory files",
	}
	cmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "override the configured workspace path")

	cmd.AddCommand(memoryReadCmd(&workspace))
	cmd.AddCommand(memoryRecentCmd(&workspace))
	cmd.AddCommand(memoryRankCmd(&workspace))

	return cmd
}

func resolveMemoryDir(workspace string) string {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		cfg = config.Default()
	}
	if workspace != "" {
		cfg.ApplyFlagOverrides("", workspace)
	}
	return filepath.Join(cfg.WorkspacePath(), "memory")
}

func memoryReadCmd(workspace *string) *cobra.Command {
	var today bool

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print MEMORY.md, or --today for today's daily note",
		Run: func(cmd *cobra.Command, args []string) {
			dir := resolveMemoryDir(*workspace)
			name := "MEMORY.md"
			if today {
				name = time.Now().UTC().Format("2006-01-02") + ".md"
			}
			data, err := os.ReadFile(filepath.Join(dir, name))
			if os.IsNotExist(err) {
				fmt.Printf("(no %s yet)\n", name)
				return
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "memory read: %v\n", err)
				os.Exit(1)
			}
			os.Stdout.Write(data)
		},
	}
	cmd.Flags().BoolVar(&today, "today", false, "read today's daily note instead of MEMORY.md")
	return cmd
}

func memoryRecentCmd(workspace *string) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List entries recorded within the last N days, across MEMORY.md and daily notes",
		Run: func(cmd *cobra.Command, args []string) {
			dir := resolveMemoryDir(*workspace)
			entries := loadAllEntries(dir)

			cutoff := time.Now().UTC().AddDate(0, 0, -days)
			var recent []memoryfile.Entry
			for _, e := range entries {
				if !e.Timestamp.Before(cutoff) {
					recent = append(recent, e)
				}
			}
			printEntries(recent)
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 7, "how many days back to include")
	return cmd
}

func memoryRankCmd(workspace *string) *cobra.Command {
	var query string
	var limit int

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank memory entries by keyword relevance to -q, most relevant first",
		Long: `A simple, dependency-free ranking: entries containing more of the
query's whitespace-separated terms (case-insensitive) sort first, ties
broken by recency. The running Context Builder's MemoryRanker does not
rank by keyword: it takes no query and always keeps the most recent
entries.`,
		Run: func(cmd *cobra.Command, args []string) {
			dir := resolveMemoryDir(*workspace)
			entries := loadAllEntries(dir)
			ranked := rankByKeyword(entries, query)
			if limit > 0 && len(ranked) > limit {
				ranked = ranked[:limit]
			}
			printEntries(ranked)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "keywords to rank against (required)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of entries to print")
	cmd.MarkFlagRequired("query")
	return cmd
}

func loadAllEntries(dir string) []memoryfile.Entry {
	var all []memoryfile.Entry

	longTerm := memoryfile.NewFile(filepath.Join(dir, "MEMORY.md"))
	sections, err := longTerm.Read()
	if err == nil {
		all = append(all, memoryfile.Tail(sections, 0)...)
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return all
	}
	for _, de := range dirEntries {
		if de.IsDir() || de.Name() == "MEMORY.md" || !strings.HasSuffix(de.Name(), ".md") {
			continue
		}
		f := memoryfile.NewFile(filepath.Join(dir, de.Name()))
		daySections, err := f.Read()
		if err != nil {
			continue
		}
		all = append(all, memoryfile.Tail(daySections, 0)...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all
}

func rankByKeyword(entries []memoryfile.Entry, query string) []memoryfile.Entry {
	terms := strings.Fields(strings.ToLower(query))
	type scored struct {
		entry memoryfile.Entry
		score int
	}
	out := make([]scored, len(entries))
	for i, e := range entries {
		lower := strings.ToLower(e.Content)
		score := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				score++
			}
		}
		out[i] = scored{entry: e, score: score}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].entry.Timestamp.After(out[j].entry.Timestamp)
	})
	ranked := make([]memoryfile.Entry, len(out))
	for i, s := range out {
		ranked[i] = s.entry
	}
	return ranked
}

func printEntries(entries []memoryfile.Entry) {
	if len(entries) == 0 {
		fmt.Println("(no entries)")
		return
	}
	for _, e := range entries {
		fmt.Printf("[%s] %s\n", e.Timestamp.Format(time.RFC3339), e.Content)
	}
}
