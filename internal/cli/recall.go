package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/model"
	"github.com/engramdev/engram/internal/retrieval"
)

var (
	recallKinds      []string
	recallAny        bool
	recallStart      string
	recallEnd        string
	recallEntities   []string
	recallContext    []string
	recallEmotions   []string
	recallImportance int
	recallSeed       string
	recallDepth      int
	recallLimit      int
	recallOffset     int
	recallLong       bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [keywords...]",
		Short: "Search memories",
		Long:  "Search memories by keyword, kind, time range, entities, context, emotion, or association seed. All filters combine as AND.",
		Run:   runRecall,
	}
	cmd.Flags().StringSliceVarP(&recallKinds, "kind", "k", nil, "Restrict to kinds (episodic, semantic, procedural, emotional)")
	cmd.Flags().BoolVar(&recallAny, "any", false, "Match any keyword instead of all")
	cmd.Flags().StringVar(&recallStart, "since", "", "Inclusive lower time bound (RFC 3339)")
	cmd.Flags().StringVar(&recallEnd, "until", "", "Inclusive upper time bound (RFC 3339)")
	cmd.Flags().StringSliceVarP(&recallEntities, "entity", "e", nil, "Match payload entities (participants, subjects, triggers)")
	cmd.Flags().StringSliceVarP(&recallContext, "context", "c", nil, "Match source and metadata values")
	cmd.Flags().StringSliceVar(&recallEmotions, "emotion", nil, "Match primary emotions (emotional memories only)")
	cmd.Flags().IntVarP(&recallImportance, "min-importance", "i", 0, "Importance floor, 1-5")
	cmd.Flags().StringVar(&recallSeed, "seed", "", "Retrieve via associations from this memory id")
	cmd.Flags().IntVar(&recallDepth, "depth", 1, "Traversal depth when --seed is set")
	cmd.Flags().IntVarP(&recallLimit, "limit", "l", 0, "Page size (default 20)")
	cmd.Flags().IntVar(&recallOffset, "offset", 0, "Page offset")
	cmd.Flags().BoolVar(&recallLong, "long", false, "Print full content instead of a snippet")
	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	sys, arch, err := openSystem(ctx)
	if err != nil {
		exitErr("open", err)
	}
	defer closeSystem(sys, arch)

	q := retrieval.Query{
		Keywords:      args,
		MatchAny:      recallAny,
		Entities:      recallEntities,
		Context:       recallContext,
		Emotions:      recallEmotions,
		MinImportance: recallImportance,
		SeedID:        recallSeed,
		Depth:         recallDepth,
		Limit:         recallLimit,
		Offset:        recallOffset,
	}
	for _, k := range recallKinds {
		kind := model.Kind(k)
		if !kind.IsValid() {
			exitErr("recall", fmt.Errorf("unknown kind %q", k))
		}
		q.Kinds = append(q.Kinds, kind)
	}
	if recallStart != "" {
		if q.Start, err = parseFlagTime(recallStart); err != nil {
			exitErr("recall", err)
		}
	}
	if recallEnd != "" {
		if q.End, err = parseFlagTime(recallEnd); err != nil {
			exitErr("recall", err)
		}
	}

	res, err := sys.Search(ctx, q)
	if err != nil {
		exitErr("recall", err)
	}

	if len(res.Records) == 0 {
		fmt.Println("no matches")
		return
	}
	for _, m := range res.Records {
		content := m.Content
		if !recallLong {
			content = snippet(content, 72)
		}
		fmt.Printf("%s  %-10s  i=%d c=%.2f  %s\n", m.ID, m.Kind, m.Importance, m.Confidence, content)
	}
	fmt.Printf("\n%d of %d (%.1fms)\n", len(res.Records), res.TotalCount, float64(res.ExecutionTime.Microseconds())/1000)
}

// parseFlagTime accepts RFC 3339 or a bare date.
func parseFlagTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want RFC 3339 or YYYY-MM-DD)", s)
	}
	return t, nil
}
