package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/memory"
	"github.com/engramdev/engram/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runRemember,
	}

	cmd.Flags().StringP("kind", "k", "semantic", "Kind: episodic, semantic, procedural, emotional")
	cmd.Flags().StringP("source", "s", "", "Provenance string")
	cmd.Flags().String("privacy", "public", "Privacy: public, private, confidential, restricted")
	cmd.Flags().IntP("importance", "i", 3, "Importance 1-5")
	cmd.Flags().Float64P("confidence", "c", 1.0, "Confidence 0-1")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")

	// episodic
	cmd.Flags().String("event", "", "What happened (episodic)")
	cmd.Flags().String("participants", "", "Comma-separated participants (episodic)")
	cmd.Flags().String("location", "", "Where it happened (episodic)")
	// semantic
	cmd.Flags().String("subject", "", "Fact subject (semantic)")
	cmd.Flags().String("predicate", "", "Fact predicate (semantic)")
	cmd.Flags().String("object", "", "Fact object (semantic)")
	cmd.Flags().String("category", "", "Fact category (semantic)")
	// procedural
	cmd.Flags().String("steps", "", "Semicolon-separated steps (procedural)")
	cmd.Flags().String("conditions", "", "Semicolon-separated conditions (procedural)")
	// emotional
	cmd.Flags().String("emotion", "", "Primary emotion (emotional)")
	cmd.Flags().String("secondary", "", "Secondary emotion (emotional)")
	cmd.Flags().String("trigger", "", "What triggered it (emotional)")
	cmd.Flags().String("response", "", "How it was handled (emotional)")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) {
	kindStr, _ := cmd.Flags().GetString("kind")
	kind := model.Kind(kindStr)
	if !kind.IsValid() {
		exitErr("remember", fmt.Errorf("unknown kind %q", kindStr))
	}

	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		exitErr("remember", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	privacyStr, _ := cmd.Flags().GetString("privacy")
	privacy, ok := model.ParsePrivacy(privacyStr)
	if !ok {
		exitErr("remember", fmt.Errorf("unknown privacy level %q", privacyStr))
	}

	source, _ := cmd.Flags().GetString("source")
	importance, _ := cmd.Flags().GetInt("importance")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	tagsStr, _ := cmd.Flags().GetString("tags")

	opts := memory.Opts{
		Source:     source,
		Privacy:    privacy,
		Importance: importance,
		Confidence: confidence,
		Tags:       splitList(tagsStr, ","),
	}

	ctx := cmd.Context()
	sys, arch, err := openSystem(ctx)
	if err != nil {
		exitErr("open", err)
	}

	var mem *model.Memory
	switch kind {
	case model.KindEpisodic:
		event, _ := cmd.Flags().GetString("event")
		participants, _ := cmd.Flags().GetString("participants")
		location, _ := cmd.Flags().GetString("location")
		mem, err = sys.RememberEpisodic(ctx, model.EpisodicPayload{
			Event:        event,
			Participants: splitList(participants, ","),
			Location:     location,
		}, content, opts)
	case model.KindSemantic:
		subject, _ := cmd.Flags().GetString("subject")
		predicate, _ := cmd.Flags().GetString("predicate")
		object, _ := cmd.Flags().GetString("object")
		category, _ := cmd.Flags().GetString("category")
		mem, err = sys.RememberSemantic(ctx, model.SemanticPayload{
			Subject:   subject,
			Predicate: predicate,
			Object:    object,
			Category:  category,
		}, content, opts)
	case model.KindProcedural:
		steps, _ := cmd.Flags().GetString("steps")
		conditions, _ := cmd.Flags().GetString("conditions")
		mem, err = sys.RememberProcedural(ctx, model.ProceduralPayload{
			Steps:      splitList(steps, ";"),
			Conditions: splitList(conditions, ";"),
		}, content, opts)
	case model.KindEmotional:
		emotion, _ := cmd.Flags().GetString("emotion")
		secondary, _ := cmd.Flags().GetString("secondary")
		trigger, _ := cmd.Flags().GetString("trigger")
		response, _ := cmd.Flags().GetString("response")
		mem, err = sys.RememberEmotional(ctx, model.EmotionalPayload{
			Primary:   emotion,
			Secondary: secondary,
			Trigger:   trigger,
			Response:  response,
		}, content, opts)
	}
	if err != nil {
		exitErr("remember", err)
	}

	saveSystem(ctx, sys, arch)

	b, _ := json.Marshal(mem)
	fmt.Println(string(b))
}

func splitList(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
