package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-fluency-battle/internal/config"
	"github.com/tbourn/go-fluency-battle/internal/domain"
	"github.com/tbourn/go-fluency-battle/internal/scoring"
	"github.com/tbourn/go-fluency-battle/internal/services"
)

func newScoreCommand() *cobra.Command {
	var (
		bot  bool
		seed uint64
	)
	cmd := &cobra.Command{
		Use:   "score HOST_TRANSCRIPT [OPPONENT_TRANSCRIPT]",
		Short: "Score transcripts offline, one message per line (\"-\" reads stdin)",
		Long: "Grades one or two transcripts with the same engine the analyze command uses.\n" +
			"Without GEMINI_API_KEY the deterministic default features are used.\n" +
			"With --bot the opponent is handicapped like a simulated partner.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cmd.ErrOrStderr(), cfg)

			sides := make([][]string, 2)
			for i, path := range args {
				if sides[i], err = readTranscript(path, cmd.InOrStdin()); err != nil {
					return err
				}
			}

			eng := scoring.NewEngine(newGenerator(cfg), cfg.LLM.Timeout)
			eng.OnFallback = services.ScoringFallback
			an := services.NewAnalysisService(nil, eng)
			an.Handicap = cfg.Handicap
			if cmd.Flags().Changed("seed") {
				an.Rand = services.NewLockedRand(seed, seed)
			}

			res, err := an.Compare(cmd.Context(), bot, sides[0], sides[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderScores(args, sides, res))
			return nil
		},
	}
	cmd.Flags().BoolVar(&bot, "bot", false, "treat the opponent as a simulated partner and apply the handicap")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed the handicap jitter for reproducible output")
	return cmd
}

// readTranscript returns the non-blank lines of path, or of stdin for "-".
func readTranscript(path string, stdin io.Reader) ([]string, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

func renderScores(names []string, sides [][]string, res *domain.AnalysisResult) string {
	headers := []string{"Player", "Messages", "Words", "Vocab", "Grammar", "Fluency", "Sentence", "Weighted", "Total"}
	rows := make([][]string, 0, 2)
	feedback := make([]string, 0, 2)
	for i, b := range []domain.ScoreBreakdown{res.Player1, res.Player2} {
		if i >= len(names) {
			break
		}
		st := scoring.ComputeStats(sides[i])
		label := fmt.Sprintf("player%d (%s)", i+1, names[i])
		rows = append(rows, []string{
			label,
			strconv.Itoa(st.TotalMessages),
			strconv.Itoa(st.TotalWords),
			strconv.Itoa(b.Vocab),
			strconv.Itoa(b.Grammar),
			strconv.Itoa(b.Fluency),
			strconv.Itoa(b.Sentence),
			strconv.Itoa(b.WeightedTotal),
			strconv.Itoa(b.BattleScore),
		})
		if b.Feedback != "" {
			feedback = append(feedback, fmt.Sprintf("player%d: %s", i+1, b.Feedback))
		}
	}

	var sb strings.Builder
	sb.WriteString(renderTable(headers, rows, 2, 3, 4, 5, 6, 7, 8, 9))
	sb.WriteString("\n")
	if len(names) == 2 {
		fmt.Fprintf(&sb, "Winner: %s", res.Winner)
		if res.IsBotMatch {
			sb.WriteString(" (handicap applied to player2)")
		}
		sb.WriteString("\n")
	}
	for _, f := range feedback {
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
