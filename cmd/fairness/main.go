// Command fairness lets players and auditors recompute crash points and
// commitments offline from revealed seeds.
package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"riskcrash/internal/game"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fairness",
		Short:         "Verify crash rounds from their revealed seeds",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newDeriveCmd(), newVerifyCmd(), newCommitCmd())
	return root
}

func newDeriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "derive <seed>...",
		Short: "Print the crash multiplier for each seed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, seed := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", seed,
					game.DeriveCrashMultiplier(seed).StringFixed(game.MULTIPLIER_PLACES))
			}
			return nil
		},
	}
}

type verifyFlags struct {
	seed, prevSeed, digest string
	chain, prevChain       string
	crash                  string
}

func newVerifyCmd() *cobra.Command {
	var f verifyFlags
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a round's digest, chain link and crash point",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.seed, "seed", "", "revealed seed of the round")
	cmd.Flags().StringVar(&f.prevSeed, "prev-seed", "", "seed of the previous round")
	cmd.Flags().StringVar(&f.digest, "digest", "", "commitment published before betting")
	cmd.Flags().StringVar(&f.chain, "chain", "", "chain value published with the round")
	cmd.Flags().StringVar(&f.prevChain, "prev-chain", "", "chain value of the previous round")
	cmd.Flags().StringVar(&f.crash, "crash", "", "crash multiplier the round reported")
	cmd.MarkFlagRequired("seed")
	cmd.MarkFlagRequired("digest")
	return cmd
}

func runVerify(cmd *cobra.Command, f verifyFlags) error {
	out := cmd.OutOrStdout()
	ok := game.Verify(f.seed, f.prevSeed, f.digest)
	fmt.Fprintf(out, "digest\t%s\n", verdict(ok))

	if f.chain != "" {
		chainOK := game.VerifyChain(f.prevChain, f.digest, f.chain)
		fmt.Fprintf(out, "chain\t%s\n", verdict(chainOK))
		ok = ok && chainOK
	}

	derived := game.DeriveCrashMultiplier(f.seed)
	fmt.Fprintf(out, "crash\t%s\n", derived.StringFixed(game.MULTIPLIER_PLACES))
	if f.crash != "" {
		claimed, err := decimal.NewFromString(f.crash)
		if err != nil {
			return fmt.Errorf("invalid --crash: %w", err)
		}
		claimOK := game.VerifyRound(f.seed, f.prevSeed, f.digest, claimed)
		fmt.Fprintf(out, "claim\t%s\n", verdict(claimOK))
		ok = ok && claimOK
	}

	if !ok {
		return fmt.Errorf("round does not verify")
	}
	return nil
}

func newCommitCmd() *cobra.Command {
	var prevSeed, prevChain string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Generate a fresh seed and its commitment after the given round",
		RunE: func(cmd *cobra.Command, _ []string) error {
			g := game.NewFairnessGenerator()
			g.Resume(prevSeed, prevChain)
			c, err := g.Commit()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "seed\t%s\n", c.Seed)
			fmt.Fprintf(out, "digest\t%s\n", c.Digest)
			fmt.Fprintf(out, "chain\t%s\n", c.Chain)
			fmt.Fprintf(out, "crash\t%s\n", game.DeriveCrashMultiplier(c.Seed).StringFixed(game.MULTIPLIER_PLACES))
			return nil
		},
	}
	cmd.Flags().StringVar(&prevSeed, "prev-seed", "", "seed of the previous round")
	cmd.Flags().StringVar(&prevChain, "prev-chain", "", "chain value of the previous round")
	return cmd
}

func verdict(ok bool) string {
	if ok {
		return "ok"
	}
	return "MISMATCH"
}
