package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/partypen/go-backend/internal/logging"
	"github.com/danielpatrickdp/partypen/go-backend/internal/quota"
	"github.com/danielpatrickdp/partypen/go-backend/internal/ranker"
	"github.com/danielpatrickdp/partypen/go-backend/internal/store"
)

// #region main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	dbPath  string
	last    int
	user    string
	jsonOut bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "inspect",
		Short:        "Inspect ranking decisions and account usage in a partypen database",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(st *store.Store, gate *quota.Gate) error {
				if opts.user != "" {
					return runUserMode(cmd.OutOrStdout(), st, gate, opts.user, opts.last, opts.jsonOut)
				}
				return runListMode(cmd.OutOrStdout(), st, "", opts.last, opts.jsonOut)
			})
		},
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "path to partypen.db (required)")
	root.PersistentFlags().IntVar(&opts.last, "last", 20, "show N most recent rows")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "output as JSON instead of table")
	root.Flags().StringVar(&opts.user, "user", "", "restrict to one user and show their account")
	_ = root.MarkPersistentFlagRequired("db")

	root.AddCommand(&cobra.Command{
		Use:   "accounts",
		Short: "List accounts with plan and usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(st *store.Store, gate *quota.Gate) error {
				return runAccountsMode(cmd.OutOrStdout(), st, gate, opts.last, opts.jsonOut)
			})
		},
	})
	return root
}

func withStore(opts *options, fn func(*store.Store, *quota.Gate) error) error {
	st, err := store.NewStore(opts.dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()
	return fn(st, quota.NewGate(st, quota.DefaultConfig()))
}

// #endregion

// #region list-mode

type selectionRow struct {
	ID         string                `json:"id"`
	UserID     string                `json:"user_id"`
	Platform   string                `json:"platform"`
	Path       string                `json:"path"`
	Candidates int                   `json:"candidates"`
	BestIndex  int                   `json:"best_index"`
	Quality    float32               `json:"quality"`
	ElapsedMS  int64                 `json:"elapsed_ms"`
	Reason     string                `json:"reason,omitempty"`
	Rankings   []ranker.RankingEntry `json:"rankings,omitempty"`
	CreatedAt  string                `json:"created_at"`
}

func loadRows(st *store.Store, userID string, last int) ([]selectionRow, error) {
	entries, err := logging.ListSelections(st.DB(), userID, last)
	if err != nil {
		return nil, err
	}

	// Store returns DESC, reverse for chronological
	rows := make([]selectionRow, len(entries))
	for i, e := range entries {
		r := selectionRow{
			ID:         e.ID,
			UserID:     e.UserID,
			Platform:   e.Platform,
			Path:       e.Path,
			Candidates: e.CandidateCount,
			BestIndex:  e.BestIndex,
			Quality:    e.Quality,
			ElapsedMS:  e.ElapsedMS,
			Reason:     e.Reason,
			CreatedAt:  e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
		if e.RankingsJSON != "" {
			_ = json.Unmarshal([]byte(e.RankingsJSON), &r.Rankings)
		}
		rows[len(entries)-1-i] = r
	}
	return rows, nil
}

func runListMode(w io.Writer, st *store.Store, userID string, last int, jsonOut bool) error {
	rows, err := loadRows(st, userID, last)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "no selections found")
		return nil
	}
	if jsonOut {
		return printJSON(w, rows)
	}
	printSelectionTable(w, rows)
	return nil
}

func printSelectionTable(w io.Writer, rows []selectionRow) {
	fmt.Fprintf(w, "%-8s  %-12s  %-9s  %-23s  %5s  %4s  %7s  %8s  %s\n",
		"ID", "User", "Platform", "Path", "Cands", "Best", "Quality", "Elapsed", "Time")
	fmt.Fprintf(w, "%-8s+-%-12s+-%-9s+-%-23s+-%5s+-%4s+-%7s+-%8s+-%s\n",
		"--------", "------------", "---------", "-----------------------", "-----", "----", "-------", "--------", "--------------------")

	paths := make(map[string]int)
	for _, r := range rows {
		fmt.Fprintf(w, "%-8s  %-12s  %-9s  %-23s  %5d  %4d  %7.2f  %6dms  %s\n",
			shortID(r.ID), clip(r.UserID, 12), r.Platform, r.Path, r.Candidates, r.BestIndex, r.Quality, r.ElapsedMS, r.CreatedAt)
		paths[r.Path]++
	}

	fmt.Fprintf(w, "\nPaths:\n")
	for _, p := range []ranker.Path{
		ranker.PathScored, ranker.PathSingle, ranker.PathInsufficient, ranker.PathScorerFallback,
		ranker.PathDirectFallback, ranker.PathNoCandidates, ranker.PathFailed,
	} {
		if n := paths[string(p)]; n > 0 {
			fmt.Fprintf(w, "  %-23s %d\n", p, n)
		}
	}
}

// #endregion

// #region user-mode

type accountRow struct {
	UserID        string         `json:"user_id"`
	CreatedAt     string         `json:"created_at"`
	Verified      bool           `json:"verified"`
	Party         string         `json:"party,omitempty"`
	Usage         quota.Decision `json:"usage"`
	Verifications int            `json:"verifications"`
}

type userOutput struct {
	Account    accountRow     `json:"account"`
	Selections []selectionRow `json:"selections"`
}

func accountSummary(st *store.Store, gate *quota.Gate, a store.Account) (accountRow, error) {
	decision, err := gate.Check(context.Background(), a.UserID)
	if err != nil {
		return accountRow{}, err
	}
	vs, err := st.ListVerifications(a.UserID)
	if err != nil {
		return accountRow{}, err
	}
	return accountRow{
		UserID:        a.UserID,
		CreatedAt:     a.CreatedAt.Format("2006-01-02"),
		Verified:      a.Verified,
		Party:         a.Party,
		Usage:         decision,
		Verifications: len(vs),
	}, nil
}

func runUserMode(w io.Writer, st *store.Store, gate *quota.Gate, userID string, last int, jsonOut bool) error {
	acct, err := st.GetAccount(userID)
	if err != nil {
		return err
	}
	summary, err := accountSummary(st, gate, acct)
	if err != nil {
		return err
	}
	rows, err := loadRows(st, userID, last)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(w, userOutput{Account: summary, Selections: rows})
	}

	fmt.Fprintf(w, "User:       %s\n", summary.UserID)
	fmt.Fprintf(w, "Since:      %s\n", summary.CreatedAt)
	fmt.Fprintf(w, "Plan:       %s (%s)\n", summary.Usage.Plan, summary.Usage.Reason)
	fmt.Fprintf(w, "Usage:      %s\n", usageString(summary.Usage))
	if summary.Verified {
		fmt.Fprintf(w, "Verified:   %s\n", summary.Party)
	} else {
		fmt.Fprintf(w, "Verified:   no (%d attempts)\n", summary.Verifications)
	}
	fmt.Fprintln(w)

	if len(rows) == 0 {
		fmt.Fprintln(w, "no selections")
		return nil
	}
	printSelectionTable(w, rows)

	latest := rows[len(rows)-1]
	if len(latest.Rankings) > 0 {
		fmt.Fprintf(w, "\nLatest rankings (%s):\n", shortID(latest.ID))
		for _, e := range latest.Rankings {
			marker := " "
			if e.CandidateIndex == latest.BestIndex {
				marker = "*"
			}
			fmt.Fprintf(w, "  %s #%d  %6.1f  %s\n", marker, e.CandidateIndex, e.TotalScore, clip(e.Strengths, 60))
		}
	}
	return nil
}

// #endregion

// #region accounts-mode

func runAccountsMode(w io.Writer, st *store.Store, gate *quota.Gate, last int, jsonOut bool) error {
	accts, err := st.ListAccounts(last)
	if err != nil {
		return err
	}
	if len(accts) == 0 {
		fmt.Fprintln(w, "no accounts found")
		return nil
	}

	rows := make([]accountRow, 0, len(accts))
	for _, a := range accts {
		r, err := accountSummary(st, gate, a)
		if err != nil {
			return fmt.Errorf("account %s: %w", a.UserID, err)
		}
		rows = append(rows, r)
	}

	if jsonOut {
		return printJSON(w, rows)
	}

	fmt.Fprintf(w, "%-20s  %-10s  %-10s  %-12s  %s\n", "User", "Since", "Plan", "Usage", "Party")
	fmt.Fprintf(w, "%-20s+-%-10s+-%-10s+-%-12s+-%s\n", "--------------------", "----------", "----------", "------------", "----------")
	for _, r := range rows {
		party := "-"
		if r.Verified {
			party = r.Party
		}
		fmt.Fprintf(w, "%-20s  %-10s  %-10s  %-12s  %s\n", clip(r.UserID, 20), r.CreatedAt, r.Usage.Plan, usageString(r.Usage), party)
	}
	return nil
}

// #endregion

// #region output

func usageString(d quota.Decision) string {
	if d.Limit < 0 {
		return fmt.Sprintf("%d/unlimited", d.Used)
	}
	return fmt.Sprintf("%d/%d", d.Used, d.Limit)
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// #endregion
