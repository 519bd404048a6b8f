package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/conda-self/internal/output"
	"github.com/blackwell-systems/conda-self/internal/store"
)

var (
	historyLimit int
	historyAll   bool
)

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Show recorded reset transactions",
	Long: `List the transactions conda-self applied to an environment, newest
first. Pass a transaction ID (or a unique prefix of one) to see every
package it removed and linked.`,
	Example: `  conda-self history
  conda-self history --limit 5
  conda-self history 3f2a9c1e`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of transactions to list (0 for all)")
	historyCmd.Flags().BoolVar(&historyAll, "all-prefixes", false, "list transactions for every environment")

	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	prefix := ""
	if !historyAll {
		p, err := targetPrefix()
		if err != nil {
			return err
		}
		prefix = p
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		tx, err := findTransaction(st, prefix, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(out, tx)
		}
		fmt.Fprint(out, output.RenderTransactionDetail(tx))
		return nil
	}

	txs, err := st.ListTransactions(prefix, historyLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		if txs == nil {
			txs = []*store.Transaction{}
		}
		return writeJSON(out, txs)
	}
	fmt.Fprint(out, output.RenderHistoryTable(txs))
	return nil
}

// findTransaction resolves a full or abbreviated transaction ID.
func findTransaction(st *store.Store, prefix, id string) (*store.Transaction, error) {
	if tx, err := st.GetTransaction(id); err == nil {
		return tx, nil
	}

	txs, err := st.ListTransactions(prefix, 0)
	if err != nil {
		return nil, err
	}
	var matches []*store.Transaction
	for _, tx := range txs {
		if strings.HasPrefix(tx.ID, id) {
			matches = append(matches, tx)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	case 1:
		return matches[0], nil
	}
	return nil, fmt.Errorf("transaction ID %s is ambiguous (%d matches)", id, len(matches))
}
