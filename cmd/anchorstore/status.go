package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/anchorstore/hasher"
	"github.com/bitfsorg/anchorstore/ledger"
	"github.com/bitfsorg/anchorstore/vault"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [hash]",
		Short: "Show a digest's record and anchoring state, or ledger totals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(v *vault.Vault) error {
				if len(args) == 0 {
					return a.writeCounts(cmd, v)
				}
				hash, err := hasher.ParseDigest(args[0])
				if err != nil {
					return err
				}
				st, err := v.Status(cmd.Context(), hash)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.writeJSON(st)
				}
				return a.writePlain("%s", formatStatus(st))
			})
		},
	}
}

func (a *app) writeCounts(cmd *cobra.Command, v *vault.Vault) error {
	counts, err := v.Counts(cmd.Context())
	if err != nil {
		return err
	}
	if a.jsonOutput {
		named := make(map[string]int, len(counts))
		for _, s := range ledger.States() {
			named[s.String()] = counts[s]
		}
		return a.writeJSON(named)
	}
	for _, s := range ledger.States() {
		if err := a.writePlain("%-9s %d\n", s, counts[s]); err != nil {
			return err
		}
	}
	return nil
}

func formatStatus(st *vault.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "hash: %s\n", st.Hash)
	if st.Record != nil {
		fmt.Fprintf(&b, "size: %d\n", st.Record.Size)
		fmt.Fprintf(&b, "chunks: %d\n", len(st.Record.Chunks))
		fmt.Fprintf(&b, "compression: %s\n", st.Record.Compression)
		fmt.Fprintf(&b, "stored_at: %s\n", formatTime(st.Record.CreatedAt))
	} else {
		b.WriteString("content: deleted\n")
	}
	if st.Entry == nil {
		b.WriteString("anchoring: none\n")
		return b.String()
	}
	e := st.Entry
	fmt.Fprintf(&b, "state: %s\n", e.State)
	fmt.Fprintf(&b, "attempts: %d\n", e.AttemptCount)
	if e.TxID != "" {
		fmt.Fprintf(&b, "tx_id: %s\n", e.TxID)
	}
	if e.LastError != 0 {
		fmt.Fprintf(&b, "last_error: %s\n", e.LastError)
	}
	if !e.NextRetryAt.IsZero() && e.State == ledger.Pending {
		fmt.Fprintf(&b, "next_retry_at: %s\n", formatTime(e.NextRetryAt))
	}
	if e.BlockID != "" {
		fmt.Fprintf(&b, "block: %s (height %d)\n", e.BlockID, e.BlockHeight)
		fmt.Fprintf(&b, "confirmed_at: %s\n", formatTime(e.ConfirmedAt))
	}
	for k, val := range e.Metadata {
		fmt.Fprintf(&b, "meta.%s: %s\n", k, val)
	}
	if len(st.History) > 0 {
		fmt.Fprintf(&b, "superseded: %d\n", len(st.History))
	}
	return b.String()
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [prefix]",
		Short: "List stored content, optionally by digest prefix (e.g. blake3:9f86)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prefix string
			if len(args) == 1 {
				prefix = args[0]
			}
			return a.withVault(cmd, func(v *vault.Vault) error {
				rows, err := v.List(cmd.Context(), prefix)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					out := make([]map[string]any, len(rows))
					for i, r := range rows {
						out[i] = map[string]any{"hash": r.Hash.String(), "size": r.Size, "state": listingState(r)}
					}
					return a.writeJSON(out)
				}
				for _, r := range rows {
					if err := a.writePlain("%s  %10d  %s\n", r.Hash, r.Size, listingState(r)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func listingState(r vault.Listing) string {
	if r.State == 0 {
		return "local"
	}
	return r.State.String()
}

func newEntriesCmd(a *app) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List ledger entries, including those whose content was deleted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter ledger.TxState
			if state != "" {
				s, err := ledger.ParseState(state)
				if err != nil {
					return err
				}
				filter = s
			}
			return a.withVault(cmd, func(v *vault.Vault) error {
				entries, err := v.Entries(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.writeJSON(entries)
				}
				for _, e := range entries {
					if err := a.writePlain("%s\n", formatEntryLine(e)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "state filter (pending, submitted, confirmed, failed, rejected)")
	return cmd
}
