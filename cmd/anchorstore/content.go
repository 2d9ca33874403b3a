package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/anchorstore/chain"
	"github.com/bitfsorg/anchorstore/hasher"
	"github.com/bitfsorg/anchorstore/storage"
	"github.com/bitfsorg/anchorstore/tx"
	"github.com/bitfsorg/anchorstore/vault"
)

// errCorrupt makes verify and audit exit non-zero after printing their report.
var errCorrupt = errors.New("corrupted content detected")

func newPutCmd(a *app) *cobra.Command {
	var (
		algorithm   string
		chunkSize   uint64
		compression string
		meta        map[string]string
		noAnchor    bool
	)

	cmd := &cobra.Command{
		Use:   "put <file|->",
		Short: "Store a file and queue its digest for anchoring",
		Long: `Store a file, or stdin with "-", and queue its digest for anchoring.

put needs the data directory lock, so it fails while "anchorstore run" is
serving the same directory. The queued entry is submitted by the next run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := vault.PutOpts{ChunkSize: chunkSize, Metadata: meta, NoAnchor: noAnchor}
			if algorithm != "" {
				alg, err := hasher.ParseAlgorithm(algorithm)
				if err != nil {
					return err
				}
				opts.Algorithm = alg
			}
			if compression != "" {
				comp, err := storage.ParseCompression(compression)
				if err != nil {
					return err
				}
				opts.Compression = &comp
			}

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
				if _, ok := opts.Metadata["name"]; !ok {
					if opts.Metadata == nil {
						opts.Metadata = make(map[string]string)
					}
					opts.Metadata["name"] = filepath.Base(args[0])
				}
			}

			return a.withVault(cmd, func(v *vault.Vault) error {
				res, err := v.PutReader(cmd.Context(), r, opts)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.writeJSON(map[string]any{
						"hash":   res.Record.Hash.String(),
						"size":   res.Record.Size,
						"chunks": len(res.Record.Chunks),
						"queued": res.Queued,
						"state":  stateOf(res),
					})
				}
				return a.writePlain("%s  %d bytes  %s\n", res.Record.Hash, res.Record.Size, stateOf(res))
			})
		},
	}

	cmd.Flags().StringVar(&algorithm, "algorithm", "", "hash algorithm (blake3, blake2b, keccak256, sha256)")
	cmd.Flags().Uint64Var(&chunkSize, "chunk-size", 0, "chunk size in bytes")
	cmd.Flags().StringVar(&compression, "compression", "", "chunk compression (none, lzw, gzip, zstd, lz4)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata key=value pairs")
	cmd.Flags().BoolVar(&noAnchor, "no-anchor", false, "store without queueing an anchoring transaction")
	return cmd
}

func stateOf(res *vault.PutResult) string {
	if res.Entry.State == 0 {
		return "local"
	}
	return res.Entry.State.String()
}

func newGetCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <hash>",
		Short: "Write stored content to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := hasher.ParseDigest(args[0])
			if err != nil {
				return err
			}
			return a.withVault(cmd, func(v *vault.Vault) error {
				payload, err := v.Get(hash)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = a.out.Write(payload)
					return err
				}
				return os.WriteFile(output, payload, 0644)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	var anchor bool
	cmd := &cobra.Command{
		Use:   "verify <hash>",
		Short: "Re-hash stored content and compare it with its digest",
		Long: `Re-hash stored content and compare it with its digest.

With --anchor the transaction recorded for the digest is also fetched from
the node and checked to commit to the same digest. This needs [rpc] and the
funding key, as run does.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := hasher.ParseDigest(args[0])
			if err != nil {
				return err
			}
			return a.useVault(cmd, anchor, func(v *vault.Vault) error {
				ok, err := v.Verify(hash)
				if err != nil {
					return err
				}
				result := map[string]any{"hash": hash.String(), "ok": ok}
				var anchorErr error
				if anchor {
					entry, err := v.VerifyAnchor(cmd.Context(), hash)
					switch {
					case err == nil:
						result["tx_id"] = entry.TxID
					case errors.Is(err, chain.ErrAnchorMismatch), errors.Is(err, tx.ErrNotAnchorTx), errors.Is(err, vault.ErrNotAnchored):
						anchorErr = err
						result["anchor_error"] = err.Error()
					default:
						return err
					}
					result["anchor_ok"] = anchorErr == nil
				}

				if a.jsonOutput {
					if err := a.writeJSON(result); err != nil {
						return err
					}
				} else {
					status := "ok"
					if !ok {
						status = "CORRUPT"
					}
					if anchor {
						switch {
						case anchorErr == nil:
							status += fmt.Sprintf("  anchored in %s", result["tx_id"])
						case errors.Is(anchorErr, vault.ErrNotAnchored):
							status += "  not anchored"
						default:
							status += "  ANCHOR MISMATCH"
						}
					}
					if err := a.writePlain("%s  %s\n", hash, status); err != nil {
						return err
					}
				}
				if !ok {
					return errCorrupt
				}
				return anchorErr
			})
		},
	}
	cmd.Flags().BoolVar(&anchor, "anchor", false, "also check the anchor transaction on chain")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <hash>",
		Short: "Delete stored content; its ledger entry is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := hasher.ParseDigest(args[0])
			if err != nil {
				return err
			}
			return a.withVault(cmd, func(v *vault.Vault) error {
				if err := v.Delete(hash); err != nil {
					return err
				}
				return a.writePlain("deleted %s\n", hash)
			})
		},
	}
}

func newRepairCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repair <hash>",
		Short: "Re-fetch content from [storage] mirrors and replace the local copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := hasher.ParseDigest(args[0])
			if err != nil {
				return err
			}
			return a.withVault(cmd, func(v *vault.Vault) error {
				rec, err := v.Repair(cmd.Context(), hash)
				if err != nil {
					return err
				}
				return a.writePlain("repaired %s  %d bytes\n", rec.Hash, rec.Size)
			})
		},
	}
}

func newAuditCmd(a *app) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Verify every stored payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(v *vault.Vault) error {
				sum, err := v.Audit(cmd.Context(), func(r storage.AuditResult) {
					if a.jsonOutput {
						return
					}
					switch {
					case r.Err != nil:
						_ = a.writePlain("%s  error: %v\n", r.Hash, r.Err)
					case !r.OK:
						_ = a.writePlain("%s  CORRUPT\n", r.Hash)
					}
				})
				if err != nil {
					return err
				}
				if a.jsonOutput {
					corrupt := make([]string, len(sum.Corrupt))
					for i, d := range sum.Corrupt {
						corrupt[i] = d.String()
					}
					if err := a.writeJSON(map[string]any{
						"checked": sum.Checked,
						"corrupt": corrupt,
						"errors":  sum.Errors,
					}); err != nil {
						return err
					}
				} else if err := a.writePlain("checked %d, corrupt %d, errors %d\n", sum.Checked, len(sum.Corrupt), sum.Errors); err != nil {
					return err
				}
				if repair && len(sum.Corrupt) > 0 {
					remaining := sum.Corrupt[:0]
					for _, d := range sum.Corrupt {
						if _, err := v.Repair(cmd.Context(), d); err != nil {
							remaining = append(remaining, d)
							_ = a.writePlain("%s  repair failed: %v\n", d, err)
							continue
						}
						_ = a.writePlain("%s  repaired\n", d)
					}
					sum.Corrupt = remaining
				}
				if len(sum.Corrupt) > 0 {
					return fmt.Errorf("%w: %d record(s)", errCorrupt, len(sum.Corrupt))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "repair corrupt records from [storage] mirrors")
	return cmd
}
