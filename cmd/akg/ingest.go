package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/akg"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Ingest files or directories into the graph",
	Long: `Ingest parses each file, extracts entities and relationships, and
reconciles them into the graph. Directories are walked using the input
settings (supported_file_types, exclude_patterns, recursive).

Unchanged files are skipped unless --force is given.

Examples:
  akg ingest notes.md
  akg ingest ./contracts --context license_agreement
  akg ingest report.pdf --force --type report`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		docCtx, _ := cmd.Flags().GetString("context")
		docType, _ := cmd.Flags().GetString("type")

		var opts []akg.IngestOption
		if force {
			opts = append(opts, akg.WithForceReparse())
		}
		if docCtx != "" {
			opts = append(opts, akg.WithDocumentContext(docCtx))
		}
		if docType != "" {
			opts = append(opts, akg.WithDocumentType(docType))
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		var (
			results []*akg.DocumentResult
			errs    []error
		)
		for _, path := range args {
			info, err := os.Stat(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if info.IsDir() {
				rs, err := s.engine.IngestDir(ctx, path, opts...)
				results = append(results, rs...)
				if err != nil {
					errs = append(errs, err)
				}
				continue
			}
			res, err := s.engine.Ingest(ctx, path, opts...)
			if res != nil {
				results = append(results, res)
			}
			if err != nil && !errors.Is(err, akg.ErrDocumentUnchanged) {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
			}
		}

		if err := printJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
		return errors.Join(errs...)
	},
}

func init() {
	ingestCmd.Flags().Bool("force", false, "Re-ingest even if the content hash is unchanged")
	ingestCmd.Flags().String("context", "", "Document context (general, privacy_policy, terms_of_service, license_agreement, legal_document)")
	ingestCmd.Flags().String("type", "", "Document type recorded on the document")
}
