package main

import (
	"context"
	"fmt"

	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/marmos91/rsemgr/pkg/rsemgr"
	"github.com/spf13/cobra"
)

// bulkFunc runs one manager operation over the parsed descriptors.
type bulkFunc func(ctx context.Context, mgr *rsemgr.Manager, tag string, files []rse.File) (*rsemgr.BulkResult, error)

// bulkCmd builds a command taking an RSE tag followed by descriptors.
func bulkCmd(use, short string, parse func([]string) ([]rse.File, error), run bulkFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := parse(args[1:])
			if err != nil {
				return err
			}

			mgr, cleanup, err := openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := run(cmd.Context(), mgr, args[0], files)
			return report(cmd.OutOrStdout(), res, err)
		},
	}
}

func downloadCmd() *cobra.Command {
	var dest, domain string

	cmd := bulkCmd("download RSE FILE...", "Download files into a local directory", parseFiles,
		func(ctx context.Context, mgr *rsemgr.Manager, tag string, files []rse.File) (*rsemgr.BulkResult, error) {
			return mgr.Download(ctx, tag, files, dest, rse.Domain(domain))
		})
	cmd.Long = `Download FILE... from RSE into --dest. Each FILE is scope:name or a PFN.
Files land at <dest>/<name>.`
	cmd.Flags().StringVarP(&dest, "dest", "d", ".", "destination directory")
	cmd.Flags().StringVar(&domain, "domain", "", "network domain (lan or wan, default from config)")
	return cmd
}

func uploadCmd() *cobra.Command {
	var source, domain string

	cmd := bulkCmd("upload RSE FILE...", "Upload local files to a storage element", parseFiles,
		func(ctx context.Context, mgr *rsemgr.Manager, tag string, files []rse.File) (*rsemgr.BulkResult, error) {
			return mgr.Upload(ctx, tag, files, source, rse.Domain(domain))
		})
	cmd.Long = `Upload <source>/<name> for each FILE to RSE. Existing objects are never
overwritten.`
	cmd.Flags().StringVarP(&source, "source", "s", ".", "directory holding the local files")
	cmd.Flags().StringVar(&domain, "domain", "", "network domain (lan or wan, default from config)")
	return cmd
}

func deleteCmd() *cobra.Command {
	return bulkCmd("delete RSE FILE...", "Delete files from a storage element", parseFiles,
		func(ctx context.Context, mgr *rsemgr.Manager, tag string, files []rse.File) (*rsemgr.BulkResult, error) {
			return mgr.Delete(ctx, tag, files)
		})
}

func existsCmd() *cobra.Command {
	return bulkCmd("exists RSE FILE...", "Check whether files exist on a storage element", parseFiles,
		func(ctx context.Context, mgr *rsemgr.Manager, tag string, files []rse.File) (*rsemgr.BulkResult, error) {
			return mgr.Exists(ctx, tag, files)
		})
}

func renameCmd() *cobra.Command {
	parse := func(args []string) ([]rse.File, error) {
		files := make([]rse.File, 0, len(args))
		for _, arg := range args {
			f, err := parseRename(arg)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
		return files, nil
	}

	cmd := bulkCmd("rename RSE OLD=NEW...", "Rename files on a storage element", parse,
		func(ctx context.Context, mgr *rsemgr.Manager, tag string, files []rse.File) (*rsemgr.BulkResult, error) {
			return mgr.Rename(ctx, tag, files)
		})
	cmd.Long = `Rename files in place. OLD is scope:name or a PFN. NEW is newscope:newname,
:newname (keep the scope), newscope: (keep the name) or, for PFNs, the new PFN.`
	return cmd
}

func lfn2pfnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lfn2pfn RSE scope:name...",
		Short: "Print the physical location of catalog identities",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := parseFiles(args[1:])
			if err != nil {
				return err
			}

			mgr, cleanup, err := openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			for _, f := range files {
				pfn, err := mgr.Lfn2Pfn(cmd.Context(), args[0], f)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", f.Key(), pfn)
			}
			return nil
		},
	}
}
