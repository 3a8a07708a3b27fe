package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/marmos91/rsemgr/pkg/config"
	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func rsesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rses",
		Short: "Inspect and manage storage element definitions",
	}
	cmd.AddCommand(rsesListCmd(), rsesShowCmd(), rsesImportCmd(), rsesExportCmd())
	return cmd
}

func rsesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List storage elements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := config.NewRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			infos, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			_, _ = fmt.Fprintln(w, "TAG\tNAMING\tPROTOCOLS")
			for _, info := range infos {
				protocols := make([]string, len(info.Protocols))
				for i, p := range info.Protocols {
					protocols[i] = p.String()
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", info.Tag, info.NamingScheme, strings.Join(protocols, ", "))
			}
			return w.Flush()
		},
	}
}

func rsesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show TAG",
		Short: "Print one storage element as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := config.NewRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			info, err := repo.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(info)
		},
	}
}

func rsesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Store storage elements from a YAML list into the badger repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Repository.Type != "badger" {
				return fmt.Errorf("import needs repository.type badger, got %q", cfg.Repository.Type)
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var infos []*rse.Info
			if err := yaml.Unmarshal(data, &infos); err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}

			repo, err := config.NewRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			for _, info := range infos {
				if err := repo.Put(cmd.Context(), info); err != nil {
					return fmt.Errorf("rse %s: %w", info.Tag, err)
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d storage element(s)\n", len(infos))
			return nil
		},
	}
}

func rsesExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print every storage element as a YAML list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := config.NewRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			infos, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(infos)
		},
	}
}
