package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"leadhero/pkg/admission"
	"leadhero/pkg/store"
)

// storeOpener opens the store named by a database URL.
type storeOpener func(databaseURL string) (store.Store, error)

func openGormStore(databaseURL string) (store.Store, error) {
	return store.NewGormStore(databaseURL)
}

func rootCmd(open storeOpener) *cobra.Command {
	var (
		configPath  string
		databaseURL string
	)
	cmd := &cobra.Command{
		Use:           "leadctl",
		Short:         "Administrative tasks for lead forms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "forms service config file (reads databaseURL)")
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres DSN (overrides config and DATABASE_URL)")

	connect := func() (store.Store, error) {
		dsn, err := resolveDatabaseURL(databaseURL, configPath)
		if err != nil {
			return nil, err
		}
		return open(dsn)
	}

	cmd.AddCommand(reconcileCmd(connect), quotaCmd(connect), &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "leadctl version %s\n", Version)
		},
	})
	return cmd
}

func reconcileCmd(connect func() (store.Store, error)) *cobra.Command {
	var (
		formID string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reset form lead counters to the number of visitor leads stored",
		Long: `Lead counters only ever grow during normal operation: deleting a lead
does not give quota back, and a failed increment leaves the counter behind.
reconcile rewrites each counter to the number of visitor leads currently
stored. Owner and test submissions are never counted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := connect()
			if err != nil {
				return err
			}
			corrections, err := st.ReconcileLeadCounts(cmd.Context(), strings.TrimSpace(formID), dryRun)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, c := range corrections {
				fmt.Fprintf(out, "form %s: %d -> %d\n", c.FormID, c.Before, c.After)
			}
			verb := "corrected"
			if dryRun {
				verb = "would be corrected"
			}
			fmt.Fprintf(out, "%d form(s) %s\n", len(corrections), verb)
			return nil
		},
	}
	cmd.Flags().StringVar(&formID, "form", "", "only reconcile this form")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report corrections without writing them")
	return cmd
}

func quotaCmd(connect func() (store.Store, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "quota OWNER_ID",
		Short: "Show an owner's lead quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := connect()
			if err != nil {
				return err
			}
			q, err := admission.NewQuotaPolicy(st).Check(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			limit := "unlimited"
			if q.Limit != nil {
				limit = fmt.Sprint(*q.Limit)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "owner %s: %s leads (limit %s, can accept: %t)\n",
				args[0], q.CountString(), limit, q.CanCreate)
			return nil
		},
	}
}

func resolveDatabaseURL(flagValue, configPath string) (string, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("no --database-url or DATABASE_URL, and config unreadable: %w", err)
	}
	var cfg struct {
		DatabaseURL string `yaml:"databaseURL"`
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("parse config: %w", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return "", errors.New("databaseURL is not set")
	}
	return cfg.DatabaseURL, nil
}
