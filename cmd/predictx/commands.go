package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/predictx/internal/app"
	s3blob "github.com/alanyoungcy/predictx/internal/blob/s3"
	"github.com/alanyoungcy/predictx/internal/crypto"
	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/pipeline"
	"github.com/alanyoungcy/predictx/internal/store/postgres"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if !cfg.Postgres.Enabled {
				return errors.New("migrate: postgres.enabled is false")
			}

			client, err := app.OpenPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			applied, err := client.RunMigrations(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func archiveCmd(opts *rootOptions) *cobra.Command {
	var (
		list bool
		get  string
	)

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Export settled markets and evaluated predictions to S3",
		Long: `archive runs a single archive pass using the [archive] and [s3]
sections of the config. With --list it prints the objects already archived;
--get <path> writes one archived object to stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			s3Client, err := app.OpenS3(ctx, cfg)
			if err != nil {
				return err
			}

			switch reader := s3blob.NewReader(s3Client); {
			case get != "":
				return copyArchived(ctx, reader, get, cmd.OutOrStdout())
			case list:
				return listArchived(ctx, reader, cmd.OutOrStdout())
			}

			if !cfg.Postgres.Enabled {
				return errors.New("archive: requires postgres.enabled")
			}
			pg, err := app.OpenPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer pg.Close()

			logger, closeLog := newLogger(cfg)
			defer closeLog()

			pool := pg.Pool()
			blobArchiver := s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				postgres.NewMarketStore(pool),
				postgres.NewPredictionStore(pool),
				postgres.NewAuditStore(pool),
			)
			retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
			res, err := pipeline.NewArchiver(blobArchiver, retention, logger).Run(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "archive failed", slog.String("error", err.Error()))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d markets and %d predictions settled before %s\n",
				res.Markets, res.Predictions, res.Cutoff.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list archived objects instead of running")
	cmd.Flags().StringVar(&get, "get", "", "print one archived object, e.g. archive/markets/2026-01.jsonl")
	cmd.MarkFlagsMutuallyExclusive("list", "get")
	return cmd
}

func listArchived(ctx context.Context, r domain.BlobReader, out io.Writer) error {
	infos, err := r.List(ctx, "archive/")
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSIZE\tMODIFIED")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%d\t%s\n", info.Path, info.Size, info.LastModified.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}

func copyArchived(ctx context.Context, r domain.BlobReader, path string, out io.Writer) error {
	body, err := r.Get(ctx, strings.TrimPrefix(path, "/"))
	if err != nil {
		return err
	}
	defer body.Close()
	if _, err := io.Copy(out, body); err != nil {
		return fmt.Errorf("archive: read %s: %w", path, err)
	}
	return nil
}

func encryptKeyCmd() *cobra.Command {
	var (
		keyEnv      string
		passwordEnv string
		out         string
	)

	cmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Encrypt the operator private key into a keystore file",
		Long: `encrypt-key reads a hex private key and a password from the
environment and writes an encrypted keystore usable as
chain.encrypted_key_path.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := os.Getenv(keyEnv)
			if key == "" {
				return fmt.Errorf("encrypt-key: %s is not set", keyEnv)
			}
			password := os.Getenv(passwordEnv)
			if password == "" {
				return fmt.Errorf("encrypt-key: %s is not set", passwordEnv)
			}

			data, err := crypto.EncryptKey(key, password)
			if err != nil {
				return fmt.Errorf("encrypt-key: %w", err)
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("encrypt-key: write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyEnv, "key-env", "PREDICTX_CHAIN_PRIVATE_KEY", "environment variable holding the hex private key")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "PREDICTX_CHAIN_KEY_PASSWORD", "environment variable holding the keystore password")
	cmd.Flags().StringVarP(&out, "out", "o", "operator.key.json", "output keystore path")
	return cmd
}
