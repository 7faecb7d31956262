package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v6/osfs"
	"github.com/spf13/cobra"

	"github.com/ardsquest/cxr-annotator/internal/domain"
	"github.com/ardsquest/cxr-annotator/internal/store"
	"github.com/ardsquest/cxr-annotator/webapp"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export username",
	Short: "Print a user's annotations as tab-separated values",
	Long: `Print one user's persisted annotations as tab-separated values on
stdout, in the same column order as the stored files. By default every
day file of the user is merged; --date narrows the export to one day.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		config, err := webapp.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		username := args[0]
		role := config.RoleOf(username)
		if role == "" {
			return fmt.Errorf("user %s is not in the config", username)
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		st := store.New(osfs.New(config.Data.AnnotationsDir), logger)

		var filenames []string
		if date, _ := cmd.Flags().GetString("date"); date != "" {
			day, err := time.Parse("2006-01-02", date)
			if err != nil {
				return fmt.Errorf("invalid --date %q: %w", date, err)
			}
			filenames = []string{store.Filename(username, role, day)}
		} else {
			entries, err := os.ReadDir(config.Data.AnnotationsDir)
			if err != nil {
				return fmt.Errorf("failed to list annotations dir: %w", err)
			}
			prefix := fmt.Sprintf("annotations_%s_%s_", username, role)
			for _, e := range entries {
				if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".csv") {
					filenames = append(filenames, e.Name())
				}
			}
			sort.Strings(filenames)
		}

		var records []*domain.Annotation
		for _, filename := range filenames {
			records = append(records, st.Read(filename, role)...)
		}
		if len(records) == 0 {
			return fmt.Errorf("no annotations found for %s", username)
		}
		for _, row := range store.Table(role, records) {
			fmt.Println(strings.Join(row, "\t"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("date", "", "Day to export (YYYY-MM-DD, default today)")
}
