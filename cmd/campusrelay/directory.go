package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"campusrelay/internal/config"
	"campusrelay/internal/database"
	"campusrelay/pkg/types"
)

func newDirectoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Provision schools, counselors and students",
	}

	cmd.AddCommand(newAddSchoolCmd())
	cmd.AddCommand(newAddCounselorCmd())
	cmd.AddCommand(newAddStudentCmd())
	return cmd
}

// withDirectory opens the configured database for one provisioning call.
func withDirectory(cmd *cobra.Command, fn func(ctx context.Context, m *database.Manager) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	m, err := database.NewManager(cfg.Database, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer m.Close()
	return fn(cmd.Context(), m)
}

func newAddSchoolCmd() *cobra.Command {
	var s types.School

	cmd := &cobra.Command{
		Use:   "add-school",
		Short: "Add a campus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, func(ctx context.Context, m *database.Manager) error {
				if err := m.CreateSchool(ctx, s); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added school %s\n", s.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&s.ID, "id", "", "campus id")
	cmd.Flags().StringVar(&s.Name, "name", "", "display name")
	cmd.Flags().StringVar(&s.Location, "location", "", "optional location")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAddCounselorCmd() *cobra.Command {
	var c types.Counselor

	cmd := &cobra.Command{
		Use:   "add-counselor",
		Short: "Add a counselor account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, func(ctx context.Context, m *database.Manager) error {
				if err := m.CreateCounselor(ctx, c); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added counselor %s at %s\n", c.UserID, c.CampusID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&c.UserID, "user", "", "counselor user id")
	cmd.Flags().StringVar(&c.Name, "name", "", "display name")
	cmd.Flags().StringVar(&c.Email, "email", "", "contact email")
	cmd.Flags().StringVar(&c.CampusID, "campus", "", "campus id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("campus")
	return cmd
}

func newAddStudentCmd() *cobra.Command {
	var s types.Student

	cmd := &cobra.Command{
		Use:   "add-student",
		Short: "Add a student account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, func(ctx context.Context, m *database.Manager) error {
				if err := m.CreateStudent(ctx, s); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added student %s at %s\n", s.UserID, s.CampusID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&s.UserID, "user", "", "student user id")
	cmd.Flags().StringVar(&s.CampusID, "campus", "", "campus id")
	cmd.Flags().BoolVar(&s.Paid, "paid", false, "paid subscriber")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("campus")
	return cmd
}
