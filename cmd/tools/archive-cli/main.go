package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/annel0/rewind/internal/api"
	"github.com/annel0/rewind/internal/config"
	"github.com/annel0/rewind/internal/storage"
	"github.com/spf13/cobra"
)

const timeFormat = "2006-01-02T15:04:05Z"

var (
	configPath string
	dataPath   string
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:           "archive-cli",
		Short:         "Управление архивом записей rewindd",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if dataPath != "" {
				loaded.Storage.Path = dataPath
			}
			cfg = loaded
			return nil
		},
	}

	listCmd = &cobra.Command{
		Use:     "list",
		Short:   "List archived recordings",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(func(ta *storage.TraceArchive) error { return listArchives(cmd.Context(), ta) })
		},
	}

	inspectFull bool
	inspectCmd  = &cobra.Command{
		Use:   "inspect <index>",
		Short: "Show recording details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return withArchive(func(ta *storage.TraceArchive) error {
				return inspectArchive(cmd.Context(), ta, index, inspectFull)
			})
		},
	}

	deleteCmd = &cobra.Command{
		Use:     "delete <index>",
		Short:   "Delete an archived recording",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return withArchive(func(ta *storage.TraceArchive) error {
				if err := ta.Delete(cmd.Context(), index); err != nil {
					return err
				}
				fmt.Printf("🗑️ Recording #%d deleted\n", index)
				return nil
			})
		},
	}

	tokenReadOnly bool
	tokenTTL      time.Duration
	tokenCmd      = &cobra.Command{
		Use:   "token <operator>",
		Short: "Issue an operator JWT signed with auth.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueToken(cfg.Auth.JWTSecret, args[0], tokenReadOnly, tokenTTL)
		},
	}

	secretCmd = &cobra.Command{
		Use:   "secret",
		Short: "Generate a new base64 JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := api.GenerateSecureSecret()
			if err != nil {
				return err
			}
			fmt.Println(secret)
			return nil
		},
	}

	hashCmd = &cobra.Command{
		Use:   "hash <password>",
		Short: "Print a bcrypt hash for auth.operators[].password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := api.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "путь к YAML конфигурации (по умолчанию REWIND_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&dataPath, "data", "", "каталог данных (перекрывает storage.path)")

	inspectCmd.Flags().BoolVar(&inspectFull, "full", false, "загрузить тело архива и вывести события")
	tokenCmd.Flags().BoolVar(&tokenReadOnly, "read-only", false, "токен только для чтения")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", api.DefaultTokenTTL, "срок действия")

	rootCmd.AddCommand(listCmd, inspectCmd, deleteCmd, tokenCmd, secretCmd, hashCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, storage.ErrArchiveNotFound) {
			fmt.Println("❌ Recording not found")
			os.Exit(1)
		}
		log.Fatalf("❌ %v", err)
	}
}

func parseIndex(s string) (int, error) {
	index, err := strconv.Atoi(s)
	if err != nil || index <= 0 {
		return 0, fmt.Errorf("invalid recording index %q", s)
	}
	return index, nil
}

// withArchive открывает архив на время выполнения fn
func withArchive(fn func(ta *storage.TraceArchive) error) error {
	ta, err := storage.NewTraceArchive(cfg.Storage.Path, cfg.Storage.Compression)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer ta.Close()
	return fn(ta)
}

// listArchives выводит таблицу сохранённых записей
func listArchives(ctx context.Context, ta *storage.TraceArchive) error {
	infos, err := ta.List(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("📭 Archive is empty")
		return nil
	}

	fmt.Printf("%-6s %-36s %-20s %10s %8s %8s %10s\n", "INDEX", "SESSION", "SAVED", "DURATION", "EVENTS", "OBJECTS", "SIZE")
	for _, info := range infos {
		fmt.Printf("%-6d %-36s %-20s %9.2fs %8d %8d %10s\n",
			info.RecordingIndex,
			info.SessionID,
			info.SavedAt.UTC().Format(timeFormat),
			info.Duration,
			info.Events,
			info.Objects,
			formatBytes(info.StoredBytes),
		)
	}
	fmt.Printf("\n📊 Total recordings: %d\n", len(infos))
	return nil
}

// inspectArchive выводит описание записи, с full также события трассы
func inspectArchive(ctx context.Context, ta *storage.TraceArchive, index int, full bool) error {
	info, err := ta.Info(ctx, index)
	if err != nil {
		return err
	}

	fmt.Printf("🎞️ Recording #%d\n", info.RecordingIndex)
	fmt.Printf("   Session:  %s\n", info.SessionID)
	fmt.Printf("   Created:  %s\n", info.CreatedAt.UTC().Format(timeFormat))
	fmt.Printf("   Saved:    %s\n", info.SavedAt.UTC().Format(timeFormat))
	fmt.Printf("   Duration: %.3fs\n", info.Duration)
	fmt.Printf("   Events:   %d\n", info.Events)
	fmt.Printf("   Objects:  %d\n", info.Objects)
	if info.RawBytes > 0 {
		fmt.Printf("   Size:     %s (raw %s, %.1f%%)\n",
			formatBytes(info.StoredBytes), formatBytes(info.RawBytes),
			100*float64(info.StoredBytes)/float64(info.RawBytes))
	}

	if !full {
		return nil
	}

	archive, err := ta.Load(ctx, index)
	if err != nil {
		return err
	}

	fmt.Println("\n⏱️ Events (elapsed → profile):")
	for i, ev := range archive.Events {
		fmt.Printf("   [%4d] %9.3fs → %9.3fs\n", i, ev.ElapsedTime, ev.ProfileTime)
	}

	fmt.Println("\n🧩 Objects:")
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("   ", "  ")
	for _, obj := range archive.Objects {
		if err := enc.Encode(obj); err != nil {
			return err
		}
	}
	return nil
}

// issueToken выпускает JWT оператора по секрету из конфигурации
func issueToken(secret, operator string, readOnly bool, ttl time.Duration) error {
	if secret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	auth, err := api.NewAuthenticator(secret)
	if err != nil {
		return err
	}
	token, err := auth.Issue(operator, readOnly, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
