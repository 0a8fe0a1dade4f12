// cmd/sessionctl/commands.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Corphon/SceneForge/internal/app"
	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/generation"
	"github.com/Corphon/SceneForge/internal/services"
	"github.com/Corphon/SceneForge/internal/storage"
)

// storeFlags 覆盖环境变量中的存储配置
type storeFlags struct {
	driver     string
	dataDir    string
	sqlitePath string
}

func newRootCmd() *cobra.Command {
	flags := &storeFlags{}

	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Inspect SceneForge sessions in the configured store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.driver, "driver", "", "store driver (memory, file, sqlite)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory")
	root.PersistentFlags().StringVar(&flags.sqlitePath, "sqlite-path", "", "sqlite database path")

	root.AddCommand(
		newListCmd(flags),
		newShowCmd(flags),
		newStaleCmd(flags),
		newContextCmd(flags),
		newPlanCmd(flags),
		newProjectsCmd(flags),
	)
	return root
}

// openService 打开存储并创建只读用途的会话服务。
// 这里的命令都不调用生成器，用离线生成器占位。
func openService(flags *storeFlags) (*services.SessionService, storage.Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if flags.driver != "" {
		cfg.StoreDriver = flags.driver
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.sqlitePath != "" {
		cfg.SQLitePath = flags.sqlitePath
	}

	store, err := app.OpenStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	validator, err := generation.NewValidator()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	svc := services.NewSessionService(store, generation.NewOfflineGenerator(validator, cfg.OfflineScenes), nil, services.Options{})
	return svc, store, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withService 打开服务后执行 fn，结束时关闭存储
func withService(flags *storeFlags, fn func(svc *services.SessionService) (interface{}, error)) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, store, err := openService(flags)
		if err != nil {
			return err
		}
		defer store.Close()

		out, err := fn(svc)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	}
}

func newProjectsCmd(flags *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List registered projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openService(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			projects, err := services.NewProjectService(store, nil).ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), projects)
		},
	}
}

func newListCmd(flags *storeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return withService(flags, func(svc *services.SessionService) (interface{}, error) {
			return svc.ListSessions(c.Context())
		})(c, args)
	}
	return cmd
}

func newShowCmd(flags *storeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <sessionId>",
		Short: "Print a session record",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return withService(flags, func(svc *services.SessionService) (interface{}, error) {
			return svc.GetSession(c.Context(), args[0])
		})(c, args)
	}
	return cmd
}

func newStaleCmd(flags *storeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stale <sessionId>",
		Short: "Report which artifacts are stale",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return withService(flags, func(svc *services.SessionService) (interface{}, error) {
			return svc.CheckStaleness(c.Context(), args[0])
		})(c, args)
	}
	return cmd
}

func newContextCmd(flags *storeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context <sessionId> <upTo>",
		Short: "Print the effective context before scene sequence upTo",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		upTo, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("upTo must be an integer: %w", err)
		}
		return withService(flags, func(svc *services.SessionService) (interface{}, error) {
			return svc.EffectiveContext(c.Context(), args[0], upTo)
		})(c, args)
	}
	return cmd
}

func newPlanCmd(flags *storeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <sessionId> <sceneId> <new-detail.json>",
		Short: "Preview the delta and regeneration plan of a scene edit without saving",
		Args:  cobra.ExactArgs(3),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		patch, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read edit file: %w", err)
		}
		if !json.Valid(patch) {
			return fmt.Errorf("%s is not valid JSON", args[2])
		}
		return withService(flags, func(svc *services.SessionService) (interface{}, error) {
			return svc.PreviewSceneEdit(c.Context(), args[0], args[1], patch)
		})(c, args)
	}
	return cmd
}
