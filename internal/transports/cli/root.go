package cli

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"boardgate/internal/app"
	"boardgate/internal/config"
	"boardgate/internal/gateway"
	"boardgate/pkg/logger"
)

const cliClient = "cli"

// New создает корневую CLI-команду.
func New(version string) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "boardgate",
		Short:         "Шлюз команд arduino-cli по HTTP и websocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "путь к конфигу (.yaml, .yml, .toml)")

	load := func() (config.Config, zerolog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return cfg, zerolog.Nop(), fmt.Errorf("load config: %w", err)
		}
		lg := logger.New("boardgate", logger.Options{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		return cfg, lg, nil
	}

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newServeCmd(load))
	root.AddCommand(newProbeCmd(load))
	root.AddCommand(newRunCmd(load))

	return root
}

type loader func() (config.Config, zerolog.Logger, error)

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version)
		},
	}
}

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP и событийный транспорты",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.NewApp(ctx, cfg, lg)
			if err != nil {
				return err
			}
			return a.Serve(ctx)
		},
	}
}

func newProbeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Проверить доступность arduino-cli",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			runner, err := app.NewRunner(cfg)
			if err != nil {
				return err
			}
			version, err := app.ProbeBinary(cmd.Context(), cfg, runner)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", runner.Path(), version)
			return nil
		},
	}
}

func newRunCmd(load loader) *cobra.Command {
	var (
		coreName   string
		sketchPath string
		fqbn       string
		port       string
	)

	cmd := &cobra.Command{
		Use:   "run <operation>",
		Short: "Выполнить одну операцию и вывести ответ в JSON",
		Long:  "Операции: " + strings.Join(operationNames(), ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := load()
			if err != nil {
				return err
			}
			runner, err := app.NewRunner(cfg)
			if err != nil {
				return err
			}
			svc, err := app.NewService(cfg, runner, lg)
			if err != nil {
				return err
			}

			fields := map[string]string{}
			flags := cmd.Flags()
			for name, value := range map[string]string{
				"core-name":   coreName,
				"sketch-path": sketchPath,
				"fqbn":        fqbn,
				"port":        port,
			} {
				if flags.Changed(name) {
					fields[strings.ReplaceAll(name, "-", "_")] = value
				}
			}
			payload, err := json.Marshal(fields)
			if err != nil {
				return err
			}

			resp := svc.Execute(cmd.Context(), cliClient, args[0], payload)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("operation %s failed", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&coreName, "core-name", "", "платформа для install-core, например arduino:avr")
	cmd.Flags().StringVar(&sketchPath, "sketch-path", "", "путь к скетчу")
	cmd.Flags().StringVar(&fqbn, "fqbn", "", "полное имя платы")
	cmd.Flags().StringVar(&port, "port", "", "порт устройства для upload-sketch")
	return cmd
}

func operationNames() []string {
	ops := gateway.Catalogue()
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, op.Name)
	}
	sort.Strings(names)
	return names
}

