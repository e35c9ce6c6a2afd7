package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"presence-agent/internal/config"
	"presence-agent/internal/poster"
	"presence-agent/internal/scheduler"
)

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "presence-agent",
		Short:         "Autonomous social presence agent",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.ReadFile(v, cfgFile)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path (optional).")
	cmd.PersistentFlags().String("handle", "", "Platform handle the agent posts as.")
	cmd.PersistentFlags().String("character", "", "Persona YAML file.")
	cmd.PersistentFlags().String("storage", "", "Storage driver: json, sqlite or postgres.")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error.")
	bindFlag(v, cmd, "platform.handle", "handle")
	bindFlag(v, cmd, "character.path", "character")
	bindFlag(v, cmd, "storage.driver", "storage")
	bindFlag(v, cmd, "logging.level", "log-level")

	cmd.AddCommand(newRunCmd(v))
	cmd.AddCommand(newPollCmd(v))
	cmd.AddCommand(newPostCmd(v))
	return cmd
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	_ = v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag))
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the mention poller and the post loops until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, v)
			if err != nil {
				return err
			}
			defer a.Close()

			s := scheduler.New(a.logger)
			if err := a.poller.Start(ctx, s, scheduler.Between(a.cfg.Poll.MinInterval, a.cfg.Poll.MaxInterval)); err != nil {
				return fmt.Errorf("start poller: %w", err)
			}
			post := poster.New(a.composer, a.cfg.Post.WithImage, a.logger)
			if err := post.Start(s, scheduler.Between(a.cfg.Post.MinInterval, a.cfg.Post.MaxInterval), a.cfg.Post.Immediately); err != nil {
				return err
			}
			if a.cfg.Art.Enabled {
				if err := poster.StartArt(s, a.composer, scheduler.Between(a.cfg.Art.MinInterval, a.cfg.Art.MaxInterval)); err != nil {
					return err
				}
			}

			a.logger.Info("agent_running", "handle", a.cfg.Platform.Handle, "agent_id", a.cfg.AgentID, "art", a.cfg.Art.Enabled)
			s.Start(ctx)
			<-ctx.Done()
			s.Wait()
			a.logger.Info("agent_stopped")
			return nil
		},
	}
}

func newPollCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run a single mention polling pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, v)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.cursor.Load(ctx); err != nil {
				return err
			}
			out, err := a.poller.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetched=%d processed=%d skipped=%d failed=%d\n",
				out.Fetched, out.Processed, out.Skipped, out.Failed)
			return nil
		},
	}
}

func newPostCmd(v *viper.Viper) *cobra.Command {
	var art bool
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Compose and publish one original post",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, v)
			if err != nil {
				return err
			}
			defer a.Close()

			if art {
				return a.composer.ComposeArtPost(ctx)
			}
			return poster.New(a.composer, a.cfg.Post.WithImage, a.logger).RunOnce(ctx)
		},
	}
	cmd.Flags().BoolVar(&art, "art", false, "Publish a generated artwork instead of a text post.")
	return cmd
}
