package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ctfbot/internal/bot"
	"ctfbot/internal/config"
	"ctfbot/internal/ctf"
	"ctfbot/internal/db"
	"ctfbot/internal/events"
	"ctfbot/internal/migrate"
	"ctfbot/internal/server"
	"ctfbot/internal/store"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "ctfbot",
	Short: "CTF competition bot",
	Long: `ctfbot moderates CTF competitions in a Discord guild: one category is
the active competition, and every challenge is a text channel, a voice
channel and a signup role managed as a unit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
		if err != nil {
			return err
		}
		defer conn.Close()
		return migrate.Migrate(conn)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	rootCmd.AddCommand(migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CTFBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("token", "", "Discord bot token")
	rootCmd.PersistentFlags().String("listen", "", "ops API listen address, empty to disable")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("listen", rootCmd.PersistentFlags().Lookup("listen"))
}

func run() error {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	workspace := viper.GetString("workspace")

	token := viper.GetString("token")
	if token == "" {
		return fmt.Errorf("a bot token is required (--token or CTFBOT_TOKEN)")
	}

	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	st := store.Store{DB: conn}
	ev := events.Writer{DB: conn}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}

	b := bot.New(dg, st, cfg, log)
	manager := ctf.NewManager(dg, st, ev, b.Notifier, cfg, log)
	manager.Register(b.Router, b.Reactions, b.Confirmer)
	b.Scheduler.Broadcast = manager.BroadcastOverview

	if err := b.Open(); err != nil {
		return err
	}
	defer b.Close()

	var ops *http.Server
	if listen := viper.GetString("listen"); listen != "" {
		ops = &http.Server{
			Addr:              listen,
			Handler:           server.New(server.Config{Store: st, Events: ev, Version: version}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("ops API listening", "addr", listen)
			if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("ops API failed", "error", err)
			}
		}()
		defer ops.Close()
	}

	log.Info("ctfbot running", "workspace", workspace)
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc
	log.Info("shutting down")
	return nil
}
