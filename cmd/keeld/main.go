// Command keeld runs the keel database server: the binary protocol
// listener over the configured storage engines.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keeldb/keel/server"
	_ "github.com/keeldb/keel/storage/bbolt"
	_ "github.com/keeldb/keel/storage/hashmap"
)

const version = "1.7.0"

var rootCmd = &cobra.Command{
	Use:   "keeld",
	Short: "keel database server",
	Long: `keeld serves the keel document/graph database over the binary
protocol. Configuration comes from flags, the KEEL_* environment or a
config file.`,
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the binary protocol listener",
	PreRunE: bindConfig,
	RunE:    runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the keeld version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("keeld v%s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := serveCmd.PersistentFlags()
	flags.String("listen", "0.0.0.0:2424", "address the binary protocol listens on")
	flags.String("data-dir", "databases", "directory disk databases live under")
	flags.String("default-storage", "plocal", "storage type used when a request names none (memory, plocal)")
	flags.Duration("max-command-timeout", 30*time.Second, "clamp for client-supplied command timeouts")
	flags.String("root-user", "root", "server-level user for CONNECT and admin operations")
	flags.String("root-password", "", "password of the server-level user")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, versionCmd)
}

func initConfig() {
	viper.SetEnvPrefix("KEEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("keeld")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/keel")
	if err := viper.ReadInConfig(); err == nil {
		logrus.Infof("keeld: using config file %s", viper.ConfigFileUsed())
	}
}

func bindConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	rootUser := viper.GetString("root-user")
	rootPassword := viper.GetString("root-password")
	if rootPassword == "" {
		return fmt.Errorf("a root password is required; set --root-password or KEEL_ROOT_PASSWORD")
	}

	srv := server.New(server.Config{
		Addr:               viper.GetString("listen"),
		DataRoot:           viper.GetString("data-dir"),
		DefaultStorageType: viper.GetString("default-storage"),
		MaxCommandTimeout:  viper.GetDuration("max-command-timeout"),
		ShutdownUser:       rootUser,
		ShutdownPassword:   rootPassword,
		ServerUsers:        map[string]string{rootUser: rootPassword},
	})

	if err := srv.Listen(); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		logrus.Infof("keeld: received %s, shutting down", sig)
		if err := srv.Shutdown(); err != nil {
			logrus.Errorf("keeld: shutdown failed: %s", err)
		}
	}()

	return srv.Serve()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
