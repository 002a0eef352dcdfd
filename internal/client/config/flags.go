package config

import (
	"flag"
	"os"

	"github.com/hirewire/messaging/internal/flagx"
)

// parseFlags populates selected client Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   messaging endpoint host:port
//	-w string   HTTP endpoint base URL
//	-d string   local sqlite database path
//	-k string   sealed private-key file path
//	-i string   user id
//	-j string   session token
func parseFlags(config *Config) {
	args := flagx.Filter(os.Args[1:], []string{"-a", "-w", "-d", "-k", "-i", "-j"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ServerEndpointAddr, "a", config.ServerEndpointAddr, "messaging endpoint address")
	fs.StringVar(&config.ServerEndpointHTTP, "w", config.ServerEndpointHTTP, "HTTP endpoint base URL")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "local database path")
	fs.StringVar(&config.KeyFile, "k", config.KeyFile, "sealed private-key file")
	fs.StringVar(&config.UserID, "i", config.UserID, "user id")
	fs.StringVar(&config.Token, "j", config.Token, "session token")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
