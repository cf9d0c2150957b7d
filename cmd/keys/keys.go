package keys

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"positionengine/src/connectors"
	"positionengine/src/security"

	logger "github.com/sirupsen/logrus"
)

type credentialStore interface {
	Store(ctx context.Context, userID, exchangeID uint, creds connectors.Credentials) error
	Credentials(ctx context.Context, userID, exchangeID uint) (connectors.Credentials, error)
}

type exchangeResolver interface {
	ResolveExchange(selector string) uint
}

// Keys is an interactive shell that stores encrypted exchange credentials.
type Keys struct {
	Store    credentialStore
	Resolver exchangeResolver
	Config   Config
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Available commands:")
	fmt.Fprintln(out, "  help                                                     Show this help message")
	fmt.Fprintln(out, "  shutdown                                                 Exit the application")
	fmt.Fprintln(out, "  set_key <user_id> <exchange|-> <key> <secret> [passphrase]  Store exchange keys for a user")
	fmt.Fprintln(out, "  check <user_id> <exchange|->                             Verify stored keys can be decrypted")
	fmt.Fprintln(out)
}

// Run reads commands from in until shutdown, EOF or ctx is done.
func (k *Keys) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewScanner(in)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "cmd> ")

		if !reader.Scan() {
			return reader.Err()
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		switch parts[0] {

		case "shutdown":
			fmt.Fprintln(out, "Exiting CLI...")
			return nil

		case "help":
			printUsage(out)

		case "set_key":
			if len(parts) < 4 {
				printUsage(out)
				continue
			}
			userID, exchangeID, err := k.target(parts[1], parts[2])
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			creds := connectors.Credentials{APIKey: parts[3]}
			if len(parts) > 4 {
				creds.APISecret = parts[4]
			}
			if len(parts) > 5 {
				creds.Passphrase = parts[5]
			}
			if creds.APISecret == "" {
				fmt.Fprintln(out, "secret is required")
				continue
			}

			if err := k.Store.Store(ctx, userID, exchangeID, creds); err != nil {
				logger.WithError(err).WithField("user_id", userID).Error("Failed to store exchange keys")
				fmt.Fprintln(out, "failed to store keys")
				continue
			}
			fmt.Fprintf(out, "keys stored for user %d on exchange %d (key %s)\n", userID, exchangeID, security.Mask(creds.APIKey))

		case "check":
			if len(parts) < 3 {
				printUsage(out)
				continue
			}
			userID, exchangeID, err := k.target(parts[1], parts[2])
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			creds, err := k.Store.Credentials(ctx, userID, exchangeID)
			if err != nil {
				fmt.Fprintf(out, "no usable keys for user %d on exchange %d\n", userID, exchangeID)
				continue
			}
			fmt.Fprintf(out, "keys ok for user %d on exchange %d (key %s)\n", userID, exchangeID, security.Mask(creds.APIKey))

		default:
			fmt.Fprintln(out, "Unknown command:", parts[0])
			printUsage(out)
		}
	}
}

func (k *Keys) target(user, exchange string) (uint, uint, error) {
	userID, err := strconv.ParseUint(user, 10, 32)
	if err != nil || userID == 0 {
		return 0, 0, fmt.Errorf("invalid user id %q", user)
	}
	if exchange == "-" {
		exchange = k.Config.DefaultExchange
	}
	exchangeID := k.Resolver.ResolveExchange(exchange)
	if exchangeID == 0 {
		return 0, 0, fmt.Errorf("unsupported exchange %q", exchange)
	}
	return uint(userID), exchangeID, nil
}
