// devicekey manages the local device identity used by the trust relay.
// The X25519 private key is stored in the platform keychain and never
// written to disk or printed.
package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/unbound/trust-relay-go/internal/identity"
	"github.com/unbound/trust-relay-go/internal/model"
	"github.com/unbound/trust-relay-go/internal/service"
)

var (
	userID     string
	reset      bool
	deviceName string
	deviceType string
	ttlSeconds int
)

var rootCmd = &cobra.Command{
	Use:           "devicekey",
	Short:         "Manage this machine's device identity for the trust relay",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Create a device key pair in the platform keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := identity.NewManager()
		if err != nil {
			return err
		}

		id, err := mgr.Generate(userID, reset)
		if err != nil {
			return err
		}

		fmt.Printf("device id:  %s\n", id.DeviceID)
		fmt.Printf("public key: %s\n", base64.StdEncoding.EncodeToString(id.PublicKey))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored device id and public key",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := identity.NewManager()
		if err != nil {
			return err
		}

		id, err := mgr.Current(userID)
		if err != nil {
			return err
		}

		fmt.Printf("device id:  %s\n", id.DeviceID)
		fmt.Printf("public key: %s\n", base64.StdEncoding.EncodeToString(id.PublicKey))
		return nil
	},
}

var payloadCmd = &cobra.Command{
	Use:   "payload",
	Short: "Emit a pairing payload for this device, for QR display",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := identity.NewManager()
		if err != nil {
			return err
		}

		id, err := mgr.Current(userID)
		if err != nil {
			return err
		}

		p := service.Payload{
			Version:         service.PayloadVersion,
			DeviceID:        id.DeviceID,
			DeviceName:      deviceName,
			DeviceType:      model.DeviceType(deviceType),
			DeviceRole:      model.DeviceRoleTrustedExecutor,
			DevicePublicKey: base64.StdEncoding.EncodeToString(id.PublicKey),
			IssuedAt:        time.Now().Unix(),
			ExpiresIn:       ttlSeconds,
		}

		encoded, err := p.Encode()
		if err != nil {
			return err
		}

		fmt.Println(encoded)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the stored device identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := identity.NewManager()
		if err != nil {
			return err
		}

		if err := mgr.Reset(userID); err != nil {
			return err
		}

		fmt.Println("device identity removed")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "user id the identity belongs to")
	_ = rootCmd.MarkPersistentFlagRequired("user")

	generateCmd.Flags().BoolVar(&reset, "reset", false, "replace an existing identity")

	payloadCmd.Flags().StringVar(&deviceName, "name", "", "device name shown to the scanning device")
	payloadCmd.Flags().StringVar(&deviceType, "type", string(model.DeviceTypeMacOS), "device type (macos, ios, cli)")
	payloadCmd.Flags().IntVar(&ttlSeconds, "ttl", 300, "payload validity in seconds")
	_ = payloadCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(generateCmd, showCmd, payloadCmd, resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
