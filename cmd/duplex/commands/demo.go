package commands

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"github.com/spf13/cobra"

	"duplex/internal/crypto"
	"duplex/internal/session"
)

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run both ends of a session in process",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return err
			}
			pair, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Printf("handshake key: %s\n\n", crypto.Fingerprint(pair.Public))

			scfg := cfg.Session(log)
			client, err := session.NewInitiator(secret, pair.Public, scfg)
			if err != nil {
				return err
			}
			defer client.Close()
			daemon, err := session.NewResponder(secret, pair, scfg)
			if err != nil {
				return err
			}
			defer daemon.Close()

			// Control ping and pong.
			wire, err := client.EncryptControl([]byte("status report"))
			if err != nil {
				return err
			}
			msg, err := daemon.DecryptControl(wire)
			if err != nil {
				return err
			}
			fmt.Printf("daemon <- control %q\n", msg)

			wire, err = daemon.EncryptControl([]byte("all systems go"))
			if err != nil {
				return err
			}
			msg, err = client.DecryptControl(wire)
			if err != nil {
				return err
			}
			fmt.Printf("client <- control %q\n", msg)

			// A bulk frame on the data channel.
			payload := make([]byte, 256*1024)
			if _, err := rand.Read(payload); err != nil {
				return err
			}
			blob, err := client.EncryptData(payload)
			if err != nil {
				return err
			}
			back, err := daemon.DecryptData(blob)
			if err != nil {
				return err
			}
			if !bytes.Equal(back, payload) {
				return fmt.Errorf("data frame corrupted in round trip")
			}
			chunks := (len(payload) + scfg.ChunkSize - 1) / scfg.ChunkSize
			fmt.Printf("daemon <- data   %d KiB in %d chunks\n", len(payload)/1024, chunks)

			// Force a rotation; the daemon learns the new generation from the
			// next control message, then reads data sealed under it.
			if err := client.RotateKeys(); err != nil {
				return err
			}
			wire, err = client.EncryptControl([]byte("rekey"))
			if err != nil {
				return err
			}
			if _, err := daemon.DecryptControl(wire); err != nil {
				return err
			}
			blob, err = client.EncryptData([]byte("fresh generation"))
			if err != nil {
				return err
			}
			msg, err = daemon.DecryptData(blob)
			if err != nil {
				return err
			}
			fmt.Printf("daemon <- data   %q after rotation\n\n", msg)

			printStats("client", client.Stats())
			printStats("daemon", daemon.Stats())
			return nil
		},
	}
}

func printStats(name string, st session.Stats) {
	fmt.Printf("%s  %s\n", name, st.ID)
	fmt.Printf("  control: sent %d  received %d  steps %d  skipped %d\n",
		st.Control.MessagesSent, st.Control.MessagesReceived,
		st.Control.RatchetSteps, st.Control.SkippedKeys)
	fmt.Printf("  data:    enc %d B  dec %d B  rotations %d  generation %d\n",
		st.Data.BytesEncrypted, st.Data.BytesDecrypted,
		st.Data.Rotations, st.Data.Generation)
}
