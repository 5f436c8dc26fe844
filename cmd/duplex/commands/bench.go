package commands

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"duplex/internal/crypto"
	"duplex/internal/session"
)

func benchCmd() *cobra.Command {
	var mib int
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure data-channel throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return err
			}
			pair, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}

			// The sender flags rotations so it can nudge the receiver with a
			// control message before delivering chunks of a new generation.
			rotated := false
			clientCfg := cfg.Session(log)
			clientCfg.OnRotation = func(uint64) { rotated = true }
			client, err := session.NewInitiator(secret, pair.Public, clientCfg)
			if err != nil {
				return err
			}
			defer client.Close()
			daemon, err := session.NewResponder(secret, pair, cfg.Session(log))
			if err != nil {
				return err
			}
			defer daemon.Close()

			// Ping and pong, so rotations are free to step the ratchet.
			wire, err := client.EncryptControl([]byte("bench start"))
			if err != nil {
				return err
			}
			if _, err := daemon.DecryptControl(wire); err != nil {
				return err
			}
			wire, err = daemon.EncryptControl([]byte("ready"))
			if err != nil {
				return err
			}
			if _, err := client.DecryptControl(wire); err != nil {
				return err
			}
			rotated = false

			frame := make([]byte, 1024*1024)
			if _, err := rand.Read(frame); err != nil {
				return err
			}

			start := time.Now()
			for i := 0; i < mib; i++ {
				blob, err := client.EncryptData(frame)
				if err != nil {
					return fmt.Errorf("encrypt frame %d: %w", i, err)
				}
				if rotated {
					// The daemon learns the new generation from a control
					// message; its ack re-arms the next ratchet step. The ack
					// advances the generation once more, so the flag clears
					// only after both legs are done.
					nudge, err := client.EncryptControl([]byte("rekey"))
					if err != nil {
						return err
					}
					if _, err := daemon.DecryptControl(nudge); err != nil {
						return err
					}
					ack, err := daemon.EncryptControl([]byte("ok"))
					if err != nil {
						return err
					}
					if _, err := client.DecryptControl(ack); err != nil {
						return err
					}
					rotated = false
				}
				got, err := daemon.DecryptData(blob)
				if err != nil {
					return fmt.Errorf("decrypt frame %d: %w", i, err)
				}
				if len(got) != len(frame) {
					return fmt.Errorf("frame %d: length %d after round trip", i, len(got))
				}
			}
			elapsed := time.Since(start)

			st := client.Stats()
			fmt.Printf("%d MiB in %.2fs  %.1f MiB/s\n",
				mib, elapsed.Seconds(), float64(mib)/elapsed.Seconds())
			fmt.Printf("rotations %d  final generation %d  chunk size %d KiB\n",
				st.Data.Rotations, st.Data.Generation, clientCfg.ChunkSize/1024)
			return nil
		},
	}
	cmd.Flags().IntVar(&mib, "mib", 64, "payload volume in MiB")
	return cmd
}
