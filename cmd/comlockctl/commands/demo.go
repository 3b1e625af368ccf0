package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ElMoorish/ComLock/pkg/braid"
	"github.com/ElMoorish/ComLock/pkg/config"
	"github.com/ElMoorish/ComLock/pkg/cover"
	"github.com/ElMoorish/ComLock/pkg/exchange"
	"github.com/ElMoorish/ComLock/pkg/fragment"
	"github.com/ElMoorish/ComLock/pkg/handshake"
	"github.com/ElMoorish/ComLock/pkg/identity"
	"github.com/ElMoorish/ComLock/pkg/sas"
)

// demoCmd runs a complete loopback handshake between two freshly generated
// identities, steps the braid once in each direction, and prints the
// resulting short authentication string, the way a developer would sanity
// check the protocol end to end without a network.
func demoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a loopback handshake and message exchange between two identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}
	return cmd
}

func runDemo() error {
	cfg := config.Defaults()

	alice, err := identity.New()
	if err != nil {
		return fmt.Errorf("generating alice's identity: %w", err)
	}
	bob, err := identity.New()
	if err != nil {
		return fmt.Errorf("generating bob's identity: %w", err)
	}

	bobPrekey, err := exchange.NewECDH()
	if err != nil {
		return fmt.Errorf("generating bob's signed prekey: %w", err)
	}
	prekeySig := bob.Sign(bobPrekey.MarshalPublicKey())

	bundle := &handshake.Bundle{
		IdentityPK:      bob.SigningPublic,
		IdentityDHPub:   bob.IdentityDH.MarshalPublicKey(),
		SignedPrekeyPub: bobPrekey.MarshalPublicKey(),
		PrekeySig:       prekeySig,
		LongTermKEMPK:   bob.KEM.PublicKey,
	}

	hello, aliceResult, err := handshake.Initiate(alice, bundle)
	if err != nil {
		return fmt.Errorf("alice initiating handshake: %w", err)
	}

	ledger := handshake.NewOneTimePrekeyLedger()
	bobResult, err := handshake.Accept(ledger, &handshake.AcceptorKeys{
		SignedPrekey: bobPrekey,
		LongTermKEM:  bob.KEM.PrivateKey,
	}, hello)
	if err != nil {
		return fmt.Errorf("bob accepting handshake: %w", err)
	}

	aliceSession, err := braid.NewWithConfig(aliceResult.RootKey, nil, bob.KEM.PublicKey, cfg)
	if err != nil {
		return fmt.Errorf("starting alice's braid session: %w", err)
	}
	bobSession, err := braid.NewWithConfig(bobResult.RootKey, nil, alice.KEM.PublicKey, cfg)
	if err != nil {
		return fmt.Errorf("starting bob's braid session: %w", err)
	}

	if err := aliceSession.SetRemotePublic(bobSession.OurClassicalPublic()); err != nil {
		return fmt.Errorf("seeding alice's remote classical key: %w", err)
	}
	if err := bobSession.SetRemotePublic(aliceSession.OurClassicalPublic()); err != nil {
		return fmt.Errorf("seeding bob's remote classical key: %w", err)
	}

	// Each side must be able to decapsulate against the long-term KEM key the
	// other side just encapsulated toward.
	aliceSession.SetPendingLocalKEM(alice.KEM.PrivateKey, alice.KEM.PublicKey)
	bobSession.SetPendingLocalKEM(bob.KEM.PrivateKey, bob.KEM.PublicKey)

	fmt.Println("Handshake complete. Stepping the braid once in each direction...")

	header, ciphertext, err := aliceSession.StepSend([]byte("hello bob"), nil)
	if err != nil {
		return fmt.Errorf("alice sending first message: %w", err)
	}

	// The first message's KEM contribution travels the same fragmented path
	// a real transport would use instead of being handed to bob whole.
	reassembled, err := reassembleKEM(header.KEMCiphertext, cfg)
	if err != nil {
		return fmt.Errorf("fragmenting alice's kem ciphertext: %w", err)
	}

	plaintext, err := bobSession.StepRecv(header, ciphertext, nil, reassembled)
	if err != nil {
		return fmt.Errorf("bob receiving first message: %w", err)
	}
	fmt.Printf("Bob decrypted: %q\n", plaintext)

	replyHeader, replyCiphertext, err := bobSession.StepSend([]byte("hello alice"), nil)
	if err != nil {
		return fmt.Errorf("bob sending reply: %w", err)
	}
	replyReassembled, err := reassembleKEM(replyHeader.KEMCiphertext, cfg)
	if err != nil {
		return fmt.Errorf("fragmenting bob's kem ciphertext: %w", err)
	}
	replyPlaintext, err := aliceSession.StepRecv(replyHeader, replyCiphertext, nil, replyReassembled)
	if err != nil {
		return fmt.Errorf("alice receiving reply: %w", err)
	}
	fmt.Printf("Alice decrypted: %q\n", replyPlaintext)

	words, err := sas.Compute(alice.SigningPublic, bob.SigningPublic, aliceResult.RootKey)
	if err != nil {
		return fmt.Errorf("computing short authentication string: %w", err)
	}
	fmt.Printf("Short authentication string: %v\n", words)

	if err := runCoverSample(ciphertext, cfg); err != nil {
		return fmt.Errorf("sampling cover-traffic scheduler: %w", err)
	}

	return nil
}

// reassembleKEM splits kemCiphertext into cfg.Transport.FragmentSize pieces
// and immediately reassembles them, standing in for the fragments a real
// onionnet transport would carry one at a time. kemCiphertext is nil once
// the opportunistic KEM has already been consumed for the session.
func reassembleKEM(kemCiphertext []byte, cfg config.Config) ([]byte, error) {
	if kemCiphertext == nil {
		return nil, nil
	}

	fragments, err := fragment.Split(kemCiphertext, cfg.Transport.FragmentSize)
	if err != nil {
		return nil, fmt.Errorf("splitting: %w", err)
	}

	reassembler := fragment.NewReassemblerWithConfig(cfg)
	var out []byte
	for _, f := range fragments {
		ciphertext, complete, err := reassembler.Absorb(f)
		if err != nil {
			return nil, fmt.Errorf("absorbing fragment: %w", err)
		}
		if complete {
			out = ciphertext
			break
		}
	}
	return out, nil
}

// runCoverSample drives the cover-traffic scheduler for a short, bounded
// window over a one-message queue, printing how many real versus cover
// packets it emitted, to exercise the scheduler the way a live session's
// sender loop would.
func runCoverSample(realPayload []byte, cfg config.Config) error {
	rate, err := cover.ParseRate(cfg.Cover.Rate)
	if err != nil {
		return err
	}

	queue := cover.NewQueue(cfg.Cover.QueueCapacity)
	if err := queue.Enqueue(realPayload); err != nil {
		return fmt.Errorf("enqueuing sample message: %w", err)
	}

	scheduler := cover.NewWithConfig(queue, rate, cfg)
	go scheduler.Run()
	defer scheduler.Stop()

	var real, coverCount int
	deadline := time.After(2 * time.Second)
	for real+coverCount < 3 {
		select {
		case emission, ok := <-scheduler.Emissions():
			if !ok {
				fmt.Printf("Cover scheduler sample: %d real, %d cover\n", real, coverCount)
				return nil
			}
			if emission.Real {
				real++
			} else {
				coverCount++
			}
		case <-deadline:
			fmt.Printf("Cover scheduler sample: %d real, %d cover (timed out)\n", real, coverCount)
			return nil
		}
	}
	fmt.Printf("Cover scheduler sample: %d real, %d cover\n", real, coverCount)
	return nil
}
