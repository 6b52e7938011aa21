package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"

	"allnetd/internal/crypto"
	"allnetd/internal/metrics"
	"allnetd/internal/trust"
)

var (
	algoFlag = &cli.StringFlag{
		Name:  "algo",
		Usage: "signature algorithm: rsa, ed25519 or secp256k1",
		Value: "ed25519",
	}
	saveFlag = &cli.BoolFlag{
		Name:  "save",
		Usage: "also write the key pair under <home>/keys",
	}
	addressFlag = &cli.StringFlag{
		Name:     "address",
		Usage:    "contact address prefix (hex)",
		Required: true,
	}
	bitsFlag = &cli.IntFlag{
		Name:  "bits",
		Usage: "number of significant address bits",
		Value: 16,
	}
	pubkeyFlag = &cli.StringFlag{
		Name:  "pubkey",
		Usage: "contact public key (hex)",
	}
	selfFlag = &cli.BoolFlag{
		Name:  "self",
		Usage: "use the key saved by keygen --save instead of --pubkey",
	}
	tierFlag = &cli.IntFlag{
		Name:  "tier",
		Usage: "social distance, 1 for direct contacts",
		Value: 1,
	}
)

var (
	keygenCommand = &cli.Command{
		Name:   "keygen",
		Usage:  "Generate a signing key pair",
		Flags:  []cli.Flag{algoFlag, saveFlag},
		Action: keygen,
	}
	contactsCommand = &cli.Command{
		Name:  "contacts",
		Usage: "Manage the contact book used to score signed packets",
		Subcommands: []*cli.Command{
			{
				Name:   "add",
				Usage:  "Append a contact",
				Flags:  []cli.Flag{addressFlag, bitsFlag, algoFlag, pubkeyFlag, selfFlag, tierFlag},
				Action: contactsAdd,
			},
			{
				Name:   "list",
				Usage:  "Print the contacts the daemon would load",
				Action: contactsList,
			},
		},
	}
	statusCommand = &cli.Command{
		Name:   "status",
		Usage:  "Print the last metrics snapshot of a running daemon",
		Action: status,
	}
)

func keygen(ctx *cli.Context) error {
	algo, err := crypto.ParseAlgo(ctx.String(algoFlag.Name))
	if err != nil {
		return err
	}
	pub, priv, err := crypto.GenerateKey(algo)
	if err != nil {
		return fmt.Errorf("could not generate key: %v", err)
	}
	if ctx.Bool(saveFlag.Name) {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if err := crypto.SaveKeypair(cfg.KeysDir(), algo, pub, priv); err != nil {
			return err
		}
	}
	w := ctx.App.Writer
	fmt.Fprintf(w, "algo=%s\n", algo)
	fmt.Fprintf(w, "pub=%s\n", hex.EncodeToString(pub))
	fmt.Fprintf(w, "priv=%s\n", hex.EncodeToString(priv))
	return nil
}

func contactsAdd(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	pubHex := ctx.String(pubkeyFlag.Name)
	if ctx.Bool(selfFlag.Name) {
		algo, err := crypto.ParseAlgo(ctx.String(algoFlag.Name))
		if err != nil {
			return err
		}
		pub, _, err := crypto.LoadKeypair(cfg.KeysDir(), algo)
		if err != nil {
			return fmt.Errorf("no saved %s key: %w", algo, err)
		}
		pubHex = hex.EncodeToString(pub)
	}
	if pubHex == "" {
		return errors.New("need --pubkey or --self")
	}
	c, err := trust.ParseContact(ctx.String(addressFlag.Name), ctx.Int(bitsFlag.Name),
		ctx.String(algoFlag.Name), pubHex, ctx.Int(tierFlag.Name))
	if err != nil {
		return fmt.Errorf("bad contact: %w", err)
	}
	if err := trust.AppendContact(cfg.ContactsPath(), c); err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "added %x/%d tier=%d\n", c.Address[:(int(c.Bits)+7)/8], c.Bits, c.Tier)
	return nil
}

func contactsList(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	contacts, used, err := trust.ReadContacts(cfg.ContactsPath(), cfg.SocialBytes)
	if err != nil {
		return err
	}
	w := ctx.App.Writer
	for _, c := range contacts {
		fmt.Fprintf(w, "%x/%d algo=%s tier=%d key=%d bytes\n", c.Address[:(int(c.Bits)+7)/8], c.Bits, c.Algo, c.Tier, len(c.PubKey))
	}
	fmt.Fprintf(w, "%d contacts, %d of %d key bytes\n", len(contacts), used, cfg.SocialBytes)
	return nil
}

func status(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	snap, err := metrics.ReadSnapshot(cfg.MetricsPath())
	if err != nil {
		return errors.New("status: no metrics snapshot, is ad running?")
	}
	w := ctx.App.Writer
	fmt.Fprintf(w, "Snapshot at %s\n", snap.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(w, "  received: local=%d remote=%d invalid=%d duplicate=%d\n",
		snap.Recv.Local, snap.Recv.Remote, snap.Recv.Invalid, snap.Recv.Duplicates)
	fmt.Fprintf(w, "  forwarded: all=%d local=%d dropped=%d delivered=%d send_failures=%d\n",
		snap.Forward.Broadcast, snap.Forward.LocalOnly, snap.Forward.Dropped, snap.Forward.Delivered, snap.Forward.SendFailures)
	fmt.Fprintf(w, "  trace: deferred=%d fail_open=%d local=%d\n",
		snap.Trace.Deferred, snap.Trace.FailOpen, snap.Trace.LocalSent)
	fmt.Fprintf(w, "  signatures: valid=%d invalid=%d absent=%d contacts=%d\n",
		snap.Signature.Valid, snap.Signature.Invalid, snap.Signature.Absent, snap.Contacts)
	reasons := make([]string, 0, len(snap.DropByReason))
	for k := range snap.DropByReason {
		reasons = append(reasons, k)
	}
	sort.Strings(reasons)
	for _, k := range reasons {
		fmt.Fprintf(w, "  drop %s: %d\n", k, snap.DropByReason[k])
	}
	return nil
}
